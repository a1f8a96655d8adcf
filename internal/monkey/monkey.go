// Package monkey drives the platform's pseudo-random stress tester against
// one package on one device, with optional hooks around the run.
package monkey

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"

	"adbfleet/internal/lg"
)

// Hook runs immediately before or after the remote stress command. Its
// failure propagates like any other operation failure.
type Hook func(ctx context.Context, pkg, device string) error

// Options tunes one stress run. Zero values fall back to the runner's
// configured defaults.
type Options struct {
	Seed   *int // pinned seed, random within the configured range if nil
	Events int  // injected event count
	Before Hook
	After  Hook
	Quiet  bool // suppress the start log
}

type shellRunner interface {
	Shell(ctx context.Context, device string, args ...string) (string, error)
}

// Runner issues monkey commands. Seed range and default event count come
// from configuration, not package constants, so tests can pin them.
type Runner struct {
	exec          shellRunner
	seedMin       int
	seedMax       int
	defaultEvents int
}

func NewRunner(exec shellRunner, seedMin, seedMax, defaultEvents int) *Runner {
	return &Runner{exec: exec, seedMin: seedMin, seedMax: seedMax, defaultEvents: defaultEvents}
}

// Run executes one stress iteration against pkg on device.
func (r *Runner) Run(ctx context.Context, pkg, device string, opts Options) error {
	seed := r.seedMin + rand.Intn(r.seedMax-r.seedMin+1)
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	events := opts.Events
	if events <= 0 {
		events = r.defaultEvents
	}

	if opts.Before != nil {
		if err := opts.Before(ctx, pkg, device); err != nil {
			return fmt.Errorf("before hook: %w", err)
		}
	}
	if !opts.Quiet {
		lg.FromContext(ctx).Info("starting monkey",
			lg.Int("seed", seed), lg.Int("events", events),
			lg.String("device", device), lg.String("package", pkg))
	}
	_, err := r.exec.Shell(ctx, device, "monkey",
		"-p", pkg, "-s", strconv.Itoa(seed), strconv.Itoa(events))
	if err != nil {
		return err
	}
	if opts.After != nil {
		if err := opts.After(ctx, pkg, device); err != nil {
			return fmt.Errorf("after hook: %w", err)
		}
	}
	return nil
}

// ForceStart issues the minimal forcing interaction: a single monkey event
// with a pinned zero seed and logging suppressed, just enough for the
// package's process to appear in the process table.
func (r *Runner) ForceStart(ctx context.Context, pkg, device string) error {
	seed := 0
	return r.Run(ctx, pkg, device, Options{Seed: &seed, Events: 1, Quiet: true})
}
