// Package fleet fans one operation out over every (device, package) pair a
// target spec resolves to, one worker per device, collecting per-device
// outcomes instead of short-circuiting the run.
package fleet

import (
	"context"
	"errors"
	"fmt"

	"adbfleet/internal/lg"
	"adbfleet/internal/target"
)

// Operation is a side-effecting callback applied to one resolved
// (package, device) pair. Failures propagate and abort the remaining
// packages on that device only.
type Operation func(ctx context.Context, pkg, device string) error

// Summary reports the per-device outcome of one dispatch, in input device
// order within each slice.
type Summary struct {
	// Affected devices had at least one operation invoked and none fail.
	Affected []string
	// Skipped devices resolved to nothing actionable under the policy.
	Skipped []string
	// Failed maps a device to the error that aborted its operations.
	Failed map[string]error
}

// errSkipped marks a device whose resolution was skipped by policy.
// Internal to the dispatcher; callers see the device in Summary.Skipped.
var errSkipped = errors.New("skipped by policy")

// Dispatcher resolves targets per device and applies operations through a
// bounded worker pool. Commands within one device stay strictly
// sequential; only distinct devices overlap.
type Dispatcher struct {
	resolver   *target.Resolver
	maxWorkers int
}

func NewDispatcher(resolver *target.Resolver, maxWorkers int) *Dispatcher {
	return &Dispatcher{resolver: resolver, maxWorkers: maxWorkers}
}

// Dispatch applies op to every package spec resolves to on every device.
// The returned error covers setup problems only (an invalid spec);
// per-device failures land in the Summary.
func (d *Dispatcher) Dispatch(ctx context.Context, devices []string, spec target.Spec, policy target.Policy, op Operation) (Summary, error) {
	if !spec.Valid() {
		return Summary{}, target.ErrInvalidSpec
	}

	jobs := make([]Job[string], len(devices))
	for i, device := range devices {
		jobs[i] = Job[string]{Payload: device, Fn: func(ctx context.Context, device string) error {
			return d.runDevice(ctx, device, spec, policy, op)
		}}
	}

	pool := NewPool[string](d.maxWorkers)
	results := pool.Run(ctx, jobs)

	summary := Summary{Failed: make(map[string]error)}
	for _, res := range results {
		switch {
		case res.Err == nil:
			summary.Affected = append(summary.Affected, res.Payload)
		case errors.Is(res.Err, errSkipped):
			summary.Skipped = append(summary.Skipped, res.Payload)
		default:
			lg.FromContext(ctx).Error("device operation failed",
				lg.String("device", res.Payload), lg.Error(res.Err))
			summary.Failed[res.Payload] = res.Err
		}
	}
	return summary, nil
}

func (d *Dispatcher) runDevice(ctx context.Context, device string, spec target.Spec, policy target.Policy, op Operation) error {
	matches, err := d.resolver.Resolve(ctx, device, spec)
	if err != nil {
		return err
	}
	if target.Decide(ctx, device, spec, matches, policy) == target.Skip {
		return errSkipped
	}
	for _, pkg := range matches {
		if err := op(ctx, pkg, device); err != nil {
			return fmt.Errorf("%s on %s: %w", pkg, device, err)
		}
	}
	return nil
}
