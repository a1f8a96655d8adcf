// Package heapdump captures a converted heap dump from a running package.
// The remote dump primitive returns immediately and runs as a detached
// job with no completion signal, so the coordinator polls the dump file's
// size and treats the first plateau as done. A momentarily stalled but
// still-writing dump is misread as complete; that tolerance is accepted.
package heapdump

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"adbfleet/internal/lg"
	"adbfleet/internal/ops"
)

// Heap dumps need the dumpheap service, introduced with API 11.
const minAPIVersion = 11

// ErrPollDeadline is returned when the dump file never stops growing
// within the configured number of polls. The reference tooling waited
// forever on a crashed dump job; this bound replaces that.
var ErrPollDeadline = errors.New("heap dump did not stabilize before the poll deadline")

var errStillGrowing = errors.New("dump still growing")

type deviceExec interface {
	APIVersion(ctx context.Context, device string) (int, error)
	Shell(ctx context.Context, device string, args ...string) (string, error)
	FileSize(ctx context.Context, remotePath, device string) (int64, error)
	Pull(ctx context.Context, remotePath, localPath, device string) error
	Remove(ctx context.Context, remotePath, device string) error
}

// Locator finds the pid of a running package.
type Locator interface {
	Locate(ctx context.Context, pkg, device string, maxRetries int) (string, error)
}

// Config carries the knobs the pipeline used to hide in constants.
type Config struct {
	RemotePath      string        // well-known temp path for the raw dump
	PollInterval    time.Duration // delay between size queries
	PollMaxAttempts int           // size queries allowed after the first
	LocateRetries   int           // forcing retries for pid discovery
}

// Coordinator owns no state across calls; each Dump invocation is an
// independent job, and callers must not run two against the same device
// concurrently since both would observe the same remote temp path.
type Coordinator struct {
	exec    deviceExec
	locator Locator
	conv    Converter
	cfg     Config
}

func NewCoordinator(exec deviceExec, locator Locator, conv Converter, cfg Config) *Coordinator {
	return &Coordinator{exec: exec, locator: locator, conv: conv, cfg: cfg}
}

// Dump captures, retrieves and converts a heap dump of pkg on device into
// localDir, returning the converted file's path. label, when non-empty,
// becomes part of the filename. Two outcomes are skips rather than
// failures and return an empty path with a nil error: a platform too old
// to dump, and a dump that came back empty.
func (c *Coordinator) Dump(ctx context.Context, pkg, device, localDir, label string) (string, error) {
	logger := lg.FromContext(ctx).With(
		lg.String("job_id", uuid.New().String()),
		lg.String("device", device),
		lg.String("package", pkg))
	ctx = lg.Attach(ctx, logger)

	api, err := c.exec.APIVersion(ctx, device)
	if err != nil {
		return "", err
	}
	if api < minAPIVersion {
		logger.Warn("heap dumps need api 11 or newer, skipping device", lg.Int("api", api))
		return "", nil
	}

	pid, err := c.locator.Locate(ctx, pkg, device, c.cfg.LocateRetries)
	if err != nil {
		return "", err
	}

	// A stale artifact from an earlier run would satisfy the plateau
	// check instantly, so clear the path before triggering the dump.
	if err := c.exec.Remove(ctx, c.cfg.RemotePath, device); err != nil {
		return "", err
	}
	if _, err := c.exec.Shell(ctx, device, "am", "dumpheap", pid, c.cfg.RemotePath); err != nil {
		return "", err
	}
	if err := c.pollUntilStable(ctx, device); err != nil {
		return "", err
	}

	name := ops.ArtifactName(device, []string{pkg, label}, "hprof")
	converted := filepath.Join(localDir, name)
	raw := converted + "-nonconv"
	if err := c.exec.Pull(ctx, c.cfg.RemotePath, raw, device); err != nil {
		return "", err
	}

	info, err := os.Stat(raw)
	if err != nil {
		return "", err
	}
	if info.Size() == 0 {
		logger.Warn("heap dump is empty, has the process crashed?")
		if err := os.Remove(raw); err != nil {
			return "", err
		}
		if err := c.exec.Remove(ctx, c.cfg.RemotePath, device); err != nil {
			return "", err
		}
		return "", nil
	}

	if err := c.conv.Convert(ctx, raw, converted); err != nil {
		return "", fmt.Errorf("converting %s: %w", raw, err)
	}
	if err := os.Remove(raw); err != nil {
		return "", err
	}
	if err := c.exec.Remove(ctx, c.cfg.RemotePath, device); err != nil {
		return "", err
	}
	logger.Info("converted heap dump available", lg.String("path", converted))
	return converted, nil
}

// pollUntilStable queries the remote dump file's size on a fixed interval
// and returns the first time an observation is not strictly greater than
// the previous one. A not-yet-created file reads as size -1, so any first
// write counts as growth.
func (c *Coordinator) pollUntilStable(ctx context.Context, device string) error {
	logger := lg.FromContext(ctx)

	first := true
	var last int64
	observe := func() error {
		size, err := c.exec.FileSize(ctx, c.cfg.RemotePath, device)
		if err != nil {
			return backoff.Permanent(err)
		}
		logger.Debug("dump size observed", lg.Int64("size", size))
		if !first && size <= last {
			return nil
		}
		first = false
		last = size
		return errStillGrowing
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.PollInterval), uint64(c.cfg.PollMaxAttempts)),
		ctx)
	if err := backoff.Retry(observe, policy); err != nil {
		if errors.Is(err, errStillGrowing) {
			return fmt.Errorf("%w (%d polls on %s)", ErrPollDeadline, c.cfg.PollMaxAttempts+1, device)
		}
		return err
	}
	return nil
}
