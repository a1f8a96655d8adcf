// Package pidof finds the process id of a running package on a device. A
// package that is installed but not running exposes no pid, so the locator
// may nudge it awake with a minimal forcing interaction and look again,
// a bounded number of times.
package pidof

import (
	"context"
	"fmt"
	"strings"

	"adbfleet/internal/adb"
	"adbfleet/internal/lg"
)

// NotFoundError is raised once the forcing retries are exhausted.
type NotFoundError struct {
	Package string
	Device  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no process on %s found for %s, is your app installed?", e.Device, e.Package)
}

// AmbiguousError is raised when several process-table rows match the
// package. Retrying cannot reduce ambiguity, so it is never retried.
type AmbiguousError struct {
	Package   string
	Device    string
	Processes []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("multiple processes found for %s on %s: %s",
		e.Package, e.Device, strings.Join(e.Processes, ", "))
}

type shellRunner interface {
	Shell(ctx context.Context, device string, args ...string) (string, error)
}

// Forcer triggers the minimal synthetic interaction that starts a package.
type Forcer interface {
	ForceStart(ctx context.Context, pkg, device string) error
}

// Locator queries the remote process table.
type Locator struct {
	exec   shellRunner
	forcer Forcer
}

func NewLocator(exec shellRunner, forcer Forcer) *Locator {
	return &Locator{exec: exec, forcer: forcer}
}

// Locate returns the pid of pkg on device. When the process table has no
// match and retries remain, it forces the package to start and queries
// again; maxRetries bounds how many forcing interactions are issued.
func (l *Locator) Locate(ctx context.Context, pkg, device string, maxRetries int) (string, error) {
	for attempt := 0; ; attempt++ {
		out, err := l.exec.Shell(ctx, device, "ps")
		if err != nil {
			return "", err
		}

		var matches []string
		for _, line := range adb.SplitLines(out) {
			if strings.Contains(line, pkg) {
				matches = append(matches, line)
			}
		}

		switch {
		case len(matches) == 1:
			fields := adb.SplitColumns(matches[0])
			if len(fields) < 2 {
				return "", fmt.Errorf("unexpected process table row on %s: %q", device, matches[0])
			}
			return fields[1], nil
		case len(matches) > 1:
			return "", &AmbiguousError{Package: pkg, Device: device, Processes: matches}
		}

		if attempt >= maxRetries {
			return "", &NotFoundError{Package: pkg, Device: device}
		}
		lg.FromContext(ctx).Debug("process not found, forcing package to start",
			lg.String("package", pkg), lg.String("device", device),
			lg.Int("attempts_remaining", maxRetries-attempt))
		if err := l.forcer.ForceStart(ctx, pkg, device); err != nil {
			return "", fmt.Errorf("forcing %s to start on %s: %w", pkg, device, err)
		}
	}
}
