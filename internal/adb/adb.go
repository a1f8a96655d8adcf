// Package adb exposes the narrow remote-execution primitive every other
// package is built on: send an argv to one device, get text back, fail on
// nonzero exit status.
package adb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"adbfleet/internal/lg"
)

// ErrNoDevices is returned when no attached device is in "device" state.
var ErrNoDevices = errors.New("no devices in 'device' state")

// CommandError reports a remote command that ran and exited nonzero. It is
// always propagated, never silently retried.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("adb %s: status=%d, err=%s",
		strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}

// Executor issues adb commands through a Transport. Each device gets its
// own circuit breaker so a wedged device fails fast instead of stalling a
// whole fleet run; the breaker never retries anything on its own.
type Executor struct {
	transport Transport

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewExecutor(transport Transport) *Executor {
	return &Executor{
		transport: transport,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (e *Executor) breaker(device string) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	cb, ok := e.breakers[device]
	if !ok {
		name := "adb"
		if device != "" {
			name = "adb-" + device
		}
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     name,
			Interval: 1 * time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		})
		e.breakers[device] = cb
	}
	return cb
}

// Exec runs an adb command, targeting device when it is non-empty, and
// returns raw stdout. A nonzero exit status becomes a *CommandError.
func (e *Executor) Exec(ctx context.Context, device string, args ...string) (string, error) {
	argv := args
	if device != "" {
		argv = append([]string{"-s", device}, args...)
	}

	res, err := e.breaker(device).Execute(func() (any, error) {
		stdout, stderr, code, err := e.transport.Run(ctx, argv)
		if err != nil {
			return nil, err
		}
		if code != 0 {
			return nil, &CommandError{Args: argv, ExitCode: code, Stderr: stderr}
		}
		return stdout, nil
	})
	if err != nil {
		lg.FromContext(ctx).Debug("adb command failed",
			lg.String("device", device), lg.Strings("args", args), lg.Error(err))
		return "", err
	}
	return res.(string), nil
}

// Shell runs `adb shell <args...>` on device.
func (e *Executor) Shell(ctx context.Context, device string, args ...string) (string, error) {
	return e.Exec(ctx, device, append([]string{"shell"}, args...)...)
}

// Devices lists serials of attached devices in "device" state.
func (e *Executor) Devices(ctx context.Context) ([]string, error) {
	out, err := e.Exec(ctx, "", "devices")
	if err != nil {
		return nil, err
	}
	const delimiter = "\tdevice"
	var devices []string
	for _, line := range SplitLines(out) {
		if strings.Contains(line, delimiter) {
			devices = append(devices, strings.SplitN(line, delimiter, 2)[0])
		}
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	return devices, nil
}

// APIVersion reports the Android SDK version device runs.
func (e *Executor) APIVersion(ctx context.Context, device string) (int, error) {
	out, err := e.Shell(ctx, device, "getprop", "ro.build.version.sdk")
	if err != nil {
		return 0, err
	}
	version, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("unexpected sdk version %q on %s: %w", strings.TrimSpace(out), device, err)
	}
	return version, nil
}

// FileSize reports the size of remotePath on device in bytes. A path that
// does not exist (yet) reports -1 rather than an error; heap-dump polling
// starts before the remote job's first write.
func (e *Executor) FileSize(ctx context.Context, remotePath, device string) (int64, error) {
	out, err := e.Shell(ctx, device, "ls", "-l", remotePath)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return -1, nil
		}
		return 0, err
	}
	// A missing file echoes the path back in an error line instead of a
	// listing row.
	if strings.HasPrefix(strings.TrimSpace(out), remotePath) {
		return -1, nil
	}
	fields := SplitColumns(out)
	if len(fields) < 4 {
		return 0, fmt.Errorf("unexpected ls output for %s on %s: %q", remotePath, device, strings.TrimSpace(out))
	}
	size, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse size of %s on %s: %w", remotePath, device, err)
	}
	return size, nil
}

// InstalledPackages lists installed package names on device, in the order
// the package manager reports them.
func (e *Executor) InstalledPackages(ctx context.Context, device string) ([]string, error) {
	out, err := e.Shell(ctx, device, "pm", "list", "packages")
	if err != nil {
		return nil, err
	}
	return PackageLines(out), nil
}

// Pull copies remotePath on device to localPath.
func (e *Executor) Pull(ctx context.Context, remotePath, localPath, device string) error {
	_, err := e.Exec(ctx, device, "pull", remotePath, localPath)
	return err
}

// Remove deletes remotePath on device, if it exists.
func (e *Executor) Remove(ctx context.Context, remotePath, device string) error {
	_, err := e.Shell(ctx, device, "rm", "-f", remotePath)
	return err
}

// Reboot restarts device.
func (e *Executor) Reboot(ctx context.Context, device string) error {
	_, err := e.Exec(ctx, device, "reboot")
	return err
}
