package adb

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Transport runs one adb invocation and reports its raw output and exit
// status. An error is returned only when the command could not be run at
// all; a nonzero exit status is not a transport error.
type Transport interface {
	Run(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// LocalTransport invokes the adb binary on the local machine.
type LocalTransport struct {
	Path string // adb binary, "adb" if empty
}

func NewLocalTransport(path string) *LocalTransport {
	if path == "" {
		path = "adb"
	}
	return &LocalTransport{Path: path}
}

func (t *LocalTransport) Run(ctx context.Context, args []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, t.Path, args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), errOut.String(), exitErr.ExitCode(), nil
		}
		return "", "", 0, err
	}
	return out.String(), errOut.String(), 0, nil
}
