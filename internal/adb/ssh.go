package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHTransport runs the adb binary on a remote host, for setups where the
// devices hang off a lab machine instead of the operator's workstation.
type SSHTransport struct {
	client  *ssh.Client
	adbPath string
}

// NewSSHTransport dials addr and authenticates with the private key at
// keyPath. The caller owns the transport and must Close it.
func NewSSHTransport(addr, user, keyPath, adbPath string) (*SSHTransport, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
		BannerCallback:  func(string) error { return nil },
	}
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if adbPath == "" {
		adbPath = "adb"
	}
	return &SSHTransport{client: client, adbPath: adbPath}, nil
}

func (t *SSHTransport) Run(ctx context.Context, args []string) (string, string, int, error) {
	sess, err := t.client.NewSession()
	if err != nil {
		return "", "", 0, fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	var out, errOut bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &errOut

	done := make(chan error, 1)
	go func() { done <- sess.Run(shellCommand(t.adbPath, args)) }()

	select {
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		return "", "", 0, ctx.Err()
	case err = <-done:
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), errOut.String(), exitErr.ExitStatus(), nil
		}
		return "", "", 0, err
	}
	return out.String(), errOut.String(), 0, nil
}

func (t *SSHTransport) Close() error { return t.client.Close() }

// shellCommand quotes each argument so package names, paths and patterns
// survive the remote shell.
func shellCommand(bin string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, bin)
	for _, a := range args {
		parts = append(parts, "'"+strings.ReplaceAll(a, "'", `'\''`)+"'")
	}
	return strings.Join(parts, " ")
}
