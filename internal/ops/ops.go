// Package ops implements the plain device operations: install, uninstall,
// apk and screenshot retrieval, data clearing, listing and reboot. The
// interesting operations (pid discovery, heap dumps, stress runs) live in
// their own packages.
package ops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"adbfleet/internal/adb"
	"adbfleet/internal/lg"
)

type deviceExec interface {
	Exec(ctx context.Context, device string, args ...string) (string, error)
	Shell(ctx context.Context, device string, args ...string) (string, error)
	Pull(ctx context.Context, remotePath, localPath, device string) error
	Remove(ctx context.Context, remotePath, device string) error
	Devices(ctx context.Context) ([]string, error)
	Reboot(ctx context.Context, device string) error
	InstalledPackages(ctx context.Context, device string) ([]string, error)
}

// Ops bundles the simple operations around one executor.
type Ops struct {
	exec           deviceExec
	screenshotPath string // remote temp path for screencap
	installWorkers int
}

func New(exec deviceExec, screenshotPath string, installWorkers int) *Ops {
	if installWorkers <= 0 {
		installWorkers = 1
	}
	return &Ops{exec: exec, screenshotPath: screenshotPath, installWorkers: installWorkers}
}

// Install puts the apk at localPath on every device. A directory installs
// every *.apk inside it, descending into subdirectories when recursive.
func (o *Ops) Install(ctx context.Context, localPath string, devices []string, recursive bool) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("%s does not exist: %w", localPath, err)
	}
	if info.IsDir() {
		return o.installFromDir(ctx, localPath, devices, recursive)
	}
	return o.installFile(ctx, localPath, devices)
}

func (o *Ops) installFromDir(ctx context.Context, dir string, devices []string, recursive bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		switch {
		case strings.HasSuffix(entry.Name(), ".apk") && !entry.IsDir():
			if err := o.installFile(ctx, path, devices); err != nil {
				return err
			}
		case recursive && entry.IsDir():
			if err := o.installFromDir(ctx, path, devices, recursive); err != nil {
				return err
			}
		}
	}
	return nil
}

// installFile fans one apk out over the devices in parallel; devices are
// independent, so one slow install does not serialize the rest.
func (o *Ops) installFile(ctx context.Context, localFile string, devices []string) error {
	logger := lg.FromContext(ctx)
	var g errgroup.Group
	g.SetLimit(o.installWorkers)
	for _, device := range devices {
		device := device
		g.Go(func() error {
			if _, err := o.exec.Exec(ctx, device, "install", localFile); err != nil {
				return fmt.Errorf("install %s on %s: %w", localFile, device, err)
			}
			logger.Info("apk installed",
				lg.String("apk", localFile), lg.String("device", device))
			return nil
		})
	}
	return g.Wait()
}

// Uninstall removes pkg from device.
func (o *Ops) Uninstall(ctx context.Context, pkg, device string) error {
	if _, err := o.exec.Exec(ctx, device, "uninstall", pkg); err != nil {
		return err
	}
	lg.FromContext(ctx).Info("package uninstalled",
		lg.String("package", pkg), lg.String("device", device))
	return nil
}

// ClearData stops pkg and clears its data on device.
func (o *Ops) ClearData(ctx context.Context, pkg, device string) error {
	if _, err := o.exec.Shell(ctx, device, "pm", "clear", pkg); err != nil {
		return err
	}
	lg.FromContext(ctx).Info("package data cleared",
		lg.String("package", pkg), lg.String("device", device))
	return nil
}

// PullAPK downloads pkg's apk from device into localDir. A package with no
// path or with multiple paths is skipped with a warning; installed apks
// are expected to resolve to a sole path.
func (o *Ops) PullAPK(ctx context.Context, pkg, device, localDir string) error {
	logger := lg.FromContext(ctx)
	out, err := o.exec.Shell(ctx, device, "pm", "path", pkg)
	if err != nil {
		return err
	}
	paths := adb.PackageLines(out)
	switch {
	case len(paths) == 0:
		logger.Warn("no apk path available",
			lg.String("package", pkg), lg.String("device", device))
		return nil
	case len(paths) > 1:
		logger.Warn("multiple apk paths available",
			lg.String("package", pkg), lg.String("device", device),
			lg.Strings("paths", paths))
		return nil
	}

	local := filepath.Join(localDir, ArtifactName(device, []string{filepath.Base(paths[0])}, "apk"))
	if err := o.exec.Pull(ctx, paths[0], local, device); err != nil {
		return err
	}
	logger.Info("apk downloaded",
		lg.String("device", device), lg.String("path", local))
	return nil
}

// List reports installed packages per device, filtered by pattern when it
// is non-empty.
func (o *Ops) List(ctx context.Context, devices []string, pattern string) (map[string][]string, error) {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
	}
	listing := make(map[string][]string, len(devices))
	for _, device := range devices {
		packages, err := o.exec.InstalledPackages(ctx, device)
		if err != nil {
			return nil, err
		}
		if re != nil {
			var matched []string
			for _, pkg := range packages {
				if re.MatchString(pkg) {
					matched = append(matched, pkg)
				}
			}
			packages = matched
		}
		listing[device] = packages
	}
	return listing, nil
}

// Reboot restarts every device.
func (o *Ops) Reboot(ctx context.Context, devices []string) error {
	for _, device := range devices {
		if err := o.exec.Reboot(ctx, device); err != nil {
			return err
		}
		lg.FromContext(ctx).Info("device rebooted", lg.String("device", device))
	}
	return nil
}

// Screenshot captures the device's current screen into localDir and
// returns the local file path.
func (o *Ops) Screenshot(ctx context.Context, device, localDir string) (string, error) {
	name := ArtifactName(device, []string{strconv.FormatInt(time.Now().Unix(), 10)}, "png")
	local := filepath.Join(localDir, name)

	if _, err := o.exec.Shell(ctx, device, "screencap", o.screenshotPath); err != nil {
		return "", err
	}
	if err := o.exec.Pull(ctx, o.screenshotPath, local, device); err != nil {
		return "", err
	}
	if err := o.exec.Remove(ctx, o.screenshotPath, device); err != nil {
		return "", err
	}
	lg.FromContext(ctx).Info("screenshot downloaded", lg.String("path", local))
	return local, nil
}

// Snapshots captures one screenshot, or, when multiple is set, one per
// ENTER keypress on in until any other input arrives. An empty device is
// allowed only when exactly one device is attached.
func (o *Ops) Snapshots(ctx context.Context, device, localDir string, multiple bool, in io.Reader) error {
	if device == "" {
		devices, err := o.exec.Devices(ctx)
		if err != nil {
			return err
		}
		if len(devices) > 1 {
			return errors.New("multiple devices attached, specify a device serial")
		}
		device = devices[0]
	}
	if !multiple {
		_, err := o.Screenshot(ctx, device, localDir)
		return err
	}

	lg.FromContext(ctx).Info("press enter to take a snapshot, any other key to exit")
	buf := make([]byte, 1)
	for {
		if _, err := in.Read(buf); err != nil || buf[0] != '\n' {
			return nil
		}
		if _, err := o.Screenshot(ctx, device, localDir); err != nil {
			return err
		}
	}
}
