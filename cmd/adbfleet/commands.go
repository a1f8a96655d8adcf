package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"adbfleet/internal/fleet"
	"adbfleet/internal/lg"
	"adbfleet/internal/monkey"
	"adbfleet/internal/report"
	"adbfleet/internal/target"
)

var (
	flagPackage   string
	flagRegex     string
	flagForce     bool
	flagOut       string
	flagRecursive bool
	flagMulti     bool
	flagSeed      int
	flagEvents    int
	flagDump      string
)

func targetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagPackage, "package", "p", "", "exact package name")
	cmd.Flags().StringVarP(&flagRegex, "regex", "r", "", "package filter pattern")
	cmd.Flags().BoolVarP(&flagForce, "force", "f", false, "proceed against every pattern match")
}

func outFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagOut, "out", "o", "", "output directory (default: working directory)")
}

func outDir() (string, error) {
	if flagOut != "" {
		return flagOut, nil
	}
	return os.Getwd()
}

// runDispatch resolves targets, fans op out over the fleet, publishes the
// outcome and fails the command when any device failed hard.
func runDispatch(ctx context.Context, operation string, op fleet.Operation) error {
	ctx = lg.Attach(ctx, tool.logger)
	spec, err := target.New(flagPackage, flagRegex)
	if err != nil {
		return err
	}
	devices, err := tool.devices(ctx)
	if err != nil {
		return err
	}

	summary, err := tool.dispatch.Dispatch(ctx, devices, spec, target.Policy{Force: flagForce}, op)
	if err != nil {
		return err
	}
	report.PublishSummary(ctx, tool.publisher, tool.runID, operation, spec.String(), summary)

	if len(summary.Failed) > 0 {
		failed := make([]string, 0, len(summary.Failed))
		for device := range summary.Failed {
			failed = append(failed, device)
		}
		sort.Strings(failed)
		return fmt.Errorf("%s failed on %s", operation, strings.Join(failed, ", "))
	}
	return nil
}

var installCmd = &cobra.Command{
	Use:   "install [path]",
	Short: "Install apks from a file or directory on every device",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := lg.Attach(cmd.Context(), tool.logger)
		path := "."
		if len(args) == 1 {
			path = args[0]
		}
		devices, err := tool.devices(ctx)
		if err != nil {
			return err
		}
		return tool.ops.Install(ctx, path, devices, flagRecursive)
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall packages on every device",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDispatch(cmd.Context(), "uninstall", tool.ops.Uninstall)
	},
}

var pullAPKCmd = &cobra.Command{
	Use:   "pull-apk",
	Short: "Download package apks from every device",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := outDir()
		if err != nil {
			return err
		}
		return runDispatch(cmd.Context(), "pull-apk", func(ctx context.Context, pkg, device string) error {
			return tool.ops.PullAPK(ctx, pkg, device, dir)
		})
	},
}

var clearDataCmd = &cobra.Command{
	Use:   "clear-data",
	Short: "Stop packages and clear their data on every device",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDispatch(cmd.Context(), "clear-data", tool.ops.ClearData)
	},
}

var heapDumpCmd = &cobra.Command{
	Use:   "heap-dump",
	Short: "Capture converted heap dumps from every device",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := outDir()
		if err != nil {
			return err
		}
		return runDispatch(cmd.Context(), "heap-dump", func(ctx context.Context, pkg, device string) error {
			_, err := tool.dumper.Dump(ctx, pkg, device, dir, "")
			return err
		})
	},
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run the monkey stress test, optionally with heap dumps around it",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := outDir()
		if err != nil {
			return err
		}
		opts := monkey.Options{Events: flagEvents}
		if cmd.Flags().Changed("seed") {
			seed := flagSeed
			opts.Seed = &seed
		}
		dumpHook := func(label string) monkey.Hook {
			return func(ctx context.Context, pkg, device string) error {
				_, err := tool.dumper.Dump(ctx, pkg, device, dir, label)
				return err
			}
		}
		if strings.Contains(flagDump, "b") {
			opts.Before = dumpHook("before")
		}
		if strings.Contains(flagDump, "a") {
			opts.After = dumpHook("after")
		}
		return runDispatch(cmd.Context(), "stress", func(ctx context.Context, pkg, device string) error {
			return tool.monkey.Run(ctx, pkg, device, opts)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages per device",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := lg.Attach(cmd.Context(), tool.logger)
		devices, err := tool.devices(ctx)
		if err != nil {
			return err
		}
		listing, err := tool.ops.List(ctx, devices, flagRegex)
		if err != nil {
			return err
		}
		for _, device := range devices {
			fmt.Printf("installed packages on %s:\n", device)
			for _, pkg := range listing[device] {
				fmt.Println(pkg)
			}
		}
		return nil
	},
}

var rebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Reboot every device",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := lg.Attach(cmd.Context(), tool.logger)
		devices, err := tool.devices(ctx)
		if err != nil {
			return err
		}
		return tool.ops.Reboot(ctx, devices)
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture device screenshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := lg.Attach(cmd.Context(), tool.logger)
		dir, err := outDir()
		if err != nil {
			return err
		}
		device := ""
		if len(flagSerials) == 1 {
			device = flagSerials[0]
		}
		return tool.ops.Snapshots(ctx, device, dir, flagMulti, os.Stdin)
	},
}

func init() {
	installCmd.Flags().BoolVarP(&flagRecursive, "recursive", "R", false, "descend into subdirectories")

	for _, cmd := range []*cobra.Command{uninstallCmd, clearDataCmd, stressCmd, heapDumpCmd, pullAPKCmd} {
		targetFlags(cmd)
	}
	for _, cmd := range []*cobra.Command{pullAPKCmd, heapDumpCmd, stressCmd, snapshotCmd} {
		outFlag(cmd)
	}

	stressCmd.Flags().IntVar(&flagSeed, "seed", 0, "pseudo-random seed")
	stressCmd.Flags().IntVar(&flagEvents, "events", 0, "number of injected events")
	stressCmd.Flags().StringVar(&flagDump, "dump", "", "heap dump before (b), after (a), or both (ab)")

	listCmd.Flags().StringVarP(&flagRegex, "regex", "r", "", "package filter pattern")

	snapshotCmd.Flags().BoolVarP(&flagMulti, "multi", "m", false, "take a snapshot on every enter keypress")

	rootCmd.AddCommand(installCmd, uninstallCmd, pullAPKCmd, clearDataCmd,
		stressCmd, heapDumpCmd, listCmd, rebootCmd, snapshotCmd)
}
