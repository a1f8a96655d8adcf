// Command adbfleet performs bulk operations against attached Android
// devices: install, uninstall, apk and heap-dump retrieval, data clearing,
// stress runs, listing, reboot and screenshots, targeted by exact package
// name or by pattern.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"adbfleet/internal/adb"
	"adbfleet/internal/fleet"
	"adbfleet/internal/heapdump"
	"adbfleet/internal/lg"
	"adbfleet/internal/monkey"
	"adbfleet/internal/ops"
	"adbfleet/internal/pidof"
	"adbfleet/internal/report"
	"adbfleet/internal/target"
	"adbfleet/pkg/config"
)

// app holds the wired components every subcommand shares.
type app struct {
	cfg       config.Config
	logger    lg.Logger
	exec      *adb.Executor
	ops       *ops.Ops
	dispatch  *fleet.Dispatcher
	monkey    *monkey.Runner
	dumper    *heapdump.Coordinator
	publisher report.Publisher
	runID     string

	closers []func() error
}

var (
	flagSerials   []string
	flagConfig    string
	flagDebug     bool
	flagLogFormat string

	tool *app
)

var rootCmd = &cobra.Command{
	Use:           "adbfleet",
	Short:         "Fleet operations for attached Android devices",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		tool, err = newApp(cmd.Flags().Changed("config"))
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return tool.close()
	},
}

func newApp(explicitConfig bool) (*app, error) {
	cfg, err := config.Load(flagConfig, explicitConfig)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg: cfg,
		logger: lg.New(&lg.Config{
			ServiceName: "adbfleet",
			Debug:       flagDebug,
			Format:      flagLogFormat,
		}),
		publisher: report.Discard,
		runID:     uuid.New().String(),
	}
	a.closers = append(a.closers, a.logger.Sync)

	var transport adb.Transport
	if cfg.ADB.Transport == "ssh" {
		ssh, err := adb.NewSSHTransport(cfg.ADB.SSH.Addr, cfg.ADB.SSH.User, cfg.ADB.SSH.KeyFile, cfg.ADB.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ssh.Close)
		transport = ssh
	} else {
		transport = adb.NewLocalTransport(cfg.ADB.Path)
	}

	a.exec = adb.NewExecutor(transport)
	a.ops = ops.New(a.exec, cfg.Remote.ScreenshotPath, cfg.Fleet.MaxWorkers)
	a.dispatch = fleet.NewDispatcher(target.NewResolver(a.exec), cfg.Fleet.MaxWorkers)
	a.monkey = monkey.NewRunner(a.exec, cfg.Monkey.SeedMin, cfg.Monkey.SeedMax, cfg.Monkey.Events)
	a.dumper = heapdump.NewCoordinator(a.exec, pidof.NewLocator(a.exec, a.monkey), heapdump.HprofConv{}, heapdump.Config{
		RemotePath:      cfg.Remote.HeapDumpPath,
		PollInterval:    cfg.HeapDump.PollInterval(),
		PollMaxAttempts: cfg.HeapDump.PollMaxAttempts,
		LocateRetries:   cfg.HeapDump.LocateRetries,
	})
	if len(cfg.Report.Brokers) > 0 {
		pub := report.NewKafkaPublisher(cfg.Report.Brokers, cfg.Report.Topic)
		a.closers = append(a.closers, pub.Close)
		a.publisher = pub
	}
	return a, nil
}

func (a *app) close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// devices returns the explicitly selected serials, or every attached
// device when none were given.
func (a *app) devices(ctx context.Context) ([]string, error) {
	if len(flagSerials) > 0 {
		return flagSerials, nil
	}
	return a.exec.Devices(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.PersistentFlags().StringSliceVarP(&flagSerials, "serials", "s", nil, "device serials to run the command on")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "adbfleet.yaml", "path to a yaml config file")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "console", "console or json")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
