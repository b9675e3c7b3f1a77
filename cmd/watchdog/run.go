package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/pairchat/internal/logging"
	"github.com/dmitrijs2005/pairchat/internal/watchdog"
	"github.com/dmitrijs2005/pairchat/internal/watchdog/config"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Launch the server and keep it running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := logging.NewJSONLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			sup := watchdog.NewSupervisor(a.launcher(cfg), a.freer, a.probes(cfg), logger, watchdog.Options{
				Interval:           cfg.CheckInterval,
				ProbeTimeout:       cfg.ProbeTimeout,
				Cooldown:           cfg.Cooldown,
				MaxRestartAttempts: cfg.MaxRestartAttempts,
				GracePeriod:        cfg.GracePeriod,
				Port:               cfg.Port,
			})

			logger.Info(ctx, "watchdog started", "server", cfg.ServerPath, "port", cfg.Port, "interval", cfg.CheckInterval)
			return sup.Run(ctx)
		},
	}
}

func buildLauncher(cfg *config.Config) watchdog.Launcher {
	return &watchdog.ExecLauncher{
		Path:   cfg.ServerPath,
		Args:   cfg.ServerArgs,
		Env:    os.Environ(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}
