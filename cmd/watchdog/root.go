package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/pairchat/internal/watchdog"
	"github.com/dmitrijs2005/pairchat/internal/watchdog/config"
)

// app carries the seams the commands are built on.
type app struct {
	probes   func(cfg *config.Config) map[watchdog.Service]watchdog.Probe
	launcher func(cfg *config.Config) watchdog.Launcher
	freer    watchdog.PortFreer
}

func defaultApp() *app {
	return &app{
		probes:   buildProbes,
		launcher: buildLauncher,
		freer:    watchdog.LsofPortFreer{},
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "watchdog",
		Short:         "Supervise the pairchat server",
		Long:          "watchdog launches the pairchat server, probes it and its Redis and MongoDB backends, and restarts it under a cooldown-gated, bounded retry policy.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newRunCmd(a),
		newCheckCmd(a),
	)
	return rootCmd
}

func buildProbes(cfg *config.Config) map[watchdog.Service]watchdog.Probe {
	probes := map[watchdog.Service]watchdog.Probe{
		watchdog.ServiceTransport: watchdog.HTTPHealthCheck{URL: cfg.TransportURL},
	}
	if cfg.RedisURL != "" {
		probes[watchdog.ServiceCache] = watchdog.RedisProbe{URL: cfg.RedisURL}
	}
	if cfg.MongoURI != "" {
		probes[watchdog.ServiceLog] = watchdog.MongoProbe{URI: cfg.MongoURI}
	}
	if cfg.AdminAddr != "" {
		probes[watchdog.ServiceAdmin] = watchdog.GRPCHealthProbe{Addr: cfg.AdminAddr}
	}
	return probes
}
