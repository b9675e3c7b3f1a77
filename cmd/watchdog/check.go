package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/pairchat/internal/watchdog"
	"github.com/dmitrijs2005/pairchat/internal/watchdog/config"
)

var errCheckFailed = errors.New("one or more services are unhealthy")

// checkOrder keeps the report stable.
var checkOrder = []watchdog.Service{
	watchdog.ServiceTransport,
	watchdog.ServiceCache,
	watchdog.ServiceLog,
	watchdog.ServiceAdmin,
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe every service once and report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			probes := a.probes(cfg)
			failed := false
			for _, name := range checkOrder {
				probe, ok := probes[name]
				if !ok {
					continue
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ProbeTimeout)
				err := probe.Check(ctx)
				cancel()

				if err != nil {
					failed = true
					fmt.Fprintf(cmd.OutOrStdout(), "%-9s FAIL %v\n", name, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-9s ok\n", name)
			}

			if failed {
				return errCheckFailed
			}
			return nil
		},
	}
}
