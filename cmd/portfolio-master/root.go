package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/iota-uz/portfolio-master/modules/portfolio"
	"github.com/iota-uz/portfolio-master/pkg/composables"
	"github.com/iota-uz/portfolio-master/pkg/configuration"
	"github.com/iota-uz/portfolio-master/pkg/logging"
	"github.com/iota-uz/portfolio-master/pkg/metrics"
)

// app holds what the subcommands share. The root pre-run fills it and main
// releases it once the command returns.
type app struct {
	conf    *configuration.Configuration
	cleanup []func()
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "portfolio-master",
		Short:         "Bitemporal portfolio and position master tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	cmd.AddCommand(newMigrateCmd(a), newPortfolioCmd(a), newPositionCmd(a))
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	a.conf = configuration.Use()
	a.cleanup = append(a.cleanup, a.conf.Unload)
	logger := a.conf.Logger()

	ctx := composables.WithLogger(cmd.Context(), logger.WithField("command", cmd.CommandPath()))
	if a.conf.OpenTelemetry.Enabled {
		a.cleanup = append(a.cleanup, logging.SetupTracing(ctx, a.conf.OpenTelemetry.ServiceName, a.conf.OpenTelemetry.TempoURL))
		logger.Debug("OpenTelemetry tracing enabled, exporting to " + a.conf.OpenTelemetry.TempoURL)
	}
	if a.conf.Prometheus.Enabled {
		metricsCtx, cancel := context.WithCancel(ctx)
		a.cleanup = append(a.cleanup, cancel)
		go func() {
			if err := metrics.Serve(metricsCtx, a.conf.Prometheus.Addr, a.conf.Prometheus.Path); err != nil {
				logger.WithError(err).Warn("metrics.serve.failed")
			}
		}()
	}
	cmd.SetContext(ctx)
	return nil
}

// master wires the configured master for one command.
func (a *app) master(ctx context.Context) (*portfolio.Module, error) {
	m, err := portfolio.NewModule(ctx, a.conf)
	if err != nil {
		return nil, err
	}
	a.cleanup = append(a.cleanup, m.Close)
	return m, nil
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}
