package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/trailguard/metrics"
	"github.com/rustyeddy/trailguard/runner"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the risk loop until interrupted",
	Long: `Run the risk engine on the configured schedule.

A single-instance lock matching the state backend is taken first. When
metrics are enabled the status server (/metrics, /healthz, /state) runs
alongside the loop.

Example:
  trailguard run -f trailguard.yaml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	guard, lease, err := acquireLock(ctx, cfg.State)
	if err != nil {
		return fmt.Errorf("single-instance lock: %w", err)
	}
	defer guard.Release()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.LoadMarkets(ctx); err != nil {
		return fmt.Errorf("load markets: %w", err)
	}

	r := &runner.Runner{
		Interval: cfg.Schedule.Interval.Duration,
		Backoff:  cfg.Schedule.FailureBackoff.Duration,
		Logger:   logger,
		Tick: func(ctx context.Context) error {
			_, err := a.engine.Tick(ctx)
			return err
		},
	}

	logger.Info("trailguard starting",
		"exchange", cfg.Exchange.Name,
		"state", cfg.State.Backend,
		"journal", cfg.Journal.Type,
		"interval", r.Interval,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(metrics.ServerConfig{
			Addr:       cfg.Metrics.Addr,
			MaxTickAge: cfg.Metrics.MaxTickAge.Duration,
			Metrics:    a.metrics,
			Health:     r,
			Store:      a.store,
			Logger:     logger,
		})
		g.Go(func() error { return srv.Run(gctx) })
	}
	if lease != nil {
		g.Go(func() error { return lease.Keep(gctx, logger) })
	}

	err = g.Wait()
	logger.Info("trailguard stopped")
	return err
}
