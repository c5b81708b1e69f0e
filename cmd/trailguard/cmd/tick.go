package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/trailguard/risk"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run exactly one tick and exit",
	Args:  cobra.NoArgs,
	RunE:  runTick,
}

func init() {
	rootCmd.AddCommand(tickCmd)
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)
	ctx := cmd.Context()

	guard, _, err := acquireLock(ctx, cfg.State)
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
	res, err := a.engine.Tick(ctx)
	if err != nil {
		return err
	}
	printTick(cmd.OutOrStdout(), res)
	return nil
}

func printTick(w io.Writer, res risk.TickResult) {
	fmt.Fprintf(w, "tick %s: positions=%d ratchets=%d kills=%d reentries=%d fills=%d cancels=%d reconciled=%d errors=%d (%s)\n",
		res.ID, res.Positions, res.Ratchets, res.Kills, res.Reentries, res.Fills, res.Cancels, len(res.Reconciled), res.Errors, res.Duration)
	for _, k := range res.Reconciled {
		fmt.Fprintf(w, "  forgot %s\n", k)
	}
}
