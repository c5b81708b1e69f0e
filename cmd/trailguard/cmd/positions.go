package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/risk"
	"github.com/rustyeddy/trailguard/state"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Print open positions with profit distance and liquidation closeness",
	Args:  cobra.NoArgs,
	RunE:  runPositions,
}

func init() {
	rootCmd.AddCommand(positionsCmd)
}

func runPositions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)
	ctx := cmd.Context()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	positions, err := a.client.FetchPositions(ctx, nil)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	rows := make([]positionRow, 0, len(positions))
	for _, p := range positions {
		row := positionRow{Position: p}
		t, err := a.store.Get(ctx, state.KeyFor(p))
		switch {
		case err == nil:
			row.state = &t
		case !errors.Is(err, state.ErrNotFound):
			logger.Warn("state read failed", "symbol", p.Symbol, "side", p.Side, "err", err)
		}
		rows = append(rows, row)
	}
	printPositions(cmd.OutOrStdout(), rows)
	return nil
}

type positionRow struct {
	exchange.Position
	state *state.Trailing
}

func printPositions(w io.Writer, rows []positionRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no open positions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSIDE\tCONTRACTS\tENTRY\tMARK\tLIQ\tLEV\tPNL\tPROFIT DIST\tCLOSENESS\tTHRESHOLD\tSTOP")
	for _, r := range rows {
		threshold, stop := "-", "-"
		if r.state != nil {
			threshold = fmt.Sprintf("%.4f", r.state.Threshold)
			if r.state.StopPrice > 0 {
				stop = fmt.Sprintf("%g", r.state.StopPrice)
			}
		}
		closeness := "-"
		if r.LiquidationPrice > 0 && r.EntryPrice != r.LiquidationPrice {
			closeness = fmt.Sprintf("%.4f", risk.Closeness(r.EntryPrice, r.MarkPrice, r.LiquidationPrice))
		}
		fmt.Fprintf(tw, "%s\t%s\t%g\t%g\t%g\t%g\t%g\t%.4f\t%.4f\t%s\t%s\t%s\n",
			r.Symbol, r.Side, r.Contracts, r.EntryPrice, r.MarkPrice, r.LiquidationPrice, r.Leverage, r.PnL(),
			risk.ProfitDistance(r.Side, r.EntryPrice, r.MarkPrice, r.Leverage), closeness, threshold, stop)
	}
	tw.Flush()
}
