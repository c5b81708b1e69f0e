package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or clear persisted trailing state",
	Long: `Inspect or clear the per-position trailing state.

Subcommands:
  list   - Show every stored record
  reset  - Delete records for a symbol, or all records

Examples:
  trailguard state list
  trailguard state reset BTC/USDT:USDT --side long
  trailguard state reset --all`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show every stored trailing record",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset [symbol]",
	Short: "Delete trailing records",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStateReset,
}

var (
	stateResetSide string
	stateResetAll  bool
)

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateResetCmd)

	stateResetCmd.Flags().StringVar(&stateResetSide, "side", "", "only this side (long|short)")
	stateResetCmd.Flags().BoolVar(&stateResetAll, "all", false, "delete every record")
}

func openStore(cmd *cobra.Command) (state.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg)
	s, err := state.Open(cmd.Context(), storeOptions(cfg.State, logger))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return s, nil
}

func runStateList(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := s.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list state: %w", err)
	}
	printStates(cmd.OutOrStdout(), recs)
	return nil
}

func runStateReset(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !stateResetAll {
		return fmt.Errorf("give a symbol or --all")
	}
	var side exchange.Side
	if stateResetSide != "" {
		var ok bool
		if side, ok = exchange.ParseSide(stateResetSide); !ok {
			return fmt.Errorf("invalid --side %q", stateResetSide)
		}
	}

	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	recs, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("list state: %w", err)
	}

	out := cmd.OutOrStdout()
	n := 0
	for _, r := range resetTargets(recs, args, side) {
		if err := s.Delete(ctx, r.Key); err != nil {
			return fmt.Errorf("delete %s: %w", r.Key, err)
		}
		fmt.Fprintf(out, "deleted %s\n", r.Key)
		n++
	}
	fmt.Fprintf(out, "%d record(s) deleted\n", n)
	return nil
}

// resetTargets picks the records a reset applies to. No symbol means all.
func resetTargets(recs []state.Record, args []string, side exchange.Side) []state.Record {
	var out []state.Record
	for _, r := range recs {
		if len(args) > 0 && r.Key.Symbol != args[0] {
			continue
		}
		if side != "" && r.Key.Side != side {
			continue
		}
		out = append(out, r)
	}
	return out
}

func printStates(w io.Writer, recs []state.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no trailing state")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tSIDE\tFILE\tTHRESHOLD\tPROFIT TARGET\tSTOP\tPENDING\tUPDATED")
	for _, r := range recs {
		t := r.Trailing
		updated := ""
		if !t.UpdatedAt.IsZero() {
			updated = t.UpdatedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%.4f\t%g\t%s\t%s\n",
			r.Key.Symbol, r.Key.Side, r.Key.Name(), t.Threshold, t.ProfitTargetDistance, t.StopPrice, t.PendingStopOrderID, updated)
	}
	tw.Flush()
}
