package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/trailguard/config"
	"github.com/rustyeddy/trailguard/state"
)

var paperCmd = &cobra.Command{
	Use:   "paper",
	Short: "Dry run the engine against the paper exchange",
	Long: `Replay the configured price path against an in-memory exchange.

Each entry in paper.steps sets mark prices, prints the fills and
liquidations they cause, then runs one tick. Trailing state is kept in
memory unless --keep-state is given.

Example:
  trailguard paper -f examples/paper.yaml --steps 5`,
	Args: cobra.NoArgs,
	RunE: runPaper,
}

var (
	paperSteps     int
	paperKeepState bool
)

func init() {
	rootCmd.AddCommand(paperCmd)

	paperCmd.Flags().IntVar(&paperSteps, "steps", 0, "stop after N steps (0 = all)")
	paperCmd.Flags().BoolVar(&paperKeepState, "keep-state", false, "use the configured state backend instead of memory")
}

func runPaper(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Exchange.Name = "paper"
	if !paperKeepState {
		cfg.State.Backend = state.BackendMemory
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := setupLogger(cfg)
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.LoadMarkets(ctx); err != nil {
		return fmt.Errorf("load markets: %w", err)
	}

	steps := cfg.Paper.Steps
	if paperSteps > 0 && paperSteps < len(steps) {
		steps = steps[:paperSteps]
	}
	if len(steps) == 0 {
		steps = []map[string]float64{nil}
	}

	for i, marks := range steps {
		symbols := make([]string, 0, len(marks))
		for s := range marks {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)

		fmt.Fprintf(out, "step %d\n", i+1)
		for _, s := range symbols {
			events, err := a.paper.SetMark(s, marks[s])
			if err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
			fmt.Fprintf(out, "  mark %s = %g\n", s, marks[s])
			for _, ev := range events {
				fmt.Fprintf(out, "  %s\n", ev)
			}
		}

		res, err := a.engine.Tick(ctx)
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		printTick(out, res)
	}

	recs, err := a.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list state: %w", err)
	}
	fmt.Fprintln(out)
	printStates(out, recs)
	return nil
}
