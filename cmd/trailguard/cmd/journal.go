package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/trailguard/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the action journal",
	Long: `Query and display the actions the engine has taken.

Subcommands:
  today   - Actions recorded today
  day     - Actions recorded on a specific day
  symbol  - Every action for one symbol

Examples:
  trailguard journal today
  trailguard journal day 2024-01-15 --org
  trailguard journal symbol BTC/USDT:USDT`,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List actions recorded today",
	Args:  cobra.NoArgs,
	RunE:  runJournalToday,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List actions recorded on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalSymbolCmd = &cobra.Command{
	Use:   "symbol <symbol>",
	Short: "List every action for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalSymbol,
}

var journalOrg bool

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalSymbolCmd)

	journalCmd.PersistentFlags().BoolVar(&journalOrg, "org", false, "print Org-mode instead of a table")
}

func openReader() (journal.Journal, journal.Reader, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	j, err := journal.Open(cfg.Journal.Type, cfg.Journal.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	r, ok := j.(journal.Reader)
	if !ok {
		j.Close()
		return nil, nil, fmt.Errorf("journal type %q cannot be queried", cfg.Journal.Type)
	}
	return j, r, nil
}

func runJournalToday(cmd *cobra.Command, args []string) error {
	return journalDay(cmd.OutOrStdout(), time.Now().In(time.Local).Format("2006-01-02"))
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	return journalDay(cmd.OutOrStdout(), args[0])
}

func journalDay(w io.Writer, day string) error {
	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	j, r, err := openReader()
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := r.ListBetween(start, end)
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}
	if journalOrg {
		fmt.Fprint(w, journal.FormatDayOrg(start, entries))
		return nil
	}
	fmt.Fprint(w, journal.FormatTable(entries))
	return nil
}

func runJournalSymbol(cmd *cobra.Command, args []string) error {
	j, r, err := openReader()
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := r.ListBySymbol(args[0])
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}
	w := cmd.OutOrStdout()
	if journalOrg {
		for _, e := range entries {
			fmt.Fprintln(w, journal.FormatEntryOrg(e))
		}
		return nil
	}
	fmt.Fprint(w, journal.FormatTable(entries))
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
