package journal

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FormatEntryOrg renders an Entry as an Org-mode heading with its facts in a
// PROPERTIES drawer.
func FormatEntryOrg(e Entry) string {
	heading := fmt.Sprintf("** %s %s %s (%s)", strings.ToUpper(string(e.Action)), e.Symbol, e.Side, shortID(e.ID))

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n")
	b.WriteString(":PROPERTIES:\n")
	b.WriteString(fmt.Sprintf(":ID: %s\n", e.ID))
	b.WriteString(fmt.Sprintf(":TIME: %s\n", e.Time.UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf(":TICK_ID: %s\n", e.TickID))
	b.WriteString(fmt.Sprintf(":SYMBOL: %s\n", e.Symbol))
	b.WriteString(fmt.Sprintf(":SIDE: %s\n", e.Side))
	b.WriteString(fmt.Sprintf(":ACTION: %s\n", e.Action))
	if e.Price != 0 {
		b.WriteString(fmt.Sprintf(":PRICE: %g\n", e.Price))
	}
	if e.Amount != 0 {
		b.WriteString(fmt.Sprintf(":AMOUNT: %g\n", e.Amount))
	}
	if e.OrderID != "" {
		b.WriteString(fmt.Sprintf(":ORDER_ID: %s\n", e.OrderID))
	}
	b.WriteString(":END:\n")
	if e.Detail != "" {
		b.WriteString(e.Detail)
		b.WriteString("\n")
	}
	return b.String()
}

// FormatDayOrg renders a day's entries under one heading with a per-action
// summary table.
func FormatDayOrg(day time.Time, entries []Entry) string {
	counts := map[Action]int{}
	for _, e := range entries {
		counts[e.Action]++
	}
	actions := make([]string, 0, len(counts))
	for a := range counts {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("* Journal %s\n", day.Format("2006-01-02 Mon")))
	b.WriteString("| Action | Count |\n|--------+-------|\n")
	for _, a := range actions {
		b.WriteString(fmt.Sprintf("| %s | %d |\n", a, counts[Action(a)]))
	}
	for _, e := range entries {
		b.WriteString("\n")
		b.WriteString(FormatEntryOrg(e))
	}
	return b.String()
}

// FormatTable renders entries as aligned plain text, one per line.
func FormatTable(entries []Entry) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-20s %-18s %-6s %-16s %14s %14s  %s\n", "TIME", "SYMBOL", "SIDE", "ACTION", "PRICE", "AMOUNT", "DETAIL"))
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("%-20s %-18s %-6s %-16s %14g %14g  %s\n",
			e.Time.UTC().Format("2006-01-02 15:04:05"), e.Symbol, e.Side, e.Action, e.Price, e.Amount, e.Detail))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
