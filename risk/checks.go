package risk

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/trailguard/exchange"
)

// Violation is one reason a position was skipped.
type Violation struct {
	Code string
	Msg  string
}

// Decision collects the guard results for one evaluation. Allowed is false
// as soon as any violation is added.
type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	parts := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		parts = append(parts, v.Code)
	}
	return strings.Join(parts, ",")
}

// CheckTrailing guards the trailing-stop path.
func CheckTrailing(p exchange.Position) Decision {
	d := Decision{Allowed: true}
	if p.EntryPrice <= 0 {
		d.add("NO_ENTRY", fmt.Sprintf("entry price %g", p.EntryPrice))
	}
	if p.MarkPrice <= 0 {
		d.add("NO_MARK", fmt.Sprintf("mark price %g", p.MarkPrice))
	}
	if !p.Side.Valid() {
		d.add("BAD_SIDE", fmt.Sprintf("side %q", p.Side))
	}
	if p.Contracts <= 0 {
		d.add("NO_CONTRACTS", fmt.Sprintf("contracts %g", p.Contracts))
	}
	return d
}

// CheckReentry guards the re-entry path. Entry equal to liquidation would
// divide by zero in Closeness and is treated as missing data.
func CheckReentry(p exchange.Position) Decision {
	d := Decision{Allowed: true}
	if p.EntryPrice == 0 {
		d.add("NO_ENTRY", "entry price missing")
	}
	if p.MarkPrice == 0 {
		d.add("NO_MARK", "mark price missing")
	}
	if p.LiquidationPrice == 0 {
		d.add("NO_LIQUIDATION", "liquidation price missing")
	}
	if d.Allowed && p.EntryPrice == p.LiquidationPrice {
		d.add("ENTRY_AT_LIQUIDATION", fmt.Sprintf("entry %g equals liquidation", p.EntryPrice))
	}
	if !p.Side.Valid() {
		d.add("BAD_SIDE", fmt.Sprintf("side %q", p.Side))
	}
	return d
}
