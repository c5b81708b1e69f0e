package paper

import (
	"fmt"

	"github.com/rustyeddy/trailguard/exchange"
)

type EventKind string

const (
	EventOrderFilled  EventKind = "order_filled"
	EventStopFilled   EventKind = "stop_filled"
	EventStopCanceled EventKind = "stop_canceled"
	EventLiquidated   EventKind = "liquidated"
)

// Event is something SetMark caused to happen.
type Event struct {
	Kind    EventKind
	Symbol  string
	Side    exchange.Side
	OrderID string
	Price   float64
	Amount  float64
}

func (ev Event) String() string {
	if ev.OrderID == "" {
		return fmt.Sprintf("%s %s %s %v @ %v", ev.Kind, ev.Symbol, ev.Side, ev.Amount, ev.Price)
	}
	return fmt.Sprintf("%s %s %s order=%s %v @ %v", ev.Kind, ev.Symbol, ev.Side, ev.OrderID, ev.Amount, ev.Price)
}

func hitTrigger(dir exchange.TriggerDirection, trigger, mark float64) bool {
	switch dir {
	case exchange.TriggerFalling:
		return mark <= trigger
	case exchange.TriggerRising:
		return mark >= trigger
	}
	return false
}

// liquidationPrice is the isolated-margin bankruptcy price moved in by the
// maintenance margin rate.
func liquidationPrice(side exchange.Side, entry, leverage, mm float64) float64 {
	leverage = normLeverage(leverage)
	if side == exchange.Short {
		return entry * (1 + 1/leverage - mm)
	}
	return entry * (1 - 1/leverage + mm)
}

func hitLiquidation(side exchange.Side, liq, mark float64) bool {
	if liq <= 0 {
		return false
	}
	if side == exchange.Short {
		return mark >= liq
	}
	return mark <= liq
}
