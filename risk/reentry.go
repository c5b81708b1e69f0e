package risk

import (
	"context"
	"fmt"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/internal/id"
	"github.com/rustyeddy/trailguard/journal"
	"github.com/rustyeddy/trailguard/state"
)

// EvaluateReentry doubles a position whose mark has come within the policy's
// closeness of liquidation. It keeps no state and never retries.
func (e *Engine) EvaluateReentry(ctx context.Context, p exchange.Position) (Outcome, error) {
	if !e.policy.ReentryEnabled {
		return OutcomeSkipped, nil
	}
	if d := CheckReentry(p); !d.Allowed {
		e.log.Debug("reentry skipped", "symbol", p.Symbol, "side", p.Side, "reason", d.String())
		return OutcomeSkipped, nil
	}

	c := Closeness(p.EntryPrice, p.MarkPrice, p.LiquidationPrice)
	if c < e.policy.ReentryCloseness {
		return OutcomeNone, nil
	}

	m, ok := e.Market(p.Symbol)
	if !ok || m.AmountIncrement <= 0 {
		e.log.Warn("reentry without market metadata", "symbol", p.Symbol, "side", p.Side, "closeness", c)
		return OutcomeSkipped, nil
	}
	amount := ReentryAmount(p.Notional, p.MarkPrice, m.AmountIncrement)
	if amount <= 0 {
		return OutcomeSkipped, nil
	}

	req := exchange.OrderRequest{
		Symbol:        p.Symbol,
		Type:          exchange.MarketOrder,
		Side:          p.Side.Opening(),
		Amount:        amount,
		MarginMode:    exchange.Isolated,
		PositionSide:  p.Side,
		ClientOrderID: id.ClientOrderID("tgre"),
	}
	if e.isOneWay(p.Symbol) {
		req.PositionSide = ""
	}

	key := state.KeyFor(p)
	order, err := e.client.CreateOrder(ctx, req)
	if err != nil {
		e.orderError(ctx, "create_reentry", key, err)
		return OutcomeFailed, fmt.Errorf("reentry %s amount %g: %w", key, amount, err)
	}

	e.log.Info("position re-entered",
		"symbol", p.Symbol,
		"side", p.Side,
		"closeness", c,
		"entry", p.EntryPrice,
		"mark", p.MarkPrice,
		"liquidation", p.LiquidationPrice,
		"amount", amount,
		"order", order.ID,
	)
	e.metrics.Reentry(p.Symbol, p.Side)
	e.record(ctx, journal.Entry{
		Symbol:  p.Symbol,
		Side:    string(p.Side),
		Action:  journal.ActionReentry,
		Detail:  fmt.Sprintf("closeness=%.4f liquidation=%g", c, p.LiquidationPrice),
		Price:   p.MarkPrice,
		Amount:  amount,
		OrderID: order.ID,
	})
	return OutcomeReentered, nil
}
