package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/internal/id"
	"github.com/rustyeddy/trailguard/journal"
	"github.com/rustyeddy/trailguard/state"
)

func isNotFound(err error) bool { return errors.Is(err, state.ErrNotFound) }

// EvaluateTrailing applies the kill-switch or, when the position has run far
// enough, moves its protective stop one step further into profit.
func (e *Engine) EvaluateTrailing(ctx context.Context, p exchange.Position) (Outcome, error) {
	if !e.policy.TrailingEnabled {
		return OutcomeSkipped, nil
	}
	if d := CheckTrailing(p); !d.Allowed {
		e.log.Debug("trailing skipped", "symbol", p.Symbol, "side", p.Side, "reason", d.String())
		return OutcomeSkipped, nil
	}

	key := state.KeyFor(p)
	st, found, err := e.loadState(ctx, key)
	if err != nil {
		return OutcomeFailed, err
	}

	if p.PnL() <= 0 {
		if !found {
			return OutcomeNone, nil
		}
		return e.kill(ctx, p, key, st)
	}

	if !found {
		st = e.seed()
	}

	pd := ProfitDistance(p.Side, p.EntryPrice, p.MarkPrice, p.Leverage)
	if pd < st.Threshold {
		e.log.Debug("below threshold", "symbol", p.Symbol, "side", p.Side, "profit_distance", pd, "threshold", st.Threshold)
		return OutcomeNone, nil
	}

	stop := StopPrice(p.Side, p.EntryPrice, st.ProfitTargetDistance, p.Leverage)
	if m, ok := e.Market(p.Symbol); ok {
		stop = RoundToIncrement(stop, m.PriceIncrement)
	}
	if !BeyondEntry(p.Side, p.EntryPrice, stop) {
		e.log.Warn("stop not beyond entry", "symbol", p.Symbol, "side", p.Side, "entry", p.EntryPrice, "stop", stop)
		return OutcomeSkipped, nil
	}

	if st.HasPending() {
		e.cancelStop(ctx, key, st.PendingStopOrderID)
	} else {
		e.sweepStaleStops(ctx, key)
	}

	order, err := e.placeStop(ctx, p, stop)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("place stop %s at %g: %w", key, stop, err)
	}

	prev := st
	st.Threshold += e.policy.BreathThreshold
	st.ProfitTargetDistance += e.policy.BreathStop
	st.PendingStopOrderID = order.ID
	st.StopPrice = stop
	st.UpdatedAt = e.now().UTC()
	if err := e.store.Put(ctx, key, st); err != nil {
		return OutcomeFailed, fmt.Errorf("save state %s: %w", key.Name(), err)
	}

	e.log.Info("stop ratcheted",
		"symbol", p.Symbol,
		"side", p.Side,
		"profit_distance", pd,
		"threshold", prev.Threshold,
		"profit_target", prev.ProfitTargetDistance,
		"stop", stop,
		"order", order.ID,
		"next_threshold", st.Threshold,
	)
	e.metrics.Ratchet(p.Symbol, p.Side)
	e.record(ctx, journal.Entry{
		Symbol:  p.Symbol,
		Side:    string(p.Side),
		Action:  journal.ActionRatchet,
		Detail:  fmt.Sprintf("profit_distance=%.4f threshold=%.4f profit_target=%.4f", pd, prev.Threshold, prev.ProfitTargetDistance),
		Price:   stop,
		Amount:  p.Contracts,
		OrderID: order.ID,
	})
	return OutcomeRatcheted, nil
}

// kill drops the stop and state of a position that is no longer in profit.
func (e *Engine) kill(ctx context.Context, p exchange.Position, key state.Key, st state.Trailing) (Outcome, error) {
	if st.HasPending() {
		e.cancelStop(ctx, key, st.PendingStopOrderID)
	}
	if err := e.store.Delete(ctx, key); err != nil {
		return OutcomeFailed, fmt.Errorf("delete state %s: %w", key.Name(), err)
	}

	e.log.Info("trailing state killed", "symbol", p.Symbol, "side", p.Side, "pnl", p.PnL(), "order", st.PendingStopOrderID)
	e.metrics.Kill(p.Symbol, p.Side)
	e.record(ctx, journal.Entry{
		Symbol:  p.Symbol,
		Side:    string(p.Side),
		Action:  journal.ActionKill,
		Detail:  fmt.Sprintf("pnl=%g", p.PnL()),
		Price:   p.MarkPrice,
		OrderID: st.PendingStopOrderID,
	})
	return OutcomeKilled, nil
}

// placeStop submits a reduce-only stop-market order, first tagged for a
// hedge-mode account and then once more untagged for one-way mode.
func (e *Engine) placeStop(ctx context.Context, p exchange.Position, stop float64) (exchange.Order, error) {
	key := state.KeyFor(p)
	dir := exchange.TriggerFalling
	if p.Side == exchange.Short {
		dir = exchange.TriggerRising
	}
	req := exchange.OrderRequest{
		Symbol:           p.Symbol,
		Type:             exchange.Stop,
		Side:             p.Side.Closing(),
		Amount:           p.Contracts,
		PositionSide:     p.Side,
		TriggerPrice:     stop,
		TriggerBy:        exchange.TriggerLastPrice,
		TriggerDirection: dir,
		ReduceOnly:       true,
		CloseOnTrigger:   true,
		ClientOrderID:    id.ClientOrderID("tgstop"),
	}

	order, hedgeErr := e.client.CreateOrder(ctx, req)
	if hedgeErr == nil {
		e.setOneWay(p.Symbol, false)
		return order, nil
	}
	e.orderError(ctx, "create_stop", key, hedgeErr)
	e.log.Warn("hedge-mode stop failed, retrying one-way", "symbol", p.Symbol, "side", p.Side, "err", hedgeErr)

	req.PositionSide = ""
	req.ClientOrderID = id.ClientOrderID("tgstop")
	order, oneWayErr := e.client.CreateOrder(ctx, req)
	if oneWayErr != nil {
		e.orderError(ctx, "create_stop", key, oneWayErr)
		return exchange.Order{}, errors.Join(hedgeErr, oneWayErr)
	}
	e.setOneWay(p.Symbol, true)
	return order, nil
}
