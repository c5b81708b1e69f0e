package risk

import (
	"context"
	"fmt"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/journal"
	"github.com/rustyeddy/trailguard/state"
)

// CheckFilled follows the tracked stop of p. A filled stop retires the
// state; a stop canceled elsewhere only clears the reference, or is placed
// again at the stored price when the policy asks for it.
func (e *Engine) CheckFilled(ctx context.Context, p exchange.Position) (Outcome, error) {
	key := state.KeyFor(p)
	if key.Validate() != nil {
		return OutcomeSkipped, nil
	}
	st, found, err := e.loadState(ctx, key)
	if err != nil {
		return OutcomeFailed, err
	}
	if !found || !st.HasPending() {
		return OutcomeNone, nil
	}

	order, err := e.client.FetchOrder(ctx, st.PendingStopOrderID, p.Symbol)
	switch {
	case err == nil && order.Status.Done():
		if err := e.store.Delete(ctx, key); err != nil {
			return OutcomeFailed, fmt.Errorf("delete state %s: %w", key.Name(), err)
		}
		e.log.Info("stop filled", "symbol", p.Symbol, "side", p.Side, "order", order.ID, "trigger", order.TriggerPrice)
		e.record(ctx, journal.Entry{
			Symbol:  p.Symbol,
			Side:    string(p.Side),
			Action:  journal.ActionStopFilled,
			Price:   order.TriggerPrice,
			Amount:  order.Filled,
			OrderID: order.ID,
		})
		return OutcomeFilled, nil

	case err == nil && order.Status == exchange.StatusCanceled, exchange.IsKind(err, exchange.KindNotFound):
		return e.stopCanceled(ctx, p, key, st)

	case err != nil:
		e.orderError(ctx, "fetch_order", key, err)
		e.log.Warn("fetch stop failed", "symbol", p.Symbol, "side", p.Side, "order", st.PendingStopOrderID, "err", err)
		return OutcomeNone, nil
	}
	return OutcomeNone, nil
}

func (e *Engine) stopCanceled(ctx context.Context, p exchange.Position, key state.Key, st state.Trailing) (Outcome, error) {
	gone := st.PendingStopOrderID
	st.PendingStopOrderID = ""

	detail := "cleared"
	if e.policy.RearmOnCancel && st.StopPrice > 0 && p.Contracts > 0 && BeyondEntry(p.Side, p.EntryPrice, st.StopPrice) {
		order, err := e.placeStop(ctx, p, st.StopPrice)
		if err != nil {
			e.log.Warn("rearm stop failed", "symbol", p.Symbol, "side", p.Side, "stop", st.StopPrice, "err", err)
			detail = "rearm failed"
		} else {
			st.PendingStopOrderID = order.ID
			detail = "rearmed " + order.ID
		}
	}

	st.UpdatedAt = e.now().UTC()
	if err := e.store.Put(ctx, key, st); err != nil {
		return OutcomeFailed, fmt.Errorf("save state %s: %w", key.Name(), err)
	}
	e.log.Info("stop canceled externally", "symbol", p.Symbol, "side", p.Side, "order", gone, "result", detail)
	e.record(ctx, journal.Entry{
		Symbol:  p.Symbol,
		Side:    string(p.Side),
		Action:  journal.ActionStopCanceled,
		Detail:  detail,
		Price:   st.StopPrice,
		OrderID: gone,
	})
	return OutcomeCanceled, nil
}
