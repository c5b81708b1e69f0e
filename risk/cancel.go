package risk

import (
	"context"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/state"
)

// cancelStop cancels orderID without a position side, retrying once with the
// side only when the exchange reports a position-mode mismatch. It reports
// whether the order is gone. Failures are logged and never fatal.
func (e *Engine) cancelStop(ctx context.Context, key state.Key, orderID string) bool {
	err := e.client.CancelOrder(ctx, orderID, key.Symbol, exchange.CancelParams{})
	if err == nil || exchange.IsKind(err, exchange.KindNotFound) {
		return true
	}

	if exchange.IsKind(err, exchange.KindPositionModeMismatch) {
		e.log.Debug("cancel needs position side, retrying", "symbol", key.Symbol, "side", key.Side, "order", orderID)
		err = e.client.CancelOrder(ctx, orderID, key.Symbol, exchange.CancelParams{PositionSide: key.Side})
		if err == nil || exchange.IsKind(err, exchange.KindNotFound) {
			return true
		}
	}

	e.orderError(ctx, "cancel_order", key, err)
	e.log.Warn("cancel stop failed", "symbol", key.Symbol, "side", key.Side, "order", orderID, "err", err)
	return false
}

// sweepStaleStops cancels reduce-only stops left on the exchange for key when
// nothing is tracked locally, e.g. after the state was lost or reset.
func (e *Engine) sweepStaleStops(ctx context.Context, key state.Key) {
	orders, err := e.client.FetchOpenOrders(ctx, key.Symbol)
	if err != nil {
		e.log.Warn("fetch open orders failed", "symbol", key.Symbol, "err", err)
		return
	}
	for _, o := range orders {
		if o.Type != exchange.Stop || !o.ReduceOnly || o.Side != key.Side.Closing() {
			continue
		}
		if o.PositionSide != "" && o.PositionSide != key.Side {
			continue
		}
		e.log.Info("canceling untracked stop", "symbol", key.Symbol, "side", key.Side, "order", o.ID, "trigger", o.TriggerPrice)
		e.cancelStop(ctx, key, o.ID)
	}
}
