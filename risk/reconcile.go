package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/journal"
	"github.com/rustyeddy/trailguard/state"
)

// Reconcile deletes stored state for every key without an open position in
// positions and returns the keys it removed. Running it twice on the same
// snapshot deletes nothing the second time.
func (e *Engine) Reconcile(ctx context.Context, positions []exchange.Position) ([]state.Key, error) {
	active := make(map[state.Key]bool, len(positions))
	for _, p := range positions {
		if p.Contracts > 0 {
			active[state.KeyFor(p)] = true
		}
	}

	recs, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list state: %w", err)
	}

	var (
		deleted []state.Key
		errs    []error
	)
	for _, r := range recs {
		if active[r.Key] {
			continue
		}
		if err := e.store.Delete(ctx, r.Key); err != nil {
			errs = append(errs, fmt.Errorf("delete state %s: %w", r.Key.Name(), err))
			continue
		}
		deleted = append(deleted, r.Key)
		e.log.Info("orphaned state removed", "symbol", r.Key.Symbol, "side", r.Key.Side, "order", r.Trailing.PendingStopOrderID)
		e.record(ctx, journal.Entry{
			Symbol:  r.Key.Symbol,
			Side:    string(r.Key.Side),
			Action:  journal.ActionReconcileDelete,
			OrderID: r.Trailing.PendingStopOrderID,
		})
	}
	e.metrics.States(len(recs) - len(deleted))
	return deleted, errors.Join(errs...)
}
