package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/journal"
	"github.com/rustyeddy/trailguard/state"
)

func TestCheckFilledWithoutPendingIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mc := newMockClient()
	e, store, _ := newTestEngine(t, mc, DefaultPolicy())

	out, err := e.CheckFilled(ctx, longPos(105))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, out)

	key := state.Key{Symbol: btc, Side: exchange.Long}
	require.NoError(t, store.Put(ctx, key, state.Trailing{Threshold: 0.2}))
	out, err = e.CheckFilled(ctx, longPos(105))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, out)
	assert.Empty(t, mc.fetchOrderIDs)
}

func TestCheckFilled(t *testing.T) {
	t.Parallel()

	key := state.Key{Symbol: btc, Side: exchange.Long}
	seeded := state.Trailing{Threshold: 0.3, ProfitTargetDistance: 0.21, PendingStopOrderID: "stop-1", StopPrice: 101.1}

	tests := []struct {
		name        string
		status      exchange.OrderStatus
		fetchErr    error
		want        Outcome
		wantDeleted bool
		wantPending string
		action      journal.Action
	}{
		{"filled", exchange.StatusFilled, nil, OutcomeFilled, true, "", journal.ActionStopFilled},
		{"closed", exchange.StatusClosed, nil, OutcomeFilled, true, "", journal.ActionStopFilled},
		{"canceled", exchange.StatusCanceled, nil, OutcomeCanceled, false, "", journal.ActionStopCanceled},
		{"not found", "", exchange.NewError(exchange.KindNotFound, "fetch_order", "gone"), OutcomeCanceled, false, "", journal.ActionStopCanceled},
		{"open", exchange.StatusOpen, nil, OutcomeNone, false, "stop-1", ""},
		{"fetch failure", "", exchange.NewError(exchange.KindTransient, "fetch_order", "timeout"), OutcomeNone, false, "stop-1", journal.ActionError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			mc := newMockClient()
			mc.fetchErr = tt.fetchErr
			if tt.status != "" {
				mc.orders["stop-1"] = exchange.Order{ID: "stop-1", Symbol: btc, Type: exchange.Stop, Status: tt.status, TriggerPrice: 101.1}
			}
			e, store, j := newTestEngine(t, mc, DefaultPolicy())
			require.NoError(t, store.Put(ctx, key, seeded))

			out, err := e.CheckFilled(ctx, longPos(105))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
			assert.Equal(t, []string{"stop-1"}, mc.fetchOrderIDs)
			assert.Empty(t, mc.creates, "nothing is re-armed by default")

			st, err := store.Get(ctx, key)
			if tt.wantDeleted {
				assert.ErrorIs(t, err, state.ErrNotFound)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantPending, st.PendingStopOrderID)
				assert.Equal(t, seeded.Threshold, st.Threshold)
				assert.Equal(t, seeded.ProfitTargetDistance, st.ProfitTargetDistance)
			}

			if tt.action == "" {
				assert.Empty(t, j.entries)
			} else {
				assert.Equal(t, []journal.Action{tt.action}, j.actions())
			}
		})
	}
}

func TestCheckFilledRearmsOnCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	key := state.Key{Symbol: btc, Side: exchange.Long}
	mc := newMockClient()
	mc.orders["stop-1"] = exchange.Order{ID: "stop-1", Symbol: btc, Status: exchange.StatusCanceled}

	policy := DefaultPolicy()
	policy.RearmOnCancel = true
	e, store, _ := newTestEngine(t, mc, policy)
	require.NoError(t, store.Put(ctx, key, state.Trailing{Threshold: 0.3, ProfitTargetDistance: 0.21, PendingStopOrderID: "stop-1", StopPrice: 101.1}))

	out, err := e.CheckFilled(ctx, longPos(105))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCanceled, out)

	require.Len(t, mc.creates, 1)
	assert.InDelta(t, 101.1, mc.creates[0].TriggerPrice, 1e-9)
	assert.True(t, mc.creates[0].ReduceOnly)

	st, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", st.PendingStopOrderID)
	assert.InDelta(t, 0.3, st.Threshold, 1e-12, "re-arming is not a ratchet")
}
