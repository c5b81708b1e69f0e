package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/exchange/paper"
	"github.com/rustyeddy/trailguard/state"
)

func newPaper(t *testing.T, cfg paper.Config) (*paper.Exchange, *Engine, *state.Memory) {
	t.Helper()
	if cfg.Balance == 0 {
		cfg.Balance = 10_000
	}
	px := paper.New(cfg)
	px.AddMarket(exchange.Market{Symbol: btc, Quote: "USDT", Settle: "USDT", AmountIncrement: 0.001, PriceIncrement: 0.1, MinAmount: 0.001, Active: true})
	store := state.NewMemory()
	e := New(px, store, DefaultPolicy(), discardLogger())
	require.NoError(t, e.LoadMarkets(context.Background()))
	return px, e, store
}

func mark(t *testing.T, px *paper.Exchange, price float64) []paper.Event {
	t.Helper()
	ev, err := px.SetMark(btc, price)
	require.NoError(t, err)
	return ev
}

func tick(t *testing.T, e *Engine) TickResult {
	t.Helper()
	res, err := e.Tick(context.Background())
	require.NoError(t, err)
	return res
}

func TestPaperStopRatchetsThenFills(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	px, e, store := newPaper(t, paper.Config{Mode: paper.Hedge})
	require.NoError(t, px.OpenPosition(btc, exchange.Long, 1, 100, 10))
	key := state.Key{Symbol: btc, Side: exchange.Long}

	mark(t, px, 102)
	res := tick(t, e)
	assert.Equal(t, 1, res.Ratchets)

	first, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.InDelta(t, 100.1, first.StopPrice, 1e-9)

	mark(t, px, 103)
	res = tick(t, e)
	assert.Equal(t, 1, res.Ratchets)

	second, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.InDelta(t, 101.1, second.StopPrice, 1e-9)
	assert.Greater(t, second.Threshold, first.Threshold)

	old, err := px.FetchOrder(ctx, first.PendingStopOrderID, btc)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusCanceled, old.Status)

	open, err := px.FetchOpenOrders(ctx, btc)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.PendingStopOrderID, open[0].ID)

	events := mark(t, px, 101)
	require.Len(t, events, 1)
	assert.Equal(t, paper.EventStopFilled, events[0].Kind)

	res = tick(t, e)
	assert.Zero(t, res.Positions)
	assert.Equal(t, []state.Key{key}, res.Reconciled)

	recs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPaperOneWayAccount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	px, e, store := newPaper(t, paper.Config{Mode: paper.OneWay})
	require.NoError(t, px.OpenPosition(btc, exchange.Long, 1, 100, 10))

	mark(t, px, 102)
	res := tick(t, e)
	assert.Equal(t, 1, res.Ratchets)
	assert.Zero(t, res.Errors)

	mark(t, px, 103)
	res = tick(t, e)
	assert.Equal(t, 1, res.Ratchets)

	open, err := px.FetchOpenOrders(ctx, btc)
	require.NoError(t, err)
	require.Len(t, open, 1)

	st, err := store.Get(ctx, state.Key{Symbol: btc, Side: exchange.Long})
	require.NoError(t, err)
	assert.Equal(t, open[0].ID, st.PendingStopOrderID)
}

func TestPaperHedgeCancelNeedsSide(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	px, e, _ := newPaper(t, paper.Config{Mode: paper.Hedge, CancelNeedsPositionSide: true})
	require.NoError(t, px.OpenPosition(btc, exchange.Short, 1, 100, 10))

	mark(t, px, 98)
	tick(t, e)
	mark(t, px, 97)
	res := tick(t, e)
	assert.Equal(t, 1, res.Ratchets)

	open, err := px.FetchOpenOrders(ctx, btc)
	require.NoError(t, err)
	require.Len(t, open, 1, "the previous stop was canceled on the retry")
	assert.InDelta(t, 98.9, open[0].TriggerPrice, 1e-9)
}

func TestPaperReentryDoublesPosition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	px, e, store := newPaper(t, paper.Config{Mode: paper.Hedge})
	require.NoError(t, px.OpenPosition(btc, exchange.Long, 1, 100, 10))

	// liquidation is 90.5; 92 is 84% of the way there
	events := mark(t, px, 92)
	require.Empty(t, events)

	res := tick(t, e)
	assert.Equal(t, 1, res.Reentries)
	assert.Zero(t, res.Ratchets)

	ps, err := px.FetchPositions(ctx, []string{btc})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.InDelta(t, 3.0, ps[0].Contracts, 1e-9)
	assert.InDelta(t, (100.0+2*92)/3, ps[0].EntryPrice, 1e-9)

	recs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestPaperExternalCancelClearsReference(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	px, e, store := newPaper(t, paper.Config{Mode: paper.Hedge})
	require.NoError(t, px.OpenPosition(btc, exchange.Long, 1, 100, 10))
	key := state.Key{Symbol: btc, Side: exchange.Long}

	mark(t, px, 102)
	tick(t, e)
	st, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NoError(t, px.CancelOrder(ctx, st.PendingStopOrderID, btc, exchange.CancelParams{}))

	mark(t, px, 101.5)
	res := tick(t, e)
	assert.Equal(t, 1, res.Cancels)

	after, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, after.PendingStopOrderID)
	assert.Equal(t, st.Threshold, after.Threshold)
}
