package paper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/trailguard/exchange"
)

const btc = "BTC/USDT:USDT"

func newExchange(t *testing.T, mode Mode) *Exchange {
	t.Helper()
	e := New(Config{Mode: mode, Balance: 10_000})
	e.AddMarket(exchange.Market{Symbol: btc, AmountIncrement: 0.001, PriceIncrement: 0.1, MinAmount: 0.001})
	return e
}

func stopReq(side exchange.Side, amount, trigger float64, tag bool) exchange.OrderRequest {
	req := exchange.OrderRequest{
		Symbol:       btc,
		Type:         exchange.Stop,
		Side:         side.Closing(),
		Amount:       amount,
		TriggerPrice: trigger,
		ReduceOnly:   true,
	}
	if tag {
		req.PositionSide = side
	}
	return req
}

func TestOpenPositionSnapshot(t *testing.T) {
	t.Parallel()

	e := newExchange(t, Hedge)
	require.NoError(t, e.OpenPosition(btc, exchange.Long, 2, 100, 10))
	_, err := e.SetMark(btc, 105)
	require.NoError(t, err)

	ps, err := e.FetchPositions(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, ps, 1)

	p := ps[0]
	assert.Equal(t, exchange.Long, p.Side)
	assert.InDelta(t, 10.0, p.UnrealizedPnl, 1e-9)
	assert.InDelta(t, 210.0, p.Notional, 1e-9)
	assert.InDelta(t, 100*(1-0.1+DefaultMaintenanceMargin), p.LiquidationPrice, 1e-9)
	assert.Equal(t, 10.0, p.Leverage)
}

func TestFetchPositionsFiltersSymbols(t *testing.T) {
	t.Parallel()

	e := newExchange(t, Hedge)
	require.NoError(t, e.OpenPosition(btc, exchange.Long, 1, 100, 5))
	require.NoError(t, e.OpenPosition("ETH/USDT:USDT", exchange.Short, 1, 10, 5))

	ps, err := e.FetchPositions(context.Background(), []string{"ETH/USDT:USDT"})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, exchange.Short, ps[0].Side)
}

func TestCreateOrderPositionMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mode     Mode
		tag      bool
		wantKind exchange.Kind
	}{
		{"hedge tagged", Hedge, true, exchange.KindUnknown},
		{"hedge untagged", Hedge, false, exchange.KindPositionModeMismatch},
		{"one-way tagged", OneWay, true, exchange.KindPositionModeMismatch},
		{"one-way untagged", OneWay, false, exchange.KindUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newExchange(t, tt.mode)
			require.NoError(t, e.OpenPosition(btc, exchange.Long, 1, 100, 10))

			o, err := e.CreateOrder(context.Background(), stopReq(exchange.Long, 1, 95, tt.tag))
			if tt.wantKind == exchange.KindUnknown {
				require.NoError(t, err)
				assert.Equal(t, exchange.StatusOpen, o.Status)
				assert.Equal(t, exchange.Long, o.PositionSide)
				return
			}
			assert.True(t, exchange.IsKind(err, tt.wantKind), "got %v", err)
		})
	}
}

func TestStopRejectedWhenAlreadyCrossed(t *testing.T) {
	t.Parallel()

	e := newExchange(t, Hedge)
	require.NoError(t, e.OpenPosition(btc, exchange.Short, 1, 100, 10))

	// a short's stop sits above the mark
	_, err := e.CreateOrder(context.Background(), stopReq(exchange.Short, 1, 99, true))
	assert.True(t, exchange.IsKind(err, exchange.KindRejected))

	o, err := e.CreateOrder(context.Background(), stopReq(exchange.Short, 1, 101, true))
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusOpen, o.Status)
}

func TestReduceOnlyWithoutPositionRejected(t *testing.T) {
	t.Parallel()

	e := newExchange(t, Hedge)
	_, err := e.SetMark(btc, 100)
	require.NoError(t, err)

	_, err = e.CreateOrder(context.Background(), stopReq(exchange.Long, 1, 95, true))
	assert.True(t, exchange.IsKind(err, exchange.KindRejected))
}

func TestSetMarkFiresStop(t *testing.T) {
	t.Parallel()

	e := newExchange(t, Hedge)
	require.NoError(t, e.OpenPosition(btc, exchange.Long, 1, 100, 10))
	o, err := e.CreateOrder(context.Background(), stopReq(exchange.Long, 1, 98, true))
	require.NoError(t, err)

	events, err := e.SetMark(btc, 99)
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = e.SetMark(btc, 97.5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventStopFilled, events[0].Kind)
	assert.Equal(t, o.ID, events[0].OrderID)

	got, err := e.FetchOrder(context.Background(), o.ID, btc)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusFilled, got.Status)

	ps, err := e.FetchPositions(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ps)

	bal, err := e.FetchBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10_000-2.5, bal.Total, 1e-9)
}

func TestSetMarkLiquidates(t *testing.T) {
	t.Parallel()

	e := newExchange(t, Hedge)
	require.NoError(t, e.OpenPosition(btc, exchange.Short, 1, 100, 10))
	stop, err := e.CreateOrder(context.Background(), stopReq(exchange.Short, 1, 120, true))
	require.NoError(t, err)

	events, err := e.SetMark(btc, 110)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventLiquidated, events[0].Kind)
	assert.InDelta(t, 100*(1+0.1-DefaultMaintenanceMargin), events[0].Price, 1e-9)

	// the now-orphaned stop is gone
	got, err := e.FetchOrder(context.Background(), stop.ID, btc)
	require.NoError(t, err)
	assert.Equal(t, exchange.StatusCanceled, got.Status)
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("plain", func(t *testing.T) {
		t.Parallel()
		e := newExchange(t, Hedge)
		require.NoError(t, e.OpenPosition(btc, exchange.Long, 1, 100, 10))
		o, err := e.CreateOrder(ctx, stopReq(exchange.Long, 1, 95, true))
		require.NoError(t, err)

		require.NoError(t, e.CancelOrder(ctx, o.ID, btc, exchange.CancelParams{}))
		err = e.CancelOrder(ctx, o.ID, btc, exchange.CancelParams{})
		assert.True(t, exchange.IsKind(err, exchange.KindNotFound))
	})

	t.Run("hedge needs side", func(t *testing.T) {
		t.Parallel()
		e := New(Config{Mode: Hedge, CancelNeedsPositionSide: true})
		require.NoError(t, e.OpenPosition(btc, exchange.Long, 1, 100, 10))
		o, err := e.CreateOrder(ctx, stopReq(exchange.Long, 1, 95, true))
		require.NoError(t, err)

		err = e.CancelOrder(ctx, o.ID, btc, exchange.CancelParams{})
		assert.True(t, exchange.IsKind(err, exchange.KindPositionModeMismatch))
		require.NoError(t, e.CancelOrder(ctx, o.ID, btc, exchange.CancelParams{PositionSide: exchange.Long}))
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		e := newExchange(t, Hedge)
		err := e.CancelOrder(ctx, "nope", btc, exchange.CancelParams{})
		assert.True(t, exchange.IsKind(err, exchange.KindNotFound))
	})
}

func TestMarketOrdersOneWayNetting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newExchange(t, OneWay)
	e.SetLeverage(btc, 5)
	_, err := e.SetMark(btc, 100)
	require.NoError(t, err)

	_, err = e.CreateOrder(ctx, exchange.OrderRequest{Symbol: btc, Type: exchange.MarketOrder, Side: exchange.Buy, Amount: 2})
	require.NoError(t, err)

	_, err = e.SetMark(btc, 110)
	require.NoError(t, err)
	_, err = e.CreateOrder(ctx, exchange.OrderRequest{Symbol: btc, Type: exchange.MarketOrder, Side: exchange.Sell, Amount: 3})
	require.NoError(t, err)

	ps, err := e.FetchPositions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, exchange.Short, ps[0].Side)
	assert.InDelta(t, 1.0, ps[0].Contracts, 1e-9)
	assert.InDelta(t, 110.0, ps[0].EntryPrice, 1e-9)

	bal, err := e.FetchBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10_000+20.0, bal.Total, 1e-9)
}

func TestMarketOrderAveragesEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newExchange(t, Hedge)
	require.NoError(t, e.OpenPosition(btc, exchange.Long, 1, 100, 10))
	_, err := e.SetMark(btc, 94)
	require.NoError(t, err)

	_, err = e.CreateOrder(ctx, exchange.OrderRequest{Symbol: btc, Type: exchange.MarketOrder, Side: exchange.Buy, Amount: 2, PositionSide: exchange.Long})
	require.NoError(t, err)

	ps, err := e.FetchPositions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.InDelta(t, 3.0, ps[0].Contracts, 1e-9)
	assert.InDelta(t, 96.0, ps[0].EntryPrice, 1e-9)
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newExchange(t, Hedge)

	_, err := e.CreateOrder(ctx, exchange.OrderRequest{Symbol: btc, Type: exchange.MarketOrder, Side: exchange.Buy, Amount: 1, PositionSide: exchange.Long})
	assert.True(t, exchange.IsKind(err, exchange.KindRejected), "no mark yet")

	_, err = e.SetMark(btc, 100)
	require.NoError(t, err)

	_, err = e.CreateOrder(ctx, exchange.OrderRequest{Symbol: btc, Type: exchange.MarketOrder, Side: exchange.Buy, Amount: 0.0001, PositionSide: exchange.Long})
	assert.True(t, exchange.IsKind(err, exchange.KindRejected), "below minimum")

	_, err = e.CreateOrder(ctx, exchange.OrderRequest{Symbol: btc, Type: exchange.Limit, Side: exchange.Buy, Amount: 1, PositionSide: exchange.Long})
	assert.True(t, exchange.IsKind(err, exchange.KindRejected), "limit unsupported")
}

func TestFailNext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newExchange(t, Hedge)
	boom := exchange.NewError(exchange.KindTransient, "fetch_positions", "timeout")
	e.FailNext("fetch_positions", boom)

	_, err := e.FetchPositions(ctx, nil)
	assert.ErrorIs(t, err, boom)

	_, err = e.FetchPositions(ctx, nil)
	assert.NoError(t, err)
}

func TestFetchOpenOrdersOldestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newExchange(t, Hedge)
	require.NoError(t, e.OpenPosition(btc, exchange.Long, 2, 100, 10))

	a, err := e.CreateOrder(ctx, stopReq(exchange.Long, 1, 95, true))
	require.NoError(t, err)
	b, err := e.CreateOrder(ctx, stopReq(exchange.Long, 1, 96, true))
	require.NoError(t, err)
	require.NoError(t, e.CancelOrder(ctx, a.ID, btc, exchange.CancelParams{}))

	open, err := e.FetchOpenOrders(ctx, btc)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, b.ID, open[0].ID)
}

func TestLiquidationPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		side  exchange.Side
		entry float64
		lev   float64
		want  float64
	}{
		{"long 10x", exchange.Long, 100, 10, 90.5},
		{"short 10x", exchange.Short, 100, 10, 109.5},
		{"zero leverage is 1x", exchange.Long, 100, 0, 0.5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, liquidationPrice(tt.side, tt.entry, tt.lev, DefaultMaintenanceMargin), 1e-9)
		})
	}
}
