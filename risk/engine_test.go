package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/journal"
	"github.com/rustyeddy/trailguard/state"
)

func TestNewFillsPolicyDefaults(t *testing.T) {
	t.Parallel()

	e := New(newMockClient(), state.NewMemory(), Policy{TrailingEnabled: true}, nil)
	p := e.Policy()
	assert.Equal(t, 0.10, p.DefaultThreshold)
	assert.Equal(t, 0.01, p.DefaultProfitTarget)
	assert.Equal(t, 0.80, p.ReentryCloseness)
	assert.True(t, p.TrailingEnabled)
	assert.False(t, p.ReentryEnabled)
}

func TestLoadMarketsFiltersQuote(t *testing.T) {
	t.Parallel()

	mc := newMockClient()
	mc.markets["BTC/USDC:USDC"] = exchange.Market{Symbol: "BTC/USDC:USDC", Quote: "USDC", Settle: "USDC"}
	mc.markets["ETH/USD:USDT"] = exchange.Market{Symbol: "ETH/USD:USDT", Quote: "USD", Settle: "USDT"}
	e, _, _ := newTestEngine(t, mc, DefaultPolicy())

	_, ok := e.Market(btc)
	assert.True(t, ok)
	_, ok = e.Market("ETH/USD:USDT")
	assert.True(t, ok, "settle currency matches")
	_, ok = e.Market("BTC/USDC:USDC")
	assert.False(t, ok)
}

func TestTickFetchError(t *testing.T) {
	t.Parallel()

	mc := newMockClient()
	mc.positionsErr = exchange.NewError(exchange.KindTransient, "fetch_positions", "timeout")
	e, _, _ := newTestEngine(t, mc, DefaultPolicy())
	rec := &countingRecorder{}
	e.SetRecorder(rec)

	_, err := e.Tick(context.Background())
	require.Error(t, err)
	assert.True(t, exchange.IsKind(err, exchange.KindTransient))
	assert.Equal(t, []string{"error"}, rec.ticks)
}

func TestTick(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mc := newMockClient()
	mc.markets[eth] = exchange.Market{Symbol: eth, Quote: "USDT", AmountIncrement: 0.01, PriceIncrement: 0.01}
	e, store, j := newTestEngine(t, mc, DefaultPolicy())
	rec := &countingRecorder{}
	e.SetRecorder(rec)

	orphan := state.Key{Symbol: "SOL/USDT:USDT", Side: exchange.Short}
	require.NoError(t, store.Put(ctx, orphan, state.Trailing{Threshold: 0.2}))

	ethLong := nearLiq(exchange.Long, 55, 50, 550)
	ethLong.Symbol = eth
	ethLong.UnrealizedPnl = -4.5
	mc.positions = []exchange.Position{longPos(102), ethLong}

	res, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 2, res.Positions)
	assert.Equal(t, 1, res.Ratchets)
	assert.Equal(t, 1, res.Reentries)
	assert.Zero(t, res.Errors)
	assert.Equal(t, []state.Key{orphan}, res.Reconciled)

	assert.Equal(t, []string{"ok"}, rec.ticks)
	assert.Equal(t, 2, rec.positions)
	assert.Equal(t, 1, rec.states)

	assert.Equal(t, []journal.Action{journal.ActionRatchet, journal.ActionReentry, journal.ActionReconcileDelete}, j.actions())
	for _, entry := range j.entries {
		assert.Equal(t, res.ID, entry.TickID)
	}
}

func TestTickContainsPanics(t *testing.T) {
	t.Parallel()

	mc := newMockClient()
	mc.panicOn = btc
	e, _, _ := newTestEngine(t, mc, DefaultPolicy())

	other := shortPos(98)
	other.Symbol = eth
	mc.positions = []exchange.Position{longPos(102), other}

	res, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Ratchets, "the next position is still evaluated")
}

func TestTickCountsFailures(t *testing.T) {
	t.Parallel()

	mc := newMockClient()
	mc.createErrs = []error{rejected(), rejected()}
	mc.positions = []exchange.Position{longPos(102)}
	e, _, _ := newTestEngine(t, mc, DefaultPolicy())
	rec := &countingRecorder{}
	e.SetRecorder(rec)

	res, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, []string{"partial"}, rec.ticks)
}

func TestTickReloadsMissingMarkets(t *testing.T) {
	t.Parallel()

	mc := newMockClient()
	e := New(mc, state.NewMemory(), DefaultPolicy(), discardLogger())
	_, ok := e.Market(btc)
	require.False(t, ok)

	_, err := e.Tick(context.Background())
	require.NoError(t, err)
	_, ok = e.Market(btc)
	assert.True(t, ok)
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ratcheted", OutcomeRatcheted.String())
	assert.Equal(t, "none", Outcome(99).String())
}

func TestStoreErrorsSurface(t *testing.T) {
	t.Parallel()

	boom := errors.New("locked")
	e := New(newMockClient(), getFailStore{Memory: state.NewMemory(), err: boom}, DefaultPolicy(), discardLogger())

	out, err := e.EvaluateTrailing(context.Background(), longPos(102))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeFailed, out)

	out, err = e.CheckFilled(context.Background(), longPos(102))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeFailed, out)
}

type getFailStore struct {
	*state.Memory
	err error
}

func (s getFailStore) Get(context.Context, state.Key) (state.Trailing, error) {
	return state.Trailing{}, s.err
}
