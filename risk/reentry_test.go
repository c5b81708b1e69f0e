package risk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/trailguard/exchange"
)

func nearLiq(side exchange.Side, mark, liq, notional float64) exchange.Position {
	return exchange.Position{
		Symbol:           btc,
		Side:             side,
		EntryPrice:       100,
		MarkPrice:        mark,
		LiquidationPrice: liq,
		Contracts:        notional / mark,
		Leverage:         2,
		Notional:         notional,
	}
}

func TestEvaluateReentryBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pos      exchange.Position
		want     Outcome
		wantSide exchange.OrderSide
		amount   float64
	}{
		{"long at 0.8 fires", nearLiq(exchange.Long, 60, 50, 600), OutcomeReentered, exchange.Buy, 20},
		{"long at 0.6 holds", nearLiq(exchange.Long, 70, 50, 700), OutcomeNone, "", 0},
		{"short at 0.8 fires", nearLiq(exchange.Short, 140, 150, 700), OutcomeReentered, exchange.Sell, 10},
		{"short at 0.5 holds", nearLiq(exchange.Short, 125, 150, 700), OutcomeNone, "", 0},
		{"long past 0.8 rounds", nearLiq(exchange.Long, 55, 50, 700), OutcomeReentered, exchange.Buy, 25.5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mc := newMockClient()
			e, store, _ := newTestEngine(t, mc, DefaultPolicy())

			out, err := e.EvaluateReentry(context.Background(), tt.pos)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)

			if tt.want != OutcomeReentered {
				assert.Empty(t, mc.creates)
				return
			}
			require.Len(t, mc.creates, 1)
			req := mc.creates[0]
			assert.Equal(t, exchange.MarketOrder, req.Type)
			assert.Equal(t, tt.wantSide, req.Side)
			assert.Equal(t, exchange.Isolated, req.MarginMode)
			assert.Equal(t, tt.pos.Side, req.PositionSide)
			assert.False(t, req.ReduceOnly)
			assert.InDelta(t, tt.amount, req.Amount, 1e-9)
			assert.True(t, strings.HasPrefix(req.ClientOrderID, "tgre-"))

			recs, err := store.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, recs, "re-entry keeps no state")
		})
	}
}

func TestEvaluateReentryMissingDataIsNoop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mut  func(p *exchange.Position)
	}{
		{"no entry", func(p *exchange.Position) { p.EntryPrice = 0 }},
		{"no mark", func(p *exchange.Position) { p.MarkPrice = 0 }},
		{"no liquidation", func(p *exchange.Position) { p.LiquidationPrice = 0 }},
		{"entry at liquidation", func(p *exchange.Position) { p.LiquidationPrice = p.EntryPrice }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mc := newMockClient()
			e, _, _ := newTestEngine(t, mc, DefaultPolicy())

			p := nearLiq(exchange.Long, 55, 50, 550)
			tt.mut(&p)
			out, err := e.EvaluateReentry(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, OutcomeSkipped, out)
			assert.Empty(t, mc.creates)
		})
	}
}

func TestEvaluateReentryNeedsMarket(t *testing.T) {
	t.Parallel()

	mc := newMockClient()
	e, _, _ := newTestEngine(t, mc, DefaultPolicy())

	p := nearLiq(exchange.Long, 55, 50, 550)
	p.Symbol = "DOGE/USDT:USDT"
	out, err := e.EvaluateReentry(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out)
	assert.Empty(t, mc.creates)
}

func TestEvaluateReentryDoesNotRetry(t *testing.T) {
	t.Parallel()

	mc := newMockClient()
	mc.createErrs = []error{mismatch()}
	e, _, j := newTestEngine(t, mc, DefaultPolicy())
	rec := &countingRecorder{}
	e.SetRecorder(rec)

	out, err := e.EvaluateReentry(context.Background(), nearLiq(exchange.Long, 55, 50, 550))
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, out)
	assert.Len(t, mc.creates, 1)
	assert.Equal(t, 0, rec.reentries)
	assert.Equal(t, 1, rec.orderErrors["create_reentry/position_mode_mismatch"])
	assert.Len(t, j.entries, 1)
}

func TestEvaluateReentryUsesLearnedOneWayMode(t *testing.T) {
	t.Parallel()

	mc := newMockClient()
	e, _, _ := newTestEngine(t, mc, DefaultPolicy())
	e.setOneWay(btc, true)

	out, err := e.EvaluateReentry(context.Background(), nearLiq(exchange.Short, 145, 150, 725))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReentered, out)
	require.Len(t, mc.creates, 1)
	assert.Equal(t, exchange.Side(""), mc.creates[0].PositionSide)
	assert.Equal(t, exchange.Sell, mc.creates[0].Side)
}

func TestReentryDisabled(t *testing.T) {
	t.Parallel()

	mc := newMockClient()
	policy := DefaultPolicy()
	policy.ReentryEnabled = false
	e, _, _ := newTestEngine(t, mc, policy)

	out, err := e.EvaluateReentry(context.Background(), nearLiq(exchange.Long, 51, 50, 510))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, out)
	assert.Empty(t, mc.creates)
}
