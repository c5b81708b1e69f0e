package risk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/journal"
	"github.com/rustyeddy/trailguard/state"
)

const btc = "BTC/USDT:USDT"

type cancelCall struct {
	ID     string
	Symbol string
	Params exchange.CancelParams
}

// mockClient records every mutation. Queued errors are consumed one per
// call; an empty queue means success.
type mockClient struct {
	mu sync.Mutex

	positions    []exchange.Position
	positionsErr error
	markets      map[string]exchange.Market
	openOrders   []exchange.Order
	orders       map[string]exchange.Order
	fetchErr     error
	createErrs   []error
	cancelErrs   []error
	panicOn      string

	creates        []exchange.OrderRequest
	cancels        []cancelCall
	fetchOrderIDs  []string
	openOrderCalls int
	nextID         int
}

func newMockClient() *mockClient {
	return &mockClient{
		markets: map[string]exchange.Market{
			btc: {Symbol: btc, Quote: "USDT", Settle: "USDT", AmountIncrement: 0.001, PriceIncrement: 0.1},
		},
		orders: make(map[string]exchange.Order),
	}
}

func (m *mockClient) LoadMarkets(ctx context.Context) (map[string]exchange.Market, error) {
	return m.markets, nil
}

func (m *mockClient) FetchPositions(ctx context.Context, symbols []string) ([]exchange.Position, error) {
	return m.positions, m.positionsErr
}

func (m *mockClient) FetchBalance(ctx context.Context) (exchange.Balance, error) {
	return exchange.Balance{Currency: "USDT"}, nil
}

func (m *mockClient) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrderCalls++
	var out []exchange.Order
	for _, o := range m.openOrders {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockClient) FetchOrder(ctx context.Context, id, symbol string) (exchange.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchOrderIDs = append(m.fetchOrderIDs, id)
	if m.fetchErr != nil {
		return exchange.Order{}, m.fetchErr
	}
	o, ok := m.orders[id]
	if !ok {
		return exchange.Order{}, exchange.NewError(exchange.KindNotFound, "fetch_order", "order "+id)
	}
	return o, nil
}

func (m *mockClient) CancelOrder(ctx context.Context, id, symbol string, params exchange.CancelParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels = append(m.cancels, cancelCall{ID: id, Symbol: symbol, Params: params})
	if len(m.cancelErrs) == 0 {
		return nil
	}
	err := m.cancelErrs[0]
	m.cancelErrs = m.cancelErrs[1:]
	return err
}

func (m *mockClient) CreateOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Order, error) {
	if m.panicOn != "" && req.Symbol == m.panicOn {
		panic("boom")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates = append(m.creates, req)
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return exchange.Order{}, err
		}
	}
	m.nextID++
	o := exchange.Order{
		ID:            fmt.Sprintf("ord-%d", m.nextID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Type:          req.Type,
		Side:          req.Side,
		Status:        exchange.StatusOpen,
		Amount:        req.Amount,
		TriggerPrice:  req.TriggerPrice,
		ReduceOnly:    req.ReduceOnly,
		PositionSide:  req.PositionSide,
	}
	m.orders[o.ID] = o
	return o, nil
}

type memJournal struct {
	entries []journal.Entry
}

func (j *memJournal) Record(e journal.Entry) error {
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) actions() []journal.Action {
	var out []journal.Action
	for _, e := range j.entries {
		out = append(out, e.Action)
	}
	return out
}

type countingRecorder struct {
	ticks       []string
	ratchets    int
	reentries   int
	kills       int
	orderErrors map[string]int
	positions   int
	states      int
}

func (r *countingRecorder) TickDone(result string, _ time.Duration) { r.ticks = append(r.ticks, result) }
func (r *countingRecorder) Ratchet(string, exchange.Side) { r.ratchets++ }
func (r *countingRecorder) Reentry(string, exchange.Side) { r.reentries++ }
func (r *countingRecorder) Kill(string, exchange.Side) { r.kills++ }
func (r *countingRecorder) Positions(n int) { r.positions = n }
func (r *countingRecorder) States(n int) { r.states = n }

func (r *countingRecorder) OrderError(op string, kind exchange.Kind) {
	if r.orderErrors == nil {
		r.orderErrors = make(map[string]int)
	}
	r.orderErrors[op+"/"+kind.String()]++
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, mc *mockClient, policy Policy) (*Engine, *state.Memory, *memJournal) {
	t.Helper()
	store := state.NewMemory()
	e := New(mc, store, policy, discardLogger())
	j := &memJournal{}
	e.SetJournal(j)
	require.NoError(t, e.LoadMarkets(context.Background()))
	return e, store, j
}

func longPos(mark float64) exchange.Position {
	return exchange.Position{
		Symbol:        btc,
		Side:          exchange.Long,
		EntryPrice:    100,
		MarkPrice:     mark,
		Contracts:     1,
		Leverage:      10,
		Notional:      mark,
		UnrealizedPnl: mark - 100,
	}
}

func shortPos(mark float64) exchange.Position {
	return exchange.Position{
		Symbol:        btc,
		Side:          exchange.Short,
		EntryPrice:    100,
		MarkPrice:     mark,
		Contracts:     1,
		Leverage:      10,
		Notional:      mark,
		UnrealizedPnl: 100 - mark,
	}
}

func mismatch() error {
	return exchange.NewError(exchange.KindPositionModeMismatch, "test", "position idx not match position mode")
}

func rejected() error {
	return exchange.NewError(exchange.KindRejected, "test", "rejected")
}
