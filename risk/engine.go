// Package risk is the per-position decision engine: it ratchets protective
// stops behind profitable positions, re-enters positions drifting toward
// liquidation and keeps persisted trailing state in step with the exchange.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/internal/id"
	"github.com/rustyeddy/trailguard/journal"
	"github.com/rustyeddy/trailguard/state"
)

// Outcome is what one evaluation did to a position.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSkipped
	OutcomeRatcheted
	OutcomeKilled
	OutcomeReentered
	OutcomeFilled
	OutcomeCanceled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRatcheted:
		return "ratcheted"
	case OutcomeKilled:
		return "killed"
	case OutcomeReentered:
		return "reentered"
	case OutcomeFilled:
		return "filled"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeFailed:
		return "failed"
	default:
		return "none"
	}
}

// Recorder receives engine events for metrics. Implementations must be safe
// to call from the tick goroutine.
type Recorder interface {
	TickDone(result string, d time.Duration)
	Ratchet(symbol string, side exchange.Side)
	Reentry(symbol string, side exchange.Side)
	Kill(symbol string, side exchange.Side)
	OrderError(op string, kind exchange.Kind)
	Positions(n int)
	States(n int)
}

type nopRecorder struct{}

func (nopRecorder) TickDone(string, time.Duration) {}
func (nopRecorder) Ratchet(string, exchange.Side) {}
func (nopRecorder) Reentry(string, exchange.Side) {}
func (nopRecorder) Kill(string, exchange.Side) {}
func (nopRecorder) OrderError(string, exchange.Kind) {}
func (nopRecorder) Positions(int) {}
func (nopRecorder) States(int) {}

// TickResult summarizes one pass over all positions.
type TickResult struct {
	ID         string
	Positions  int
	Ratchets   int
	Kills      int
	Reentries  int
	Fills      int
	Cancels    int
	Errors     int
	Reconciled []state.Key
	Duration   time.Duration
}

// Engine evaluates positions one at a time. It is not safe for concurrent
// ticks; the runner serializes them.
type Engine struct {
	client  exchange.Client
	store   state.Store
	policy  Policy
	log     *slog.Logger
	journal journal.Journal
	metrics Recorder
	now     func() time.Time

	mu      sync.RWMutex
	markets map[string]exchange.Market
	oneWay  map[string]bool
}

func New(client exchange.Client, store state.Store, policy Policy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:  client,
		store:   store,
		policy:  policy.withDefaults(),
		log:     logger,
		journal: journal.Nop{},
		metrics: nopRecorder{},
		now:     time.Now,
		oneWay:  make(map[string]bool),
	}
}

func (e *Engine) SetJournal(j journal.Journal) {
	if j == nil {
		j = journal.Nop{}
	}
	e.journal = j
}

func (e *Engine) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	e.metrics = r
}

func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) Policy() Policy { return e.policy }

// LoadMarkets fetches instrument metadata and keeps the markets matching the
// policy's quote currency.
func (e *Engine) LoadMarkets(ctx context.Context) error {
	all, err := e.client.LoadMarkets(ctx)
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	kept := make(map[string]exchange.Market, len(all))
	for sym, m := range all {
		if q := e.policy.Quote; q != "" && !strings.EqualFold(m.Quote, q) && !strings.EqualFold(m.Settle, q) {
			continue
		}
		kept[sym] = m
	}

	e.mu.Lock()
	e.markets = kept
	e.mu.Unlock()

	e.log.Info("markets loaded", "total", len(all), "kept", len(kept), "quote", e.policy.Quote)
	return nil
}

// Market returns the cached metadata for symbol.
func (e *Engine) Market(symbol string) (exchange.Market, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[symbol]
	return m, ok
}

func (e *Engine) hasMarkets() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.markets) > 0
}

func (e *Engine) setOneWay(symbol string, v bool) {
	e.mu.Lock()
	e.oneWay[symbol] = v
	e.mu.Unlock()
}

func (e *Engine) isOneWay(symbol string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.oneWay[symbol]
}

// Tick runs one full evaluation pass. Only a failure to fetch positions is
// returned; per-position problems are logged and counted.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	start := e.now()
	res := TickResult{ID: id.New()}
	ctx = withTickID(ctx, res.ID)
	log := e.log.With("tick", res.ID)

	if !e.hasMarkets() {
		if err := e.LoadMarkets(ctx); err != nil {
			log.Warn("market reload failed", "err", err)
		}
	}

	positions, err := e.client.FetchPositions(ctx, nil)
	if err != nil {
		res.Duration = e.now().Sub(start)
		e.metrics.TickDone("error", res.Duration)
		return res, fmt.Errorf("fetch positions: %w", err)
	}
	res.Positions = len(positions)
	e.metrics.Positions(len(positions))

	for _, p := range positions {
		e.evaluate(ctx, p, &res)
	}

	deleted, err := e.Reconcile(ctx, positions)
	res.Reconciled = deleted
	if err != nil {
		res.Errors++
		log.Error("reconcile failed", "err", err)
	}

	res.Duration = e.now().Sub(start)
	result := "ok"
	if res.Errors > 0 {
		result = "partial"
	}
	e.metrics.TickDone(result, res.Duration)
	log.Info("tick done",
		"positions", res.Positions,
		"ratchets", res.Ratchets,
		"kills", res.Kills,
		"reentries", res.Reentries,
		"fills", res.Fills,
		"reconciled", len(res.Reconciled),
		"errors", res.Errors,
		"took", res.Duration,
	)
	return res, nil
}

// evaluate runs the trailing, fill and re-entry steps for one position. A
// panic is contained to the position.
func (e *Engine) evaluate(ctx context.Context, p exchange.Position, res *TickResult) {
	defer func() {
		if r := recover(); r != nil {
			res.Errors++
			e.log.Error("position evaluation panicked", "tick", tickID(ctx), "symbol", p.Symbol, "side", p.Side, "panic", r)
		}
	}()

	tally := func(o Outcome, err error) {
		if err != nil {
			res.Errors++
			e.log.Error("position evaluation failed", "tick", tickID(ctx), "symbol", p.Symbol, "side", p.Side, "outcome", o, "err", err)
		}
		switch o {
		case OutcomeRatcheted:
			res.Ratchets++
		case OutcomeKilled:
			res.Kills++
		case OutcomeReentered:
			res.Reentries++
		case OutcomeFilled:
			res.Fills++
		case OutcomeCanceled:
			res.Cancels++
		}
	}

	tally(e.EvaluateTrailing(ctx, p))
	tally(e.CheckFilled(ctx, p))
	tally(e.EvaluateReentry(ctx, p))
}

// loadState returns the stored state for key and whether it existed.
func (e *Engine) loadState(ctx context.Context, key state.Key) (state.Trailing, bool, error) {
	t, err := e.store.Get(ctx, key)
	switch {
	case err == nil:
		return t, true, nil
	case isNotFound(err):
		return state.Trailing{}, false, nil
	default:
		return state.Trailing{}, false, fmt.Errorf("load state %s: %w", key.Name(), err)
	}
}

func (e *Engine) seed() state.Trailing {
	return state.Trailing{
		Threshold:            e.policy.DefaultThreshold,
		ProfitTargetDistance: e.policy.DefaultProfitTarget,
	}
}

func (e *Engine) record(ctx context.Context, entry journal.Entry) {
	entry.TickID = tickID(ctx)
	if entry.Time.IsZero() {
		entry.Time = e.now()
	}
	if err := e.journal.Record(entry); err != nil {
		e.log.Warn("journal write failed", "action", entry.Action, "symbol", entry.Symbol, "err", err)
	}
}

func (e *Engine) orderError(ctx context.Context, op string, key state.Key, err error) {
	kind := exchange.KindOf(err)
	e.metrics.OrderError(op, kind)
	e.record(ctx, journal.Entry{
		Symbol: key.Symbol,
		Side:   string(key.Side),
		Action: journal.ActionError,
		Detail: fmt.Sprintf("%s: %v", op, err),
	})
}

type tickKey struct{}

func withTickID(ctx context.Context, tick string) context.Context {
	return context.WithValue(ctx, tickKey{}, tick)
}

func tickID(ctx context.Context) string {
	s, _ := ctx.Value(tickKey{}).(string)
	return s
}
