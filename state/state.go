// Package state persists per-(symbol, side) trailing-stop parameters.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/trailguard/exchange"
)

// ErrNotFound is returned by Get when no record exists for a key.
var ErrNotFound = errors.New("trailing state not found")

// Key identifies one tracked exposure. Long and short on the same symbol are
// separate keys.
type Key struct {
	Symbol string
	Side   exchange.Side
}

// KeyFor returns the key of a position snapshot.
func KeyFor(p exchange.Position) Key { return Key{Symbol: p.Symbol, Side: p.Side} }

// Bucket is the order side a key's stop is placed against: "buy" for long
// exposure, "sell" for short.
func (k Key) Bucket() string {
	if k.Side == exchange.Short {
		return "sell"
	}
	return "buy"
}

// Name is the deterministic storage name, e.g. "BTC_USDT_USDT.buy".
func (k Key) Name() string {
	return exchange.SafeSymbol(k.Symbol) + "." + k.Bucket()
}

func (k Key) String() string { return k.Symbol + "/" + string(k.Side) }

// Validate rejects keys that cannot be stored.
func (k Key) Validate() error {
	if strings.TrimSpace(k.Symbol) == "" {
		return fmt.Errorf("state key: empty symbol")
	}
	if !k.Side.Valid() {
		return fmt.Errorf("state key %q: invalid side %q", k.Symbol, k.Side)
	}
	return nil
}

// Trailing holds the ratchet parameters for one key.
type Trailing struct {
	Threshold            float64   `json:"threshold"`
	ProfitTargetDistance float64   `json:"profit_target_distance"`
	PendingStopOrderID   string    `json:"pending_stop_order_id,omitempty"`
	StopPrice            float64   `json:"stop_price,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// HasPending reports whether a protective stop is being tracked.
func (t Trailing) HasPending() bool { return t.PendingStopOrderID != "" }

// Record pairs a key with its state, as returned by List.
type Record struct {
	Key      Key
	Trailing Trailing
}

// Store is a keyed trailing-state store. Delete of a missing key is not an
// error. Implementations are not required to be safe for concurrent ticks.
type Store interface {
	Get(ctx context.Context, key Key) (Trailing, error)
	Put(ctx context.Context, key Key, t Trailing) error
	Delete(ctx context.Context, key Key) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// sortRecords orders records by symbol, then side, so List output is stable
// across backends.
func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Key.Symbol != recs[j].Key.Symbol {
			return recs[i].Key.Symbol < recs[j].Key.Symbol
		}
		return recs[i].Key.Side < recs[j].Key.Side
	})
}
