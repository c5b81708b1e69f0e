// Package journal records every decision the risk engine acts on, so a
// ratchet, kill or re-entry can be traced back to the tick and numbers that
// caused it.
package journal

import (
	"fmt"
	"time"
)

// Action is what the engine did.
type Action string

const (
	ActionRatchet         Action = "ratchet"
	ActionKill            Action = "kill"
	ActionReentry         Action = "reentry"
	ActionStopFilled      Action = "stop_filled"
	ActionStopCanceled    Action = "stop_canceled"
	ActionReconcileDelete Action = "reconcile_delete"
	ActionError           Action = "error"
)

// Entry is one journal row.
type Entry struct {
	ID      string
	Time    time.Time
	TickID  string
	Symbol  string
	Side    string
	Action  Action
	Detail  string
	Price   float64
	Amount  float64
	OrderID string
}

type Journal interface {
	Record(Entry) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(Entry) error { return nil }
func (Nop) Close() error       { return nil }

// Reader is implemented by journals that can be queried back.
type Reader interface {
	ListBetween(start, end time.Time) ([]Entry, error)
	ListBySymbol(symbol string) ([]Entry, error)
}

// Open returns the journal named by kind: "sqlite", "csv", or "none".
func Open(kind, path string) (Journal, error) {
	switch kind {
	case "", "none":
		return Nop{}, nil
	case "sqlite":
		return NewSQLite(path)
	case "csv":
		return NewCSV(path)
	}
	return nil, fmt.Errorf("unknown journal type %q", kind)
}
