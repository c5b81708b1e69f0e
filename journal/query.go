package journal

import (
	"database/sql"
	"fmt"
	"time"
)

const selectEntries = `
	SELECT id, time, tick_id, symbol, side, action, detail, price, amount, order_id
	FROM actions`

// GetEntry returns a single entry by ID.
func (j *SQLite) GetEntry(entryID string) (Entry, error) {
	row := j.db.QueryRow(selectEntries+` WHERE id = ?`, entryID)

	e, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, fmt.Errorf("journal entry %q not found", entryID)
		}
		return Entry{}, err
	}
	return e, nil
}

// ListBetween returns entries whose time is within [start, end), oldest
// first.
func (j *SQLite) ListBetween(start, end time.Time) ([]Entry, error) {
	rows, err := j.db.Query(selectEntries+`
		WHERE time >= ? AND time < ?
		ORDER BY time ASC, id ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListBySymbol returns every entry for symbol, oldest first.
func (j *SQLite) ListBySymbol(symbol string) ([]Entry, error) {
	rows, err := j.db.Query(selectEntries+`
		WHERE symbol = ?
		ORDER BY time ASC, id ASC`, symbol)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListByTick returns the entries written during one tick.
func (j *SQLite) ListByTick(tickID string) ([]Entry, error) {
	rows, err := j.db.Query(selectEntries+`
		WHERE tick_id = ?
		ORDER BY id ASC`, tickID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// CountByAction tallies entries in [start, end) per action.
func (j *SQLite) CountByAction(start, end time.Time) (map[Action]int, error) {
	rows, err := j.db.Query(`
		SELECT action, COUNT(*)
		FROM actions
		WHERE time >= ? AND time < ?
		GROUP BY action`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Action]int)
	for rows.Next() {
		var (
			a string
			n int
		)
		if err := rows.Scan(&a, &n); err != nil {
			return nil, err
		}
		out[Action(a)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e      Entry
		action string
	)
	err := s.Scan(
		&e.ID,
		&e.Time,
		&e.TickID,
		&e.Symbol,
		&e.Side,
		&action,
		&e.Detail,
		&e.Price,
		&e.Amount,
		&e.OrderID,
	)
	e.Action = Action(action)
	return e, err
}

func collect(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
