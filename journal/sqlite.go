package journal

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/trailguard/internal/id"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// Record inserts e, filling in ID and Time when they are empty.
func (j *SQLite) Record(e Entry) error {
	if e.ID == "" {
		e.ID = id.New()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := j.db.Exec(`
		INSERT INTO actions
		(id, time, tick_id, symbol, side, action, detail, price, amount, order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Time.UTC(), e.TickID, e.Symbol, e.Side, string(e.Action),
		e.Detail, e.Price, e.Amount, e.OrderID,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
