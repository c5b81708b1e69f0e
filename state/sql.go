package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/trailguard/exchange"
)

// Dialect selects placeholder style and column types.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trailing_state (
	key TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	threshold REAL NOT NULL,
	profit_target REAL NOT NULL,
	pending_order_id TEXT NOT NULL DEFAULT '',
	stop_price REAL NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trailing_state (
	key TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	threshold DOUBLE PRECISION NOT NULL,
	profit_target DOUBLE PRECISION NOT NULL,
	pending_order_id TEXT NOT NULL DEFAULT '',
	stop_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// SQL is a Store on database/sql. The same queries serve SQLite and
// Postgres; only placeholders and the schema differ.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (and creates if needed) a SQLite state database.
func OpenSQLite(path string) (*SQL, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	s, err := NewSQL(db, SQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to Postgres with a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s, err := NewSQL(db, Postgres)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an open database and ensures the schema exists.
func NewSQL(db *sql.DB, dialect Dialect) (*SQL, error) {
	schema := sqliteSchema
	if dialect == Postgres {
		schema = postgresSchema
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create trailing_state schema: %w", err)
	}
	return &SQL{db: db, dialect: dialect}, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQL) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) Get(ctx context.Context, key Key) (Trailing, error) {
	var t Trailing
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT threshold, profit_target, pending_order_id, stop_price, updated_at
		FROM trailing_state
		WHERE key = ?`), key.Name())

	err := row.Scan(&t.Threshold, &t.ProfitTargetDistance, &t.PendingStopOrderID, &t.StopPrice, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Trailing{}, ErrNotFound
	}
	if err != nil {
		return Trailing{}, fmt.Errorf("get trailing state %s: %w", key, err)
	}
	return t, nil
}

func (s *SQL) Put(ctx context.Context, key Key, t Trailing) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO trailing_state
		(key, symbol, side, threshold, profit_target, pending_order_id, stop_price, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			threshold = excluded.threshold,
			profit_target = excluded.profit_target,
			pending_order_id = excluded.pending_order_id,
			stop_price = excluded.stop_price,
			updated_at = excluded.updated_at`),
		key.Name(), key.Symbol, string(key.Side), t.Threshold, t.ProfitTargetDistance,
		t.PendingStopOrderID, t.StopPrice, t.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("put trailing state %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM trailing_state WHERE key = ?`), key.Name())
	if err != nil {
		return fmt.Errorf("delete trailing state %s: %w", key, err)
	}
	return nil
}

func (s *SQL) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, side, threshold, profit_target, pending_order_id, stop_price, updated_at
		FROM trailing_state
		ORDER BY symbol ASC, side ASC`)
	if err != nil {
		return nil, fmt.Errorf("list trailing state: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec  Record
			side string
		)
		if err := rows.Scan(
			&rec.Key.Symbol,
			&side,
			&rec.Trailing.Threshold,
			&rec.Trailing.ProfitTargetDistance,
			&rec.Trailing.PendingStopOrderID,
			&rec.Trailing.StopPrice,
			&rec.Trailing.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.Key.Side = exchange.Side(side)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}
