package state

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/trailguard/exchange"
)

func newMockPostgres(t *testing.T) (*SQL, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS trailing_state`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s, err := NewSQL(db, Postgres)
	require.NoError(t, err)
	return s, mock
}

func TestPostgresRebind(t *testing.T) {
	t.Parallel()

	s := &SQL{dialect: Postgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	s = &SQL{dialect: SQLite}
	assert.Equal(t, "x = ?", s.rebind("x = ?"))
}

func TestPostgresGet(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	key := Key{Symbol: "BTCUSDT", Side: exchange.Long}

	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		want      Trailing
		wantErr   error
	}{
		{
			name: "found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"threshold", "profit_target", "pending_order_id", "stop_price", "updated_at"}).
					AddRow(0.2, 0.11, "ord-9", 101.0, now)
				mock.ExpectQuery(regexp.QuoteMeta(`WHERE key = $1`)).
					WithArgs("BTCUSDT.buy").
					WillReturnRows(rows)
			},
			want: Trailing{Threshold: 0.2, ProfitTargetDistance: 0.11, PendingStopOrderID: "ord-9", StopPrice: 101, UpdatedAt: now},
		},
		{
			name: "missing",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM trailing_state`).
					WithArgs("BTCUSDT.buy").
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, mock := newMockPostgres(t)
			tt.mockSetup(mock)

			got, err := s.Get(context.Background(), key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresPutUpserts(t *testing.T) {
	t.Parallel()

	s, mock := newMockPostgres(t)
	key := Key{Symbol: "ETHUSDT", Side: exchange.Short}
	ts := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO trailing_state .+ ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("ETHUSDT.sell", "ETHUSDT", "short", 0.1, 0.01, "ord-1", 99.0, ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Put(context.Background(), key, Trailing{
		Threshold:            0.1,
		ProfitTargetDistance: 0.01,
		PendingStopOrderID:   "ord-1",
		StopPrice:            99,
		UpdatedAt:            ts,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteAndList(t *testing.T) {
	t.Parallel()

	s, mock := newMockPostgres(t)
	ts := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM trailing_state WHERE key = $1`)).
		WithArgs("BTCUSDT.buy").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows := sqlmock.NewRows([]string{"symbol", "side", "threshold", "profit_target", "pending_order_id", "stop_price", "updated_at"}).
		AddRow("BTCUSDT", "short", 0.2, 0.11, "", 0.0, ts).
		AddRow("ETHUSDT", "long", 0.1, 0.01, "x", 10.0, ts)
	mock.ExpectQuery(`SELECT symbol, side, .+ FROM trailing_state`).WillReturnRows(rows)

	require.NoError(t, s.Delete(context.Background(), Key{Symbol: "BTCUSDT", Side: exchange.Long}))

	recs, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, Key{Symbol: "BTCUSDT", Side: exchange.Short}, recs[0].Key)
	assert.Equal(t, "x", recs[1].Trailing.PendingStopOrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	s, mock := newMockPostgres(t)
	boom := errors.New("connection refused")
	mock.ExpectExec(`DELETE FROM trailing_state`).WillReturnError(boom)

	err := s.Delete(context.Background(), Key{Symbol: "BTCUSDT", Side: exchange.Long})
	assert.ErrorIs(t, err, boom)
}

func TestNewSQLSchemaFailure(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE`).WillReturnError(errors.New("permission denied"))
	_, err = NewSQL(db, Postgres)
	assert.Error(t, err)
}
