package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS latest_ticks (
  source TEXT NOT NULL,
  exchange TEXT NOT NULL,
  symbol TEXT NOT NULL,
  price DOUBLE PRECISION NOT NULL,
  ts_ms BIGINT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY(source, symbol)
);

CREATE TABLE IF NOT EXISTS alerts (
  id UUID PRIMARY KEY,
  ts_ms BIGINT NOT NULL,
  symbol TEXT,
  intent TEXT,
  side TEXT,
  stop_price DOUBLE PRECISION,
  payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts_ms);
`)
	return err
}

func (r *Repo) UpsertLatestTick(ctx context.Context, t domain.Tick) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO latest_ticks(source, exchange, symbol, price, ts_ms)
		VALUES($1, $2, $3, $4, $5)
		ON CONFLICT(source, symbol) DO UPDATE SET
		exchange=EXCLUDED.exchange, price=EXCLUDED.price, ts_ms=EXCLUDED.ts_ms, updated_at=now()
	`, string(t.Source), t.Exchange, t.Symbol, t.Price, t.Timestamp.UnixMilli())
	return err
}

func (r *Repo) InsertAlert(ctx context.Context, ts int64, intent domain.TradeIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}

	var stop sql.NullFloat64
	if intent.StopPrice != nil {
		stop = sql.NullFloat64{Float64: *intent.StopPrice, Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO alerts(id, ts_ms, symbol, intent, side, stop_price, payload)
		VALUES($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7)
	`, uuid.New(), ts, intent.SymbolOr(""), string(intent.Intent), string(intent.Side), stop, string(payload))
	return err
}

var _ port.Repository = (*Repo)(nil)
