package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  price REAL NOT NULL,
  ts_ms INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY(source, symbol)
);
CREATE INDEX IF NOT EXISTS idx_latest_ticks_symbol ON latest_ticks(symbol);

CREATE TABLE IF NOT EXISTS alerts (
  id TEXT PRIMARY KEY,
  ts_ms INTEGER NOT NULL,
  symbol TEXT,
  intent TEXT,
  side TEXT,
  stop_price REAL,
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts_ms);
`)
	return err
}

func (r *Repo) UpsertLatestTick(ctx context.Context, t domain.Tick) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO latest_ticks(source, exchange, symbol, price, ts_ms, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, symbol) DO UPDATE SET
		exchange=excluded.exchange, price=excluded.price, ts_ms=excluded.ts_ms, updated_at=excluded.updated_at
	`, string(t.Source), t.Exchange, t.Symbol, t.Price, t.Timestamp.UnixMilli(), time.Now().UnixMilli())
	return err
}

// GetLatestTick 返回 (source, symbol) 的最新价格
func (r *Repo) GetLatestTick(ctx context.Context, source domain.Source, symbol string) (price float64, ts int64, err error) {
	err = r.db.QueryRowContext(ctx, `SELECT price, ts_ms FROM latest_ticks WHERE source=? AND symbol=?`, string(source), symbol).
		Scan(&price, &ts)
	return
}

func (r *Repo) InsertAlert(ctx context.Context, ts int64, intent domain.TradeIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO alerts(id, ts_ms, symbol, intent, side, stop_price, payload)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), ts, nullString(intent.SymbolOr("")), nullString(string(intent.Intent)),
		nullString(string(intent.Side)), nullFloat(intent.StopPrice), string(payload))
	return err
}

// CountAlerts 返回已记录的告警数量
func (r *Repo) CountAlerts(ctx context.Context) (n int, err error) {
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n)
	return
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

var _ port.Repository = (*Repo)(nil)
