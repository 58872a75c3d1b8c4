package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
)

type Repo struct {
	rdb          *redis.Client
	ttl          time.Duration
	keyLatest    string // prefix + ":latest"
	alertStream  string
	alertChannel string
}

// LatestTick 存入 hash 的值，不含原始载荷
type LatestTick struct {
	Source   string  `json:"source"`
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	TsMs     int64   `json:"ts_ms"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, alertStream, alertChannel string) *Repo {
	if strings.TrimSpace(alertStream) == "" {
		alertStream = prefix + ":alerts"
	}
	if strings.TrimSpace(alertChannel) == "" {
		alertChannel = prefix + ":alerts:pub"
	}
	return &Repo{
		rdb:          rdb,
		ttl:          ttl,
		keyLatest:    prefix + ":latest",
		alertStream:  alertStream,
		alertChannel: alertChannel,
	}
}

// UpsertLatestTick HSET <prefix>:latest <source>:<symbol> json
func (r *Repo) UpsertLatestTick(ctx context.Context, t domain.Tick) error {
	b, err := json.Marshal(LatestTick{
		Source:   string(t.Source),
		Exchange: t.Exchange,
		Symbol:   t.Symbol,
		Price:    t.Price,
		TsMs:     t.Timestamp.UnixMilli(),
	})
	if err != nil {
		return err
	}

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, t.Key(), string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Repo) InsertAlert(ctx context.Context, ts int64, intent domain.TradeIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}

	// 1) Stream: XADD <stream> * ts_ms symbol intent side payload
	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.alertStream,
		Values: map[string]any{
			"ts_ms":   ts,
			"symbol":  intent.SymbolOr(""),
			"intent":  string(intent.Intent),
			"side":    string(intent.Side),
			"payload": string(payload),
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	return r.rdb.Publish(ctx, r.alertChannel, payload).Err()
}

func (r *Repo) Close() error {
	return r.rdb.Close()
}

var _ port.Repository = (*Repo)(nil)
