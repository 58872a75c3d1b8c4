package port

import (
	"context"

	"pricerelay/internal/domain"
)

type Repository interface {
	// 每个 (source, symbol) 只保留最新一笔，不保存历史
	UpsertLatestTick(ctx context.Context, t domain.Tick) error

	// 告警审计
	InsertAlert(ctx context.Context, ts int64, intent domain.TradeIntent) error

	// Connection management
	Close() error
}
