package relay

import (
	"context"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
)

type noopRepo struct{}

func NewNoopRepo() port.Repository { return &noopRepo{} }

func (n *noopRepo) UpsertLatestTick(ctx context.Context, t domain.Tick) error {
	return nil
}
func (n *noopRepo) InsertAlert(ctx context.Context, ts int64, intent domain.TradeIntent) error {
	return nil
}
func (n *noopRepo) Close() error { return nil }
