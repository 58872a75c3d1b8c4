package composite

import (
	"context"
	"errors"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
)

// Repo 将写入扇出到所有已启用的存储
type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) Len() int { return len(r.repos) }

func (r *Repo) UpsertLatestTick(ctx context.Context, t domain.Tick) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.UpsertLatestTick(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) InsertAlert(ctx context.Context, ts int64, intent domain.TradeIntent) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.InsertAlert(ctx, ts, intent); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close 关闭全部存储，返回合并后的错误
func (r *Repo) Close() error {
	var errs []error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ port.Repository = (*Repo)(nil)
