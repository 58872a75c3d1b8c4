package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
	"pricerelay/internal/domain/alert"
	"pricerelay/internal/infrastructure/metrics"
)

// AlertService 接收交易告警回调，归一化后缓存、广播并审计
type AlertService struct {
	pub  port.Publisher
	repo port.Repository
	now  func() time.Time
}

func NewAlertService(pub port.Publisher, repo port.Repository) *AlertService {
	return &AlertService{pub: pub, repo: repo, now: time.Now}
}

// Receive 不会失败；无法识别的字段保持为空
func (s *AlertService) Receive(ctx context.Context, body any) domain.TradeIntent {
	intent := alert.Normalize(body)

	s.pub.Retain(domain.EventWebhook, intent)
	metrics.AlertsTotal.WithLabelValues(intentLabel(intent.Intent)).Inc()

	log.Info().
		Str("symbol", intent.SymbolOr("")).
		Str("intent", string(intent.Intent)).
		Str("side", string(intent.Side)).
		Msg("webhook signal")

	if s.repo != nil {
		if err := s.repo.InsertAlert(ctx, s.now().UnixMilli(), intent); err != nil {
			log.Warn().Err(err).Msg("persist alert failed")
		}
	}
	return intent
}

func intentLabel(i domain.Intent) string {
	if i == domain.IntentUnknown {
		return "unknown"
	}
	return string(i)
}
