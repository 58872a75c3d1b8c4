package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
	"pricerelay/internal/infrastructure/metrics"
)

var ErrNoConnectors = errors.New("no connectors")

type ServiceDeps struct {
	Connectors []port.Connector
	Publisher  port.Publisher
	Repo       port.Repository
	// Credentials 每次凭证文件变化后推送新的 access token
	Credentials <-chan string
	AccessToken string
	// PersistTimeout 单次最新价写入的超时，默认 2s
	PersistTimeout time.Duration
}

const (
	defaultPersistTimeout = 2 * time.Second
	persistQueueSize      = 256
)

type feedTick struct {
	event string
	tick  domain.Tick
}

// Service 唯一消费所有连接器 tick 的协程；firstTick 与当前凭证只在这里读写。
// 存储写入在独立协程中进行，队列满时丢弃，不阻塞转发。
type Service struct {
	deps ServiceDeps

	ticks       chan feedTick
	persist     chan domain.Tick
	firstTick   bool
	accessToken string
	// sessions 按事件名记录当前凭证会话，低于它的 broker tick 属于旧会话
	sessions map[string]uint64
}

func NewService(deps ServiceDeps) *Service {
	if deps.Repo == nil {
		deps.Repo = NewNoopRepo()
	}
	if deps.PersistTimeout <= 0 {
		deps.PersistTimeout = defaultPersistTimeout
	}
	return &Service{
		deps:        deps,
		ticks:       make(chan feedTick, 1024),
		persist:     make(chan domain.Tick, persistQueueSize),
		accessToken: deps.AccessToken,
		sessions:    map[string]uint64{},
	}
}

func (s *Service) Run(ctx context.Context) error {
	if len(s.deps.Connectors) == 0 {
		return ErrNoConnectors
	}
	if s.deps.Publisher == nil {
		return errors.New("publisher required")
	}

	pctx, stopPersist := context.WithCancel(ctx)
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		s.persistLoop(pctx)
	}()
	defer func() {
		stopPersist()
		<-persistDone
	}()

	// start connectors
	for _, c := range s.deps.Connectors {
		event := c.Event()
		c.OnTick(func(t domain.Tick) {
			select {
			case s.ticks <- feedTick{event: event, tick: t}:
			case <-ctx.Done():
			}
		})
		if err := c.Connect(ctx); err != nil {
			s.closeAll()
			return fmt.Errorf("connect %s: %w", c.Name(), err)
		}
		log.Info().Str("feed", c.Name()).Str("event", event).Msg("feed started")
	}

	creds := s.deps.Credentials
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return ctx.Err()

		case ft := <-s.ticks:
			s.handleTick(ft)

		case token, ok := <-creds:
			if !ok {
				creds = nil
				continue
			}
			s.handleCredential(token)
		}
	}
}

func (s *Service) handleTick(ft feedTick) {
	t := ft.tick
	if t.Source == domain.SourceBroker && t.Session != 0 && t.Session < s.sessions[ft.event] {
		log.Debug().Str("feed", ft.event).Uint64("session", t.Session).Msg("drop broker tick from previous session")
		return
	}
	metrics.TicksTotal.WithLabelValues(ft.event).Inc()

	if t.Source == domain.SourceBroker {
		if !s.firstTick {
			s.firstTick = true
			s.deps.Publisher.Retain(domain.EventFirstTick, t.Raw)
			log.Info().Str("feed", ft.event).Str("symbol", t.Symbol).Float64("price", t.Price).Msg("first broker tick")
		}
		s.deps.Publisher.Publish(domain.EventTicks, []any{t.Raw})
	} else {
		s.deps.Publisher.Retain(ft.event, t)
	}

	select {
	case s.persist <- t:
	default:
		metrics.PersistDroppedTotal.Inc()
	}
}

// persistLoop 顺序写入最新价；每次写入都带超时，存储故障只影响本协程
func (s *Service) persistLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.persist:
			wctx, cancel := context.WithTimeout(ctx, s.deps.PersistTimeout)
			if err := s.deps.Repo.UpsertLatestTick(wctx, t); err != nil {
				log.Debug().Str("symbol", t.Symbol).Str("source", string(t.Source)).Err(err).Msg("persist latest tick failed")
			}
			cancel()
		}
	}
}

// handleCredential 只重启需要凭证的连接器，并重新捕获 firstTick
func (s *Service) handleCredential(token string) {
	if token == "" || token == s.accessToken {
		return
	}
	s.accessToken = token

	reloaded := 0
	for _, c := range s.deps.Connectors {
		r, ok := c.(port.CredentialReloader)
		if !ok {
			continue
		}
		if err := r.Reload(token); err != nil {
			log.Error().Str("feed", c.Name()).Err(err).Msg("credential reload failed")
			continue
		}
		s.sessions[c.Event()] = r.Session()
		reloaded++
	}
	s.firstTick = false
	log.Info().Int("connectors", reloaded).Msg("access token changed, broker restarted")
}

func (s *Service) closeAll() {
	for _, c := range s.deps.Connectors {
		if err := c.Close(); err != nil {
			log.Warn().Str("feed", c.Name()).Err(err).Msg("close connector failed")
		}
	}
}
