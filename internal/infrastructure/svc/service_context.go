package svc

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	appcontainer "pricerelay/internal/application/container"
	"pricerelay/internal/application/port"
	"pricerelay/internal/application/usecase/relay"
	"pricerelay/internal/domain"
	"pricerelay/internal/infrastructure/cache"
	"pricerelay/internal/infrastructure/config"
	infracontainer "pricerelay/internal/infrastructure/container"
	"pricerelay/internal/infrastructure/credential"
	"pricerelay/internal/infrastructure/feeds"
	"pricerelay/internal/interfaces/httpapi"
	"pricerelay/internal/interfaces/push"
)

type ServiceContext struct {
	Config *config.Config

	// 基础设施层
	storage *infracontainer.Container
	feeds   *feeds.Manager
	watcher *credential.Watcher

	// 应用层
	hub    *push.Hub
	app    *appcontainer.Container
	relay  *relay.Service
	server *httpapi.Server

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext，所有依赖在这里按顺序构建
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Config:      cfg,
		closerChain: make([]func() error, 0),
	}
	if err := sc.initializeComponents(ctx); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initializeComponents(ctx context.Context) error {
	// 0. 存储层
	storage, err := infracontainer.New(ctx, sc.Config)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}
	sc.storage = storage
	sc.closerChain = append(sc.closerChain, storage.Close)

	// 1. 连接器
	sc.feeds = feeds.NewManager()
	if err := sc.feeds.Initialize(sc.Config); err != nil {
		return fmt.Errorf("%w: %w", ErrNoFeedsEnabled, err)
	}
	connectors := sc.feeds.Connectors()
	if len(connectors) == 0 {
		return ErrNoFeedsEnabled
	}

	// 2. 推送层与应用服务
	sc.hub = push.NewHub(cache.New(domain.EventFirstTick, domain.EventWebhook))
	sc.app = appcontainer.New(sc.hub, storage.Repository())

	var creds <-chan string
	if needsCredentials(connectors) {
		sc.watcher = credential.NewWatcher(sc.Config.App.EnvFile, credential.DefaultKey,
			sc.Config.Credentials.AccessToken, sc.Config.CredentialDebounce())
		creds = sc.watcher.Changes()
	}
	sc.relay = sc.app.RelayService(connectors, creds, sc.Config.Credentials.AccessToken)

	sc.server = httpapi.NewServer(httpapi.Deps{
		Hub:            sc.hub,
		Alerts:         sc.app.AlertService(),
		Connectors:     connectors,
		MetricsEnabled: sc.Config.Metrics.Enabled,
	})

	log.Info().
		Int("connectors", len(connectors)).
		Bool("credential_watch", sc.watcher != nil).
		Msg("✓ All components initialized")
	return nil
}

// Run 运行 hub、relay、凭证监听和 HTTP 服务，直到 ctx 取消或任一组件出错
func (sc *ServiceContext) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sc.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := sc.relay.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("relay: %w", err)
		}
		return nil
	})
	if sc.watcher != nil {
		g.Go(func() error {
			// 监听失败不影响行情转发
			if err := sc.watcher.Run(gctx); err != nil {
				log.Error().Err(err).Msg("credential watcher stopped")
			}
			return nil
		})
	}
	g.Go(func() error {
		return sc.server.Run(gctx, sc.Config.App.ListenAddr, sc.Config.ShutdownGrace())
	})

	return g.Wait()
}

// Server 供测试使用
func (sc *ServiceContext) Server() *httpapi.Server { return sc.server }

func (sc *ServiceContext) Connectors() []port.Connector { return sc.feeds.Connectors() }

// Close 按相反顺序释放资源；连接器由 relay 在退出时关闭
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	sc.closerChain = nil
	return nil
}

func needsCredentials(connectors []port.Connector) bool {
	for _, c := range connectors {
		if _, ok := c.(port.CredentialReloader); ok {
			return true
		}
	}
	return false
}
