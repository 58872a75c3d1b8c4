package feeds

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"pricerelay/internal/application/port"
	"pricerelay/internal/infrastructure/config"
	"pricerelay/internal/infrastructure/exchange"
	"pricerelay/internal/infrastructure/pricefeed"

	// 注册各数据源的连接器工厂
	_ "pricerelay/internal/infrastructure/exchange/binance"
	_ "pricerelay/internal/infrastructure/exchange/delta"
	_ "pricerelay/internal/infrastructure/exchange/kite"
)

// Manager 统一管理所有已启用数据源的连接器（WS 流、REST 轮询、broker SDK）
type Manager struct {
	connectors map[string][]port.Connector
}

func NewManager() *Manager {
	return &Manager{connectors: make(map[string][]port.Connector)}
}

// Initialize 根据配置构建连接器
// 单个数据源失败时继续初始化其他数据源，全部失败才返回错误
func (m *Manager) Initialize(cfg *config.Config) error {
	enabled := cfg.GetEnabledSources()
	var failed []string

	for _, name := range enabled {
		conns, err := m.build(name, Settings(cfg, name))
		if err != nil {
			log.Error().Err(err).Str("source", name).Msg("failed to initialize source")
			failed = append(failed, name)
			continue
		}
		m.connectors[name] = conns
		for _, c := range conns {
			log.Info().Str("source", name).Str("event", c.Event()).Msg("✓ " + c.Name() + " connector initialized")
		}
	}

	if len(failed) == len(enabled) {
		return fmt.Errorf("failed to initialize all sources: %v", failed)
	}
	if len(failed) > 0 {
		log.Warn().Strs("failed_sources", failed).Msg("some sources failed to initialize, but others succeeded")
	}
	return nil
}

func (m *Manager) build(name string, s pricefeed.Settings) ([]port.Connector, error) {
	factory, ok := pricefeed.Get(name)
	if !ok {
		return nil, fmt.Errorf("connector factory not registered for source: %s (registered: %v)", name, pricefeed.Names())
	}
	conns, err := factory(s)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return nil, fmt.Errorf("source %s produced no connectors", name)
	}
	return conns, nil
}

// Settings 将 [sources.<name>] 与全局配置合并为工厂参数
func Settings(cfg *config.Config, name string) pricefeed.Settings {
	src := cfg.Source(name)
	return pricefeed.Settings{
		Name:         name,
		WSURL:        src.WsURL,
		RESTURL:      src.RestURL,
		Quote:        src.Quote,
		Channel:      src.Channel,
		Mode:         src.Mode,
		PollInterval: src.PollInterval(),
		StaleAfter:   src.StaleAfter(),
		Coins:        cfg.Symbols.List,
		Backoff:      exchange.Backoff{Base: cfg.BackoffBase(), Max: cfg.BackoffMax()},
		APIKey:       cfg.Credentials.APIKey,
		AccessToken:  cfg.Credentials.AccessToken,
		Instruments:  cfg.Credentials.Instruments,
	}
}

// Connectors 返回全部连接器，按数据源名称排序
func (m *Manager) Connectors() []port.Connector {
	names := make([]string, 0, len(m.connectors))
	for name := range m.connectors {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []port.Connector
	for _, name := range names {
		out = append(out, m.connectors[name]...)
	}
	return out
}

// Get 返回指定数据源的连接器
func (m *Manager) Get(name string) []port.Connector {
	return m.connectors[name]
}
