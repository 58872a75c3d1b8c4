package pricefeed

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"pricerelay/internal/application/port"
	"pricerelay/internal/infrastructure/exchange"
)

// Settings 构建某个数据源连接器所需的全部参数
type Settings struct {
	Name         string
	WSURL        string
	RESTURL      string
	Quote        string
	Channel      string
	Mode         string
	PollInterval time.Duration
	StaleAfter   time.Duration
	Coins        []string
	Backoff      exchange.Backoff

	// broker 凭证
	APIKey      string
	AccessToken string
	Instruments map[uint32]string
}

// Factory 一个数据源可以产出多个连接器（如 delta 的 WS 与 REST 轮询）
type Factory func(s Settings) ([]port.Connector, error)

// registry maps source names to their connector factories
var registry = make(map[string]Factory)

// Register 由各数据源包的 init() 调用
func Register(name string, factory Factory) {
	if factory == nil {
		log.Warn().Str("source", name).Msg("invalid connector factory")
		return
	}
	if _, exists := registry[name]; exists {
		log.Warn().Str("source", name).Msg("connector factory already registered, overwriting")
	}
	registry[name] = factory
	log.Debug().Str("source", name).Msg("connector factory registered")
}

func Get(name string) (Factory, bool) {
	factory, ok := registry[name]
	return factory, ok
}

// Names 已注册的数据源，按名称排序
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
