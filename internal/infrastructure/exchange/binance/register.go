package binance

import (
	"errors"
	"strings"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
	"pricerelay/internal/infrastructure/exchange"
	"pricerelay/internal/infrastructure/pricefeed"
)

// init() 自动注册 Binance 行情流连接器
func init() {
	pricefeed.Register(domain.ExchangeBinance, New)
}

// New 按配置构建 primary 连接器
func New(s pricefeed.Settings) ([]port.Connector, error) {
	quote := strings.TrimSpace(s.Quote)
	if quote == "" {
		quote = DefaultQuote
	}
	symbols := exchange.Symbols(exchange.NewQuoteConverter(quote), s.Coins)
	if len(symbols) == 0 {
		return nil, errors.New("binance: symbols empty")
	}
	wsURL := strings.TrimSpace(s.WSURL)
	if wsURL == "" {
		wsURL = DefaultWSURL
	}

	c := exchange.NewConnector(NewTradeProtocol(symbols, s.Channel), exchange.Options{
		URL:     wsURL,
		Event:   domain.StreamEvent(domain.ExchangeBinance, "ws"),
		Backoff: s.Backoff,
	})
	return []port.Connector{c}, nil
}
