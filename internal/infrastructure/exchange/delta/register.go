package delta

import (
	"errors"
	"strings"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
	"pricerelay/internal/infrastructure/exchange"
	"pricerelay/internal/infrastructure/pricefeed"
)

func init() {
	pricefeed.Register(domain.ExchangeDelta, New)
}

// New 构建 delta:ws 连接器；配置了 poll_interval_ms 时追加 delta:rest 轮询
func New(s pricefeed.Settings) ([]port.Connector, error) {
	quote := strings.TrimSpace(s.Quote)
	if quote == "" {
		quote = DefaultQuote
	}
	symbols := exchange.Symbols(exchange.NewQuoteConverter(quote), s.Coins)
	if len(symbols) == 0 {
		return nil, errors.New("delta: symbols empty")
	}
	wsURL := strings.TrimSpace(s.WSURL)
	if wsURL == "" {
		wsURL = DefaultWSURL
	}

	stream := exchange.NewConnector(NewStreamProtocol(symbols, s.Channel), exchange.Options{
		URL:     wsURL,
		Event:   domain.StreamEvent(domain.ExchangeDelta, "ws"),
		Backoff: s.Backoff,
	})
	out := []port.Connector{stream}

	if s.PollInterval > 0 {
		out = append(out, NewPoller(PollerOptions{
			BaseURL:    s.RESTURL,
			Symbols:    symbols,
			Interval:   s.PollInterval,
			StaleAfter: s.StaleAfter,
			LastStream: stream.LastSeen,
		}))
	}
	return out, nil
}
