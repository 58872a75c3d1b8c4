package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pricerelay/internal/domain"
	"pricerelay/internal/infrastructure/exchange"
)

const (
	DefaultWSURL   = "wss://stream.binance.com:9443/ws"
	DefaultQuote   = "USDT"
	DefaultChannel = "trade"
)

var (
	priceKeys = []string{"p", "c", "lastPrice", "price"}
	timeKeys  = []string{"T", "E"}
)

// TradeProtocol Binance 公共行情流：连接后按 SUBSCRIBE 订阅 <symbol>@<channel>
type TradeProtocol struct {
	symbols []string
	channel string
}

func NewTradeProtocol(symbols []string, channel string) *TradeProtocol {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &TradeProtocol{symbols: symbols, channel: channel}
}

func (p *TradeProtocol) Exchange() string      { return domain.ExchangeBinance }
func (p *TradeProtocol) Source() domain.Source { return domain.SourcePrimary }

type subscribeReq struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

func (p *TradeProtocol) Handshake() ([]byte, error) {
	if len(p.symbols) == 0 {
		return nil, fmt.Errorf("binance: no symbols to subscribe")
	}
	params := make([]string, 0, len(p.symbols))
	for _, s := range p.symbols {
		params = append(params, strings.ToLower(s)+"@"+p.channel)
	}
	return json.Marshal(subscribeReq{Method: "SUBSCRIBE", Params: params, ID: 1})
}

// KeepAlive Binance 只使用协议层 ping 帧，由 gorilla 自动回复
func (p *TradeProtocol) KeepAlive([]byte) ([]byte, bool) { return nil, false }

// Normalize 兼容单流与组合流（{"stream":..,"data":{..}}）；订阅回执没有价格会被丢弃
func (p *TradeProtocol) Normalize(msg []byte, now time.Time) (domain.Tick, error) {
	m, err := exchange.DecodeObject(msg)
	if err != nil {
		return domain.Tick{}, err
	}
	data := exchange.Unwrap(m, "data")

	px, ok := exchange.PriceFrom(data, priceKeys...)
	if !ok {
		return domain.Tick{}, exchange.ErrNoPrice
	}

	symbol := strings.ToUpper(exchange.StringFrom(data, "s"))
	if symbol == "" && len(p.symbols) > 0 {
		symbol = p.symbols[0]
	}

	return domain.Tick{
		Source:    p.Source(),
		Exchange:  p.Exchange(),
		Symbol:    symbol,
		Price:     px,
		Timestamp: exchange.TimeFrom(data, now, timeKeys...).UTC(),
		Raw:       json.RawMessage(append([]byte(nil), msg...)),
	}, nil
}
