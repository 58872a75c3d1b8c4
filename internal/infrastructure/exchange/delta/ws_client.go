package delta

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"pricerelay/internal/domain"
	"pricerelay/internal/infrastructure/exchange"
)

const (
	DefaultWSURL   = "wss://socket.delta.exchange"
	DefaultRESTURL = "https://api.delta.exchange"
	DefaultQuote   = "USD"
	DefaultChannel = "trades"
)

var (
	priceKeys = []string{"last_price", "price", "mark_price", "close", "ltp"}
	timeKeys  = []string{"timestamp", "time"}

	pongMsg = []byte(`{"type":"pong"}`)
)

type channel struct {
	Name    string   `json:"name"`
	Symbols []string `json:"symbols"`
}

type subscribeReq struct {
	Type    string `json:"type"`
	Payload struct {
		Channels []channel `json:"channels"`
	} `json:"payload"`
}

// StreamProtocol Delta Exchange 公共频道
type StreamProtocol struct {
	symbols []string
	channel string
}

func NewStreamProtocol(symbols []string, ch string) *StreamProtocol {
	ch = strings.TrimSpace(ch)
	if ch == "" {
		ch = DefaultChannel
	}
	return &StreamProtocol{symbols: symbols, channel: ch}
}

func (p *StreamProtocol) Exchange() string      { return domain.ExchangeDelta }
func (p *StreamProtocol) Source() domain.Source { return domain.SourceSecondary }

func (p *StreamProtocol) Handshake() ([]byte, error) {
	if len(p.symbols) == 0 {
		return nil, errors.New("delta: no symbols to subscribe")
	}
	var req subscribeReq
	req.Type = "subscribe"
	req.Payload.Channels = []channel{{Name: p.channel, Symbols: p.symbols}}
	return json.Marshal(req)
}

func (p *StreamProtocol) KeepAlive(msg []byte) ([]byte, bool) {
	var m struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(msg, &m) != nil || m.Type != "ping" {
		return nil, false
	}
	return pongMsg, true
}

func (p *StreamProtocol) Normalize(msg []byte, now time.Time) (domain.Tick, error) {
	m, err := exchange.DecodeObject(msg)
	if err != nil {
		return domain.Tick{}, err
	}
	return normalizeTicker(exchange.Unwrap(m, "data"), p.fallbackSymbol(), p.Source(), now)
}

func (p *StreamProtocol) fallbackSymbol() string {
	if len(p.symbols) == 0 {
		return ""
	}
	return p.symbols[0]
}

// normalizeTicker WS 与 REST 共用的字段映射
func normalizeTicker(trade map[string]any, fallbackSymbol string, src domain.Source, now time.Time) (domain.Tick, error) {
	px, ok := exchange.PriceFrom(trade, priceKeys...)
	if !ok {
		return domain.Tick{}, exchange.ErrNoPrice
	}
	symbol := exchange.StringFrom(trade, "symbol")
	if symbol == "" {
		symbol = fallbackSymbol
	}
	return domain.Tick{
		Source:    src,
		Exchange:  domain.ExchangeDelta,
		Symbol:    symbol,
		Price:     px,
		Timestamp: exchange.TimeFrom(trade, now, timeKeys...).UTC(),
		Raw:       trade,
	}, nil
}
