package domain

import (
	"math"
	"time"
)

// Source 标识 tick 的来源通道
type Source string

const (
	SourcePrimary           Source = "primary"
	SourceSecondary         Source = "secondary"
	SourceSecondaryFallback Source = "secondary-fallback"
	SourceBroker            Source = "broker"
)

func (s Source) Valid() bool {
	switch s {
	case SourcePrimary, SourceSecondary, SourceSecondaryFallback, SourceBroker:
		return true
	}
	return false
}

// 推送给订阅者的事件名
const (
	EventTicks     = "ticks"     // broker 原始 tick 批次
	EventFirstTick = "firstTick" // 当前凭证会话内的第一笔 broker tick
	EventWebhook   = "webhook"   // 最新的 TradeIntent
)

// StreamEvent 返回单个来源的事件名，例如 "delta:ws"、"delta:rest"
func StreamEvent(exchange, transport string) string {
	return exchange + ":" + transport
}

// Tick 归一化后的价格记录
type Tick struct {
	Source    Source    `json:"source"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Raw       any       `json:"raw,omitempty"`
	// Session broker 凭证会话序号，0 表示连接器不区分会话
	Session uint64 `json:"-"`
}

// Valid reports whether the tick may enter the cache and hub.
func (t Tick) Valid() bool {
	return t.Symbol != "" && !math.IsNaN(t.Price) && !math.IsInf(t.Price, 0)
}

// Key 用于存储层的唯一键
func (t Tick) Key() string {
	return string(t.Source) + ":" + t.Symbol
}

// 支持的数据源名称，对应配置中的 [sources.<name>]
const (
	ExchangeBinance = "binance"
	ExchangeDelta   = "delta"
	ExchangeKite    = "kite"
)
