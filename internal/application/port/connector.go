package port

import (
	"context"

	"pricerelay/internal/domain"
)

// TickHandler 接收连接器归一化后的 tick
type TickHandler func(domain.Tick)

// Connector 单个上游数据源（WS 流、REST 轮询或 broker SDK）
type Connector interface {
	Name() string
	// Event 推送给订阅者时使用的事件名
	Event() string
	OnTick(h TickHandler)
	Connect(ctx context.Context) error
	Close() error
}

// CredentialReloader 由需要访问令牌的连接器实现（broker）
type CredentialReloader interface {
	Reload(accessToken string) error
	// Session 返回当前凭证会话序号，与该会话产生的 Tick.Session 一致
	Session() uint64
}

// StateReporter is implemented by connectors that expose their connection state.
type StateReporter interface {
	State() string
}
