package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
	"pricerelay/internal/infrastructure/metrics"
)

var ErrClosed = errors.New("connector closed")

const dialTimeout = 10 * time.Second

// Protocol 描述单个数据源的报文差异：订阅握手、心跳、归一化
type Protocol interface {
	Exchange() string
	Source() domain.Source
	// Handshake 连接建立后发送的订阅消息；nil 表示无需订阅
	Handshake() ([]byte, error)
	// KeepAlive 识别应用层 ping，返回需要回复的 pong
	KeepAlive(msg []byte) (reply []byte, ok bool)
	Normalize(msg []byte, now time.Time) (domain.Tick, error)
}

// State 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Backoff 指数退避：从 Base 开始，每次重连翻倍，不超过 Max
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	cur  time.Duration
}

// DefaultBackoff 1s 起步，30s 封顶
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second}
}

func (b *Backoff) Current() time.Duration {
	if b.cur < b.Base {
		b.cur = b.Base
	}
	return b.cur
}

func (b *Backoff) Advance() {
	next := b.Current() * 2
	if next > b.Max {
		next = b.Max
	}
	b.cur = next
}

func (b *Backoff) Reset() { b.cur = b.Base }

// Connector 单个上游 WS 连接的状态机：
// disconnected -> connecting -> connected -> disconnected -> (退避后) connecting
type Connector struct {
	url    string
	event  string
	proto  Protocol
	dialer Dialer

	mu       sync.Mutex
	state    State
	backoff  Backoff
	timer    *time.Timer
	conn     Conn
	ctx      context.Context
	handler  port.TickHandler
	last     *domain.Tick
	lastSeen time.Time
	closed   bool

	// observe is called with every scheduled reconnect delay.
	observe func(time.Duration)
}

// Options 构造参数，零值字段使用默认值
type Options struct {
	URL     string
	Event   string
	Backoff Backoff
	Dialer  Dialer
}

func NewConnector(proto Protocol, opts Options) *Connector {
	b := opts.Backoff
	if b.Base <= 0 || b.Max <= 0 {
		b = DefaultBackoff()
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	b.Reset()

	dialer := opts.Dialer
	if dialer == nil {
		dialer = WSDialer{Dialer: websocket.DefaultDialer}
	}
	event := opts.Event
	if event == "" {
		event = domain.StreamEvent(proto.Exchange(), "ws")
	}
	return &Connector{
		url:     opts.URL,
		event:   event,
		proto:   proto,
		dialer:  dialer,
		backoff: b,
	}
}

func (c *Connector) Name() string  { return c.event }
func (c *Connector) Event() string { return c.event }

func (c *Connector) OnTick(h port.TickHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connect 启动连接；连接中或已连接时为空操作。ctx 取消时自动 Close
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	first := c.ctx == nil
	if first {
		c.ctx = ctx
	}
	c.mu.Unlock()

	if first {
		go func() {
			<-ctx.Done()
			_ = c.Close()
		}()
	}
	c.connect()
	return nil
}

func (c *Connector) connect() {
	c.mu.Lock()
	if c.closed || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	ctx := c.ctx
	c.mu.Unlock()

	go c.dial(ctx)
}

func (c *Connector) dial(ctx context.Context) {
	log.Info().Str("feed", c.event).Str("url", c.url).Msg("ws connecting")

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := c.dialer.Dial(dctx, c.url)
	cancel()
	if err != nil {
		log.Error().Str("feed", c.event).Err(err).Msg("ws dial failed")
		c.handleClose(nil, err)
		return
	}
	c.handleOpen(conn)
}

func (c *Connector) handleOpen(conn Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.backoff.Reset()
	c.mu.Unlock()

	log.Info().Str("feed", c.event).Msg("ws connected")

	hs, err := c.proto.Handshake()
	if err == nil && hs != nil {
		err = conn.WriteMessage(websocket.TextMessage, hs)
	}
	if err != nil {
		c.handleError(conn, err)
	}

	go c.readLoop(conn)
}

// readLoop 是活动连接上唯一调用 handleClose 的地方，保证关闭路径只触发一次
func (c *Connector) readLoop(conn Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.handleMessage(conn, msg)
	}
}

func (c *Connector) handleMessage(conn Conn, msg []byte) {
	if reply, ok := c.proto.KeepAlive(msg); ok {
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			c.handleError(conn, err)
		}
		return
	}

	now := time.Now()
	tick, err := c.proto.Normalize(msg, now)
	if err == nil && !tick.Valid() {
		err = ErrNoPrice
	}
	if err != nil {
		metrics.DroppedMessagesTotal.WithLabelValues(c.event).Inc()
		log.Debug().Str("feed", c.event).Err(err).Msg("message dropped")
		return
	}

	c.mu.Lock()
	c.last = &tick
	c.lastSeen = now
	h := c.handler
	c.mu.Unlock()

	if h != nil {
		h(tick)
	}
}

// handleError 关闭传输层；随后 readLoop 读到错误并进入关闭路径
func (c *Connector) handleError(conn Conn, err error) {
	log.Error().Str("feed", c.event).Err(err).Msg("ws error")
	_ = conn.Close()
}

func (c *Connector) handleClose(conn Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn != nil && conn != c.conn {
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	if c.closed {
		return
	}

	log.Warn().Str("feed", c.event).Err(err).Msg("ws disconnected, reconnecting")
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked 每个连接器最多一个待触发的重连定时器，重复调用合并
func (c *Connector) scheduleReconnectLocked() {
	if c.timer != nil || c.closed {
		return
	}
	delay := c.backoff.Current()
	if c.observe != nil {
		c.observe(delay)
	}
	metrics.ReconnectsTotal.WithLabelValues(c.event).Inc()
	log.Info().Str("feed", c.event).Int64("delay_ms", delay.Milliseconds()).Msg("reconnect scheduled")
	c.timer = time.AfterFunc(delay, c.fireReconnect)
}

func (c *Connector) fireReconnect() {
	c.mu.Lock()
	c.timer = nil
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.backoff.Advance()
	c.mu.Unlock()

	c.connect()
}

// Close 停止重连定时器并关闭当前连接
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.mu.Unlock()

	log.Info().Str("feed", c.event).Msg("connector closed")
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Connector) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

// Delay 当前退避时长
func (c *Connector) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff.Current()
}

// LastTick 最近一笔归一化 tick
func (c *Connector) LastTick() (domain.Tick, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return domain.Tick{}, false
	}
	return *c.last, true
}

// LastSeen 最近一次收到有效 tick 的时间
func (c *Connector) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Connector) reconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

var (
	_ port.Connector     = (*Connector)(nil)
	_ port.StateReporter = (*Connector)(nil)
)
