// Package push fans events out to WebSocket subscribers and replays the last
// cached value of every event to newly attached subscribers.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
	"pricerelay/internal/infrastructure/cache"
	"pricerelay/internal/infrastructure/metrics"
)

const sendBuffer = 256

// Envelope 推送给订阅者的文本帧格式
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type publishReq struct {
	event   string
	payload any
	retain  bool
}

// Hub 单协程维护订阅者集合与缓存写入，保证回放和广播不会重复投递
type Hub struct {
	cache *cache.LastValue

	register   chan *Client
	unregister chan *Client
	publish    chan publishReq
	done       chan struct{}

	clients map[*Client]struct{}
	count   atomic.Int64

	upgrader websocket.Upgrader
}

func NewHub(c *cache.LastValue) *Hub {
	if c == nil {
		c = cache.New(domain.EventFirstTick, domain.EventWebhook)
	}
	return &Hub{
		cache:      c,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan publishReq, 1024),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run 在 ctx 取消前处理注册、注销和广播
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.remove(c)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			metrics.Subscribers.Set(float64(len(h.clients)))
			replayed := 0
			for _, e := range h.cache.Snapshot() {
				if msg, ok := encode(e.Event, e.Payload); ok {
					h.deliver(c, msg)
					replayed++
				}
			}
			log.Info().Str("subscriber", c.id).Int("replayed", replayed).Msg("subscriber attached")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				log.Info().Str("subscriber", c.id).Msg("subscriber detached")
			}

		case req := <-h.publish:
			if req.retain {
				h.cache.Set(req.event, req.payload)
			}
			msg, ok := encode(req.event, req.payload)
			if !ok {
				continue
			}
			for c := range h.clients {
				h.deliver(c, msg)
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Store(int64(len(h.clients)))
	metrics.Subscribers.Set(float64(len(h.clients)))
}

// deliver 不阻塞；队列满时只丢弃这个订阅者的这条消息
func (h *Hub) deliver(c *Client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		metrics.HubDroppedTotal.Inc()
		log.Warn().Str("subscriber", c.id).Msg("send queue full, message dropped")
	}
}

func encode(event string, payload any) ([]byte, bool) {
	b, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		log.Error().Str("event", event).Err(err).Msg("encode push message failed")
		return nil, false
	}
	return b, true
}

// Publish 只广播，不写缓存
func (h *Hub) Publish(event string, payload any) {
	h.enqueue(publishReq{event: event, payload: payload})
}

// Retain 写缓存并广播
func (h *Hub) Retain(event string, payload any) {
	h.enqueue(publishReq{event: event, payload: payload, retain: true})
}

func (h *Hub) enqueue(req publishReq) {
	select {
	case h.publish <- req:
	case <-h.done:
	}
}

// Attach 注册订阅者，并只向它回放当前缓存
func (h *Hub) Attach(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

func (h *Hub) Detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Count 当前订阅者数量
func (h *Hub) Count() int { return int(h.count.Load()) }

// Latest 当前缓存的所有事件
func (h *Hub) Latest() []cache.Entry { return h.cache.Snapshot() }

// ServeWS 升级 HTTP 连接并启动读写协程
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := newClient(uuid.NewString(), conn)
	h.Attach(c)
	go c.writePump()
	go c.readPump(h)
}

var _ port.Publisher = (*Hub)(nil)

// ServeWSHandler 便于直接挂到 http.ServeMux 或测试服务器
func (h *Hub) ServeWSHandler() http.Handler {
	return http.HandlerFunc(h.ServeWS)
}
