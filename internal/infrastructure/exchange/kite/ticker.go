// Package kite adapts the Zerodha Kite ticker SDK to port.Connector.
// The SDK owns its own reconnect loop; this package only restarts it when
// the access token changes.
package kite

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
	"pricerelay/internal/infrastructure/metrics"
)

var ErrClosed = errors.New("kite ticker closed")

// tickerClient is the subset of *kiteticker.Ticker used here.
type tickerClient interface {
	OnConnect(f func())
	OnTick(f func(tick models.Tick))
	OnError(f func(err error))
	OnClose(f func(code int, reason string))
	OnReconnect(f func(attempt int, delay time.Duration))
	OnNoReconnect(f func(attempt int))
	Subscribe(tokens []uint32) error
	SetMode(mode kiteticker.Mode, tokens []uint32) error
	ServeWithContext(ctx context.Context)
}

var newTicker = func(apiKey, accessToken string) tickerClient {
	return kiteticker.New(apiKey, accessToken)
}

type Options struct {
	APIKey      string
	AccessToken string
	Instruments map[uint32]string
	Mode        string
}

// Ticker broker 行情连接器；每次凭证变更都会换一个新的 SDK ticker
type Ticker struct {
	apiKey      string
	tokens      []uint32
	instruments map[uint32]string
	mode        kiteticker.Mode

	mu          sync.Mutex
	accessToken string
	handler     port.TickHandler
	parent      context.Context
	cancel      context.CancelFunc
	gen         uint64
	state       string
	closed      bool
}

func New(opts Options) *Ticker {
	tokens := make([]uint32, 0, len(opts.Instruments))
	for tok := range opts.Instruments {
		tokens = append(tokens, tok)
	}
	mode := kiteticker.Mode(opts.Mode)
	if opts.Mode == "" {
		mode = kiteticker.ModeFull
	}
	return &Ticker{
		apiKey:      opts.APIKey,
		accessToken: opts.AccessToken,
		tokens:      tokens,
		instruments: opts.Instruments,
		mode:        mode,
		state:       "disconnected",
	}
}

func (k *Ticker) Name() string  { return domain.ExchangeKite }
func (k *Ticker) Event() string { return domain.EventTicks }

func (k *Ticker) OnTick(h port.TickHandler) {
	k.mu.Lock()
	k.handler = h
	k.mu.Unlock()
}

func (k *Ticker) Connect(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrClosed
	}
	if k.cancel != nil {
		return nil
	}
	k.parent = ctx
	k.startLocked()
	return nil
}

// Reload 用新的 access token 重启 ticker；旧 ticker 的回调全部作废
func (k *Ticker) Reload(accessToken string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ErrClosed
	}
	if accessToken == "" || accessToken == k.accessToken {
		return nil
	}
	k.accessToken = accessToken
	if k.cancel == nil {
		// 尚未 Connect，下次 Connect 使用新 token
		return nil
	}
	k.cancel()
	log.Info().Str("feed", k.Name()).Msg("restarting ticker with new access token")
	k.startLocked()
	return nil
}

func (k *Ticker) startLocked() {
	k.gen++
	gen := k.gen
	t := newTicker(k.apiKey, k.accessToken)

	t.OnConnect(func() {
		if !k.current(gen) {
			return
		}
		k.setState(gen, "connected")
		log.Info().Str("feed", k.Name()).Int("tokens", len(k.tokens)).Msg("ticker connected")
		if err := t.Subscribe(k.tokens); err != nil {
			log.Error().Str("feed", k.Name()).Err(err).Msg("subscribe failed")
			return
		}
		if err := t.SetMode(k.mode, k.tokens); err != nil {
			log.Error().Str("feed", k.Name()).Err(err).Msg("set mode failed")
		}
	})
	t.OnTick(func(tick models.Tick) {
		if !k.current(gen) {
			return
		}
		k.deliver(gen, tick)
	})
	t.OnError(func(err error) {
		if k.current(gen) {
			log.Error().Str("feed", k.Name()).Err(err).Msg("ticker error")
		}
	})
	t.OnClose(func(code int, reason string) {
		if k.setState(gen, "disconnected") {
			log.Warn().Str("feed", k.Name()).Int("code", code).Str("reason", reason).Msg("ticker closed")
		}
	})
	t.OnReconnect(func(attempt int, delay time.Duration) {
		if k.setState(gen, "connecting") {
			metrics.ReconnectsTotal.WithLabelValues(k.Name()).Inc()
			log.Warn().Str("feed", k.Name()).Int("attempt", attempt).Dur("delay", delay).Msg("ticker reconnecting")
		}
	})
	t.OnNoReconnect(func(attempt int) {
		if k.setState(gen, "disconnected") {
			log.Error().Str("feed", k.Name()).Int("attempt", attempt).Msg("ticker gave up reconnecting")
		}
	})

	ctx, cancel := context.WithCancel(k.parent)
	k.cancel = cancel
	k.state = "connecting"
	go t.ServeWithContext(ctx)
}

func (k *Ticker) current(gen uint64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return !k.closed && k.gen == gen
}

func (k *Ticker) setState(gen uint64, state string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed || k.gen != gen {
		return false
	}
	k.state = state
	return true
}

func (k *Ticker) deliver(gen uint64, raw models.Tick) {
	tick := Normalize(raw, k.instruments, time.Now())
	if !tick.Valid() {
		metrics.DroppedMessagesTotal.WithLabelValues(k.Name()).Inc()
		return
	}
	tick.Session = gen

	k.mu.Lock()
	h := k.handler
	k.mu.Unlock()
	if h != nil {
		h(tick)
	}
}

// Normalize 将 SDK tick 转换为统一结构，Raw 保留 SDK 原始对象用于推送
func Normalize(raw models.Tick, instruments map[uint32]string, now time.Time) domain.Tick {
	symbol := instruments[raw.InstrumentToken]
	if symbol == "" {
		symbol = strconv.FormatUint(uint64(raw.InstrumentToken), 10)
	}
	ts := now
	if !raw.Timestamp.Time.IsZero() {
		ts = raw.Timestamp.Time
	}
	return domain.Tick{
		Source:    domain.SourceBroker,
		Exchange:  domain.ExchangeKite,
		Symbol:    symbol,
		Price:     raw.LastPrice,
		Timestamp: ts.UTC(),
		Raw:       raw,
	}
}

// Session 当前 SDK ticker 的代数，每次 Reload 递增
func (k *Ticker) Session() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.gen
}

func (k *Ticker) State() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Close 停止当前 ticker，之后的回调都会被忽略
func (k *Ticker) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	k.state = "disconnected"
	if k.cancel != nil {
		k.cancel()
	}
	return nil
}

var (
	_ port.Connector          = (*Ticker)(nil)
	_ port.CredentialReloader = (*Ticker)(nil)
	_ port.StateReporter      = (*Ticker)(nil)
)
