package delta

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
	"pricerelay/internal/infrastructure/exchange"
	"pricerelay/internal/infrastructure/metrics"
)

const DefaultPollInterval = 5 * time.Second

var ErrPollerClosed = errors.New("delta poller closed")

// Poller 以固定间隔轮询 /v2/tickers/{symbol}，作为 WS 的冗余通道
type Poller struct {
	baseURL    string
	symbols    []string
	interval   time.Duration
	staleAfter time.Duration
	event      string
	httpClient *http.Client

	// lastStream 返回 WS 通道最近一次收到 tick 的时间
	lastStream func() time.Time

	mu      sync.Mutex
	handler port.TickHandler
	cancel  context.CancelFunc
	closed  bool
	done    chan struct{}
}

type PollerOptions struct {
	BaseURL    string
	Symbols    []string
	Interval   time.Duration
	StaleAfter time.Duration
	HTTPClient *http.Client
	LastStream func() time.Time
}

func NewPoller(opts PollerOptions) *Poller {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultRESTURL
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Poller{
		baseURL:    base,
		symbols:    opts.Symbols,
		interval:   interval,
		staleAfter: opts.StaleAfter,
		event:      domain.StreamEvent(domain.ExchangeDelta, "rest"),
		httpClient: client,
		lastStream: opts.LastStream,
	}
}

func (p *Poller) Name() string  { return p.event }
func (p *Poller) Event() string { return p.event }

func (p *Poller) OnTick(h port.TickHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Connect 启动轮询协程，重复调用为空操作
func (p *Poller) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	if p.cancel != nil {
		return nil
	}
	pctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(pctx, p.done)
	return nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	log.Info().Str("feed", p.event).Str("url", p.baseURL).Dur("interval", p.interval).Msg("rest polling started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	if p.streamFresh() {
		return
	}
	for _, sym := range p.symbols {
		tick, err := p.Poll(ctx, sym)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.DroppedMessagesTotal.WithLabelValues(p.event).Inc()
			log.Warn().Str("feed", p.event).Str("symbol", sym).Err(err).Msg("rest poll failed")
			continue
		}
		p.mu.Lock()
		h := p.handler
		p.mu.Unlock()
		if h != nil {
			h(tick)
		}
	}
}

// streamFresh WS 在 staleAfter 窗口内有数据时跳过本次轮询
func (p *Poller) streamFresh() bool {
	if p.staleAfter <= 0 || p.lastStream == nil {
		return false
	}
	last := p.lastStream()
	return !last.IsZero() && time.Since(last) < p.staleAfter
}

// Poll 拉取单个交易对的 ticker 并归一化
func (p *Poller) Poll(ctx context.Context, symbol string) (domain.Tick, error) {
	endpoint := fmt.Sprintf("%s/v2/tickers/%s", p.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Tick{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domain.Tick{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Tick{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Tick{}, fmt.Errorf("ticker http %d: %s", resp.StatusCode, string(body))
	}

	m, err := exchange.DecodeObject(body)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("decode ticker: %w", err)
	}
	return normalizeTicker(exchange.Unwrap(m, "result"), symbol, domain.SourceSecondaryFallback, time.Now())
}

// State polling / idle / stopped
func (p *Poller) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return "stopped"
	case p.cancel != nil:
		return "polling"
	}
	return "idle"
}

// Close 停止轮询并等待协程退出
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	log.Info().Str("feed", p.event).Msg("rest polling stopped")
	return nil
}

var (
	_ port.Connector     = (*Poller)(nil)
	_ port.StateReporter = (*Poller)(nil)
)
