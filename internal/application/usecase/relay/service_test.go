package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pricerelay/internal/application/port"
	"pricerelay/internal/domain"
)

type fakeConnector struct {
	name    string
	event   string
	mu      sync.Mutex
	handler port.TickHandler
	closed  bool
	reloads []string
	connErr error
}

func (f *fakeConnector) Name() string  { return f.name }
func (f *fakeConnector) Event() string { return f.event }
func (f *fakeConnector) OnTick(h port.TickHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}
func (f *fakeConnector) Connect(context.Context) error { return f.connErr }
func (f *fakeConnector) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
func (f *fakeConnector) emit(t domain.Tick) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(t)
}

type fakeBroker struct {
	fakeConnector
	session uint64
}

func (f *fakeBroker) Reload(token string) error {
	f.mu.Lock()
	f.reloads = append(f.reloads, token)
	f.session++
	f.mu.Unlock()
	return nil
}

func (f *fakeBroker) Session() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

func (f *fakeBroker) reloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reloads)
}

type call struct {
	event  string
	retain bool
	data   any
}

type mockPublisher struct {
	mu    sync.Mutex
	calls []call
	ch    chan call
}

func newMockPublisher() *mockPublisher { return &mockPublisher{ch: make(chan call, 64)} }

func (m *mockPublisher) Publish(event string, v any) { m.record(call{event: event, data: v}) }
func (m *mockPublisher) Retain(event string, v any)  { m.record(call{event: event, retain: true, data: v}) }
func (m *mockPublisher) record(c call) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
	m.ch <- c
}

type mockRepository struct {
	mu      sync.Mutex
	upserts int
	err     error
}

func (m *mockRepository) UpsertLatestTick(context.Context, domain.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	return m.err
}
func (m *mockRepository) InsertAlert(context.Context, int64, domain.TradeIntent) error { return nil }
func (m *mockRepository) Close() error                                                 { return nil }

func (m *mockRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

// hangingRepository 模拟卡死的存储：写入一直阻塞到 ctx 结束
type hangingRepository struct {
	mu    sync.Mutex
	calls int
}

func (h *hangingRepository) UpsertLatestTick(ctx context.Context, _ domain.Tick) error {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}
func (h *hangingRepository) InsertAlert(context.Context, int64, domain.TradeIntent) error { return nil }
func (h *hangingRepository) Close() error                                                 { return nil }

func waitHandler(t *testing.T, f *fakeConnector) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		ready := f.handler != nil
		f.mu.Unlock()
		if ready {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s: OnTick never registered", f.name)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func next(t *testing.T, p *mockPublisher) call {
	t.Helper()
	select {
	case c := <-p.ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for publish")
	}
	return call{}
}

func TestRunRequiresConnectors(t *testing.T) {
	s := NewService(ServiceDeps{Publisher: newMockPublisher()})
	if err := s.Run(context.Background()); !errors.Is(err, ErrNoConnectors) {
		t.Fatalf("expected ErrNoConnectors, got %v", err)
	}
}

func TestRunConnectFailureClosesAll(t *testing.T) {
	ok := &fakeConnector{name: "a", event: "a:ws"}
	bad := &fakeConnector{name: "b", event: "b:ws", connErr: errors.New("boom")}
	s := NewService(ServiceDeps{Connectors: []port.Connector{ok, bad}, Publisher: newMockPublisher()})

	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected connect error")
	}
	if !ok.closed {
		t.Errorf("started connectors must be closed on failure")
	}
}

func TestRelayRoutesTicks(t *testing.T) {
	delta := &fakeConnector{name: "delta:ws", event: "delta:ws"}
	kite := &fakeBroker{fakeConnector: fakeConnector{name: "kite", event: domain.EventTicks}}
	pub := newMockPublisher()
	repo := &mockRepository{err: errors.New("db down")}

	s := NewService(ServiceDeps{
		Connectors:  []port.Connector{delta, kite},
		Publisher:   pub,
		Repo:        repo,
		AccessToken: "tok1",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitHandler(t, &kite.fakeConnector)

	delta.emit(domain.Tick{Source: domain.SourceSecondary, Symbol: "BTCUSD", Price: 1})
	if c := next(t, pub); c.event != "delta:ws" || !c.retain {
		t.Fatalf("stream tick should be retained under its event, got %+v", c)
	}

	brokerTick := domain.Tick{Source: domain.SourceBroker, Symbol: "NIFTY", Price: 2, Raw: map[string]any{"last_price": 2}}
	kite.emit(brokerTick)
	if c := next(t, pub); c.event != domain.EventFirstTick || !c.retain {
		t.Fatalf("first broker tick should be retained as firstTick, got %+v", c)
	}
	if c := next(t, pub); c.event != domain.EventTicks || c.retain {
		t.Fatalf("broker ticks should be published, got %+v", c)
	}

	kite.emit(brokerTick)
	if c := next(t, pub); c.event != domain.EventTicks {
		t.Fatalf("second broker tick must not re-send firstTick, got %+v", c)
	}
	// 存储错误不影响转发
	waitFor(t, "three upserts", func() bool { return repo.count() == 3 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !delta.closed || !kite.closed {
		t.Errorf("connectors must be closed on shutdown")
	}
}

func TestRelayHungStorageDoesNotStallFeeds(t *testing.T) {
	binance := &fakeConnector{name: "binance", event: "binance:ws"}
	delta := &fakeConnector{name: "delta:ws", event: "delta:ws"}
	pub := newMockPublisher()
	repo := &hangingRepository{}

	s := NewService(ServiceDeps{
		Connectors:     []port.Connector{binance, delta},
		Publisher:      pub,
		Repo:           repo,
		PersistTimeout: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	waitHandler(t, delta)

	// 超过写入队列容量，转发仍不能被阻塞
	for i := 0; i < persistQueueSize+64; i++ {
		binance.emit(domain.Tick{Source: domain.SourcePrimary, Symbol: "BTCUSDT", Price: float64(i)})
		if c := next(t, pub); c.event != "binance:ws" {
			t.Fatalf("expected binance tick, got %+v", c)
		}
	}
	delta.emit(domain.Tick{Source: domain.SourceSecondary, Symbol: "BTCUSD", Price: 1})
	if c := next(t, pub); c.event != "delta:ws" {
		t.Fatalf("delta tick should reach the publisher while storage hangs, got %+v", c)
	}

	calls := func() int {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.calls
	}
	waitFor(t, "first storage write", func() bool { return calls() >= 1 })
	if n := calls(); n != 1 {
		t.Errorf("only the first write should be in flight, got %d", n)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("shutdown must not wait for a hung storage write")
	}
}

func TestRelayCredentialReload(t *testing.T) {
	delta := &fakeConnector{name: "delta:ws", event: "delta:ws"}
	kite := &fakeBroker{fakeConnector: fakeConnector{name: "kite", event: domain.EventTicks}}
	pub := newMockPublisher()
	creds := make(chan string)

	s := NewService(ServiceDeps{
		Connectors:  []port.Connector{delta, kite},
		Publisher:   pub,
		Credentials: creds,
		AccessToken: "tok1",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	creds <- "tok1"
	creds <- "tok2"
	creds <- "tok2"
	creds <- ""

	kite.mu.Lock()
	reloads := append([]string(nil), kite.reloads...)
	kite.mu.Unlock()
	if len(reloads) != 1 || reloads[0] != "tok2" {
		t.Fatalf("expected a single reload with tok2, got %v", reloads)
	}

	// firstTick 重新捕获
	brokerTick := domain.Tick{Source: domain.SourceBroker, Symbol: "NIFTY", Price: 2}
	kite.emit(brokerTick)
	if c := next(t, pub); c.event != domain.EventFirstTick {
		t.Fatalf("expected firstTick after reload, got %+v", c)
	}
	next(t, pub)

	creds <- "tok3"
	kite.emit(brokerTick)
	if c := next(t, pub); c.event != domain.EventFirstTick {
		t.Fatalf("expected firstTick re-armed after second reload, got %+v", c)
	}
}

func TestRelayDropsPreviousSessionBrokerTicks(t *testing.T) {
	kite := &fakeBroker{fakeConnector: fakeConnector{name: "kite", event: domain.EventTicks}, session: 1}
	pub := newMockPublisher()
	s := NewService(ServiceDeps{Connectors: []port.Connector{kite}, Publisher: pub, AccessToken: "tok1"})

	s.handleCredential("tok2")
	if kite.Session() != 2 {
		t.Fatalf("expected reload to start session 2, got %d", kite.Session())
	}

	s.handleTick(feedTick{event: domain.EventTicks, tick: domain.Tick{Source: domain.SourceBroker, Symbol: "NIFTY", Raw: "old", Session: 1}})
	pub.mu.Lock()
	n := len(pub.calls)
	pub.mu.Unlock()
	if n != 0 {
		t.Fatalf("previous session tick must be dropped, got %d publishes", n)
	}

	s.handleTick(feedTick{event: domain.EventTicks, tick: domain.Tick{Source: domain.SourceBroker, Symbol: "NIFTY", Raw: "new", Session: 2}})
	if c := next(t, pub); c.event != domain.EventFirstTick || c.data != "new" {
		t.Fatalf("expected firstTick from the new session, got %+v", c)
	}
}

func TestRelayQueuedStaleTickNeverBecomesFirstTick(t *testing.T) {
	for i := 0; i < 50; i++ {
		kite := &fakeBroker{fakeConnector: fakeConnector{name: "kite", event: domain.EventTicks}, session: 1}
		pub := newMockPublisher()
		creds := make(chan string, 1)
		s := NewService(ServiceDeps{
			Connectors:  []port.Connector{kite},
			Publisher:   pub,
			Credentials: creds,
			AccessToken: "tok1",
		})

		// 旧会话的 tick 已在队列中，同时凭证变化到达
		s.ticks <- feedTick{event: domain.EventTicks, tick: domain.Tick{Source: domain.SourceBroker, Symbol: "NIFTY", Raw: "old", Session: 1}}
		creds <- "tok2"

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		waitFor(t, "reload", func() bool { return kite.reloadCount() == 1 })
		kite.emit(domain.Tick{Source: domain.SourceBroker, Symbol: "NIFTY", Raw: "new", Session: kite.Session()})

		var first any
		for {
			c := next(t, pub)
			if c.event == domain.EventFirstTick {
				first = c.data
			}
			if c.event == domain.EventTicks {
				if batch, ok := c.data.([]any); ok && len(batch) == 1 && batch[0] == "new" {
					break
				}
			}
		}
		if first != "new" {
			t.Fatalf("run %d: firstTick after reload carries %v", i, first)
		}

		cancel()
		<-done
	}
}
