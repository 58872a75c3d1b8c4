package push

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pricerelay/internal/infrastructure/cache"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(cache.New("firstTick", "webhook"))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func recv(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatalf("send channel closed")
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("invalid envelope %s: %v", msg, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return Envelope{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %s", msg)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestLateSubscriberReceivesReplayOnce(t *testing.T) {
	h := startHub(t)

	a := newClient("a", nil)
	h.Attach(a)

	h.Retain("delta:ws", map[string]any{"price": 64000.5})
	if env := recv(t, a); env.Event != "delta:ws" {
		t.Fatalf("expected broadcast to existing subscriber, got %s", env.Event)
	}
	h.Retain("webhook", map[string]any{"intent": "ENTRY"})
	recv(t, a)

	b := newClient("b", nil)
	h.Attach(b)

	// 预声明的事件先回放
	if env := recv(t, b); env.Event != "webhook" {
		t.Fatalf("expected webhook replay first, got %s", env.Event)
	}
	env := recv(t, b)
	if env.Event != "delta:ws" {
		t.Fatalf("expected delta:ws replay, got %s", env.Event)
	}
	if data, ok := env.Data.(map[string]any); !ok || data["price"] != 64000.5 {
		t.Errorf("unexpected replay payload: %v", env.Data)
	}
	expectNothing(t, b)
	expectNothing(t, a)

	if h.Count() != 2 {
		t.Errorf("expected 2 subscribers, got %d", h.Count())
	}
}

func TestPublishDoesNotRetain(t *testing.T) {
	h := startHub(t)

	a := newClient("a", nil)
	h.Attach(a)
	h.Publish("ticks", []any{map[string]any{"last_price": 1}})
	if env := recv(t, a); env.Event != "ticks" {
		t.Fatalf("expected ticks, got %s", env.Event)
	}

	b := newClient("b", nil)
	h.Attach(b)
	expectNothing(t, b)
	if len(h.Latest()) != 0 {
		t.Errorf("published events must not be cached")
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	h := startHub(t)

	slow := newClient("slow", nil)
	fast := newClient("fast", nil)
	h.Attach(slow)
	h.Attach(fast)

	for i := 0; i < sendBuffer+10; i++ {
		h.Publish("delta:ws", i)
		recv(t, fast)
	}
	if len(slow.send) != sendBuffer {
		t.Errorf("slow subscriber queue should be full, got %d", len(slow.send))
	}
}

func TestDetachClosesSend(t *testing.T) {
	h := startHub(t)

	a := newClient("a", nil)
	h.Attach(a)
	h.Detach(a)

	select {
	case _, ok := <-a.send:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("send channel not closed after detach")
	}
	// 重复注销无副作用
	h.Detach(a)
	if h.Count() != 0 {
		t.Errorf("expected no subscribers, got %d", h.Count())
	}
}

func TestServeWSReplaysCache(t *testing.T) {
	h := startHub(t)
	h.Retain("firstTick", map[string]any{"instrument_token": 256265})

	deadline := time.Now().Add(2 * time.Second)
	for len(h.Latest()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("retain never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	server := httptest.NewServer(h.ServeWSHandler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Event != "firstTick" {
		t.Fatalf("expected firstTick replay, got %s", env.Event)
	}
}
