package delta

import (
	"encoding/json"
	"testing"
	"time"

	"pricerelay/internal/domain"
)

func TestHandshake(t *testing.T) {
	b, err := NewStreamProtocol([]string{"BTCUSD"}, "").Handshake()
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	want := `{"type":"subscribe","payload":{"channels":[{"name":"trades","symbols":["BTCUSD"]}]}}`
	if string(b) != want {
		t.Fatalf("unexpected handshake:\n got %s\nwant %s", b, want)
	}
}

func TestKeepAlive(t *testing.T) {
	p := NewStreamProtocol([]string{"BTCUSD"}, "trades")

	reply, ok := p.KeepAlive([]byte(`{"type":"ping"}`))
	if !ok || string(reply) != `{"type":"pong"}` {
		t.Fatalf("expected pong, got %s %v", reply, ok)
	}
	if _, ok := p.KeepAlive([]byte(`{"type":"trades","price":"1"}`)); ok {
		t.Errorf("trade must not be treated as ping")
	}
	if _, ok := p.KeepAlive([]byte(`garbage`)); ok {
		t.Errorf("garbage must not be treated as ping")
	}
}

func TestNormalizeTrade(t *testing.T) {
	p := NewStreamProtocol([]string{"BTCUSD"}, "trades")
	msg := []byte(`{"type":"all_trades","symbol":"BTCUSD","price":"64123.5","size":10,"timestamp":1700000000000000}`)

	tick, err := p.Normalize(msg, time.Now())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if tick.Source != domain.SourceSecondary || tick.Exchange != "delta" {
		t.Errorf("unexpected source: %s/%s", tick.Source, tick.Exchange)
	}
	if tick.Symbol != "BTCUSD" || tick.Price != 64123.5 {
		t.Errorf("unexpected tick: %+v", tick)
	}
	if tick.Timestamp.Unix() != 1700000000 {
		t.Errorf("microsecond timestamp not parsed: %v", tick.Timestamp)
	}
	if _, err := json.Marshal(tick); err != nil {
		t.Errorf("tick should be serializable: %v", err)
	}
}

func TestNormalizeOutOfRangeTimestampFallsBack(t *testing.T) {
	p := NewStreamProtocol([]string{"BTCUSD"}, "")
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, msg := range []string{
		`{"symbol":"BTCUSD","price":"65000","timestamp":1e19}`,
		`{"symbol":"BTCUSD","price":"65000","timestamp":"+12000-01-01T00:00:00Z"}`,
		`{"symbol":"BTCUSD","price":"65000","timestamp":"9999-12-31T23:00:00-05:00"}`,
	} {
		tick, err := p.Normalize([]byte(msg), now)
		if err != nil {
			t.Fatalf("%s: normalize: %v", msg, err)
		}
		if !tick.Timestamp.Equal(now) {
			t.Errorf("%s: expected fallback to now, got %v", msg, tick.Timestamp)
		}
		if _, err := json.Marshal(tick); err != nil {
			t.Errorf("%s: tick should be serializable: %v", msg, err)
		}
	}
}

func TestNormalizeUnwrapsData(t *testing.T) {
	p := NewStreamProtocol([]string{"ETHUSD"}, "v2/ticker")
	tick, err := p.Normalize([]byte(`{"type":"v2/ticker","data":{"mark_price":3100.25}}`), time.Now())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if tick.Symbol != "ETHUSD" || tick.Price != 3100.25 {
		t.Errorf("unexpected tick: %+v", tick)
	}
}

func TestNormalizeDropsMissingPrice(t *testing.T) {
	p := NewStreamProtocol([]string{"BTCUSD"}, "")
	for _, msg := range []string{
		`{"type":"subscriptions","channels":[]}`,
		`{"symbol":"BTCUSD","price":"N/A"}`,
		`[1,2,3]`,
		`{`,
	} {
		if _, err := p.Normalize([]byte(msg), time.Now()); err == nil {
			t.Errorf("%s: expected message to be dropped", msg)
		}
	}
}
