package alert

import (
	"encoding/json"
	"net/url"
	"testing"

	"pricerelay/internal/domain"
)

func TestNormalizeAcceptedEntryText(t *testing.T) {
	got := Normalize("Accepted Entry + symbol=BTCUSD|stoppx=50000")

	if got.Symbol == nil || *got.Symbol != "BTCUSD" {
		t.Fatalf("symbol mismatch: %v", got.Symbol)
	}
	if got.StopPrice == nil || *got.StopPrice != 50000 {
		t.Fatalf("stop price mismatch: %v", got.StopPrice)
	}
	if got.Intent != domain.IntentEntry {
		t.Errorf("expected ENTRY, got %q", got.Intent)
	}
	if got.Side != domain.SideBuy {
		t.Errorf("expected BUY, got %q", got.Side)
	}

	raw, ok := got.Raw.(map[string]any)
	if !ok {
		t.Fatalf("raw should be an object, got %T", got.Raw)
	}
	if raw["action"] != "Entry" {
		t.Errorf("action should have Accepted stripped, got %v", raw["action"])
	}
}

func TestNormalizeJSONObjectExit(t *testing.T) {
	got := Normalize(`{"ticker":"ETHUSD","side":"short","exit":true}`)

	if got.Symbol == nil || *got.Symbol != "ETHUSD" {
		t.Fatalf("symbol mismatch: %v", got.Symbol)
	}
	if got.StopPrice != nil {
		t.Errorf("stop price should be null, got %v", *got.StopPrice)
	}
	if got.Intent != domain.IntentExit {
		t.Errorf("expected EXIT, got %q", got.Intent)
	}
	if got.Side != domain.SideSell {
		t.Errorf("expected SELL, got %q", got.Side)
	}
}

func TestNormalizeDecodedObject(t *testing.T) {
	body := map[string]any{"sym": "NIFTY", "action": "long entry", "stop_price": 101.5}
	got := Normalize(body)

	if got.Symbol == nil || *got.Symbol != "NIFTY" {
		t.Fatalf("symbol mismatch: %v", got.Symbol)
	}
	if got.StopPrice == nil || *got.StopPrice != 101.5 {
		t.Fatalf("stop price mismatch: %v", got.StopPrice)
	}
	if got.Side != domain.SideBuy || got.Intent != domain.IntentEntry {
		t.Errorf("expected BUY/ENTRY, got %q/%q", got.Side, got.Intent)
	}
}

func TestNormalizeJSONEncodedString(t *testing.T) {
	got := Normalize(`"Accepted Exit + ticker=SOLUSD"`)

	if got.Symbol == nil || *got.Symbol != "SOLUSD" {
		t.Fatalf("symbol mismatch: %v", got.Symbol)
	}
	if got.Intent != domain.IntentExit || got.Side != domain.SideSell {
		t.Errorf("expected EXIT/SELL, got %q/%q", got.Intent, got.Side)
	}
}

func TestNormalizeFormValues(t *testing.T) {
	form := url.Values{}
	form.Set("symbol", "BTCUSD")
	form.Set("signal", "SELL")
	form.Set("stopPx", "abc")

	got := Normalize(form)
	if got.Side != domain.SideSell {
		t.Errorf("expected SELL, got %q", got.Side)
	}
	if got.StopPrice != nil {
		t.Errorf("unparseable stop price should be null, got %v", *got.StopPrice)
	}
	if got.Intent != domain.IntentUnknown {
		t.Errorf("expected unknown intent, got %q", got.Intent)
	}
}

func TestNormalizeGarbageNeverFails(t *testing.T) {
	cases := []any{"", "   ", "hello world", "123", "[1,2]", nil, []byte("{broken")}
	for _, body := range cases {
		got := Normalize(body)
		if got.Intent != domain.IntentUnknown || got.Side != domain.SideUnknown {
			t.Errorf("body %v: expected unknown intent/side, got %q/%q", body, got.Intent, got.Side)
		}
		if got.StopPrice != nil {
			t.Errorf("body %v: expected null stop price", body)
		}
		if got.Raw == nil {
			t.Errorf("body %v: raw payload should be preserved", body)
		}
	}
}

func TestNormalizeAmbiguousSide(t *testing.T) {
	got := Normalize(`{"symbol":"BTCUSD","entry":true,"exit":true}`)
	// entry 优先
	if got.Intent != domain.IntentEntry || got.Side != domain.SideBuy {
		t.Errorf("expected ENTRY/BUY, got %q/%q", got.Intent, got.Side)
	}

	got = Normalize(`{"symbol":"BTCUSD","type":"alert"}`)
	if got.Side != domain.SideUnknown || got.Intent != domain.IntentUnknown {
		t.Errorf("expected unknown side and intent, got %q/%q", got.Side, got.Intent)
	}
}

func TestNormalizeStringFlags(t *testing.T) {
	got := Normalize("symbol=BTCUSD,isExit=TRUE")
	if got.Intent != domain.IntentExit {
		t.Errorf("expected EXIT from string flag, got %q", got.Intent)
	}
}

func TestParseKV(t *testing.T) {
	got := ParseKV("Accepted Entry + symbol=BTCUSD | stoppx = 50000\nnote\nqty=1")
	want := map[string]any{"action": "Entry", "symbol": "BTCUSD", "stoppx": "50000", "qty": "1"}
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("key %s: expected %v, got %v", k, v, got[k])
		}
	}

	noPlus := ParseKV("symbol=ETHUSD|side=buy")
	if noPlus["symbol"] != "ETHUSD" || noPlus["side"] != "buy" {
		t.Errorf("unexpected kv without prefix: %v", noPlus)
	}
}

func TestTradeIntentJSONNulls(t *testing.T) {
	b, err := json.Marshal(Normalize("nothing useful"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, k := range []string{"symbol", "stopPrice", "intent", "side"} {
		if v, ok := decoded[k]; !ok || v != nil {
			t.Errorf("%s should be null, got %v", k, v)
		}
	}
}
