// Package alert turns heterogeneous trade-alert callbacks into a structured TradeIntent.
//
// Accepted bodies: a decoded object, JSON text, "<prefix> + key=value|key=value" text,
// or plain text. Normalization never fails; unknown fields stay null.
package alert

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"pricerelay/internal/domain"
)

var acceptedPrefix = regexp.MustCompile(`(?i)^Accepted\s+`)

var (
	symbolKeys = []string{"symbol", "ticker", "sym"}
	stopKeys   = []string{"stoppx", "stopPx", "stop_price", "stopPrice"}
	actionKeys = []string{"action", "side", "signal", "order_type", "type"}
)

// Normalize 解析任意请求体并提取交易意图
func Normalize(body any) domain.TradeIntent {
	payload, raw := Decode(body)
	intent := Extract(payload)
	intent.Raw = raw
	return intent
}

// Decode 将请求体转换为 key/value 对象；第二个返回值是用于审计的原始载荷
func Decode(body any) (map[string]any, any) {
	switch v := body.(type) {
	case nil:
		return map[string]any{}, map[string]any{}
	case map[string]any:
		return v, v
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out, out
	case url.Values:
		out := make(map[string]any, len(v))
		for k := range v {
			out[k] = v.Get(k)
		}
		return out, out
	case []byte:
		return decodeText(string(v), true)
	case string:
		return decodeText(v, true)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return map[string]any{}, v
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil || m == nil {
			return map[string]any{}, v
		}
		return m, m
	}
}

func decodeText(text string, nested bool) (map[string]any, any) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return map[string]any{}, map[string]any{}
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		switch d := decoded.(type) {
		case map[string]any:
			return d, d
		case string:
			// JSON 编码的字符串只展开一层
			if nested {
				return decodeText(d, false)
			}
		}
		return map[string]any{}, decoded
	}

	kv := ParseKV(trimmed)
	return kv, kv
}

// ParseKV parses "<prefix> + k=v|k=v" text. The prefix becomes the "action" field with a
// leading "Accepted" word removed; the remainder (or the whole text when there is no "+")
// is split on '|', ',' and newlines, and tokens without '=' are ignored.
func ParseKV(text string) map[string]any {
	out := map[string]any{}
	trimmed := strings.TrimSpace(text)

	prefix, rest, found := strings.Cut(trimmed, "+")
	prefix = strings.TrimSpace(prefix)
	rest = strings.TrimSpace(rest)
	if prefix != "" {
		out["action"] = strings.TrimSpace(acceptedPrefix.ReplaceAllString(prefix, ""))
	}

	source := rest
	if !found || rest == "" {
		source = trimmed
	}

	tokens := strings.FieldsFunc(source, func(r rune) bool {
		return r == '|' || r == ',' || r == '\n'
	})
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

// Extract 从对象中推导 symbol / stopPrice / side / intent
func Extract(payload map[string]any) domain.TradeIntent {
	var out domain.TradeIntent

	if v, ok := firstPresent(payload, symbolKeys...); ok {
		s := stringify(v)
		out.Symbol = &s
	}
	if v, ok := firstPresent(payload, stopKeys...); ok {
		if f, ok := toFloat(v); ok {
			out.StopPrice = &f
		}
	}

	action := ""
	if v, ok := firstPresent(payload, actionKeys...); ok {
		action = strings.ToUpper(strings.TrimSpace(stringify(v)))
	}

	isEntry := strings.Contains(action, "ENTRY") || flagged(payload, "entry", "isEntry")
	isExit := strings.Contains(action, "EXIT") || flagged(payload, "exit", "isExit")

	switch {
	case strings.Contains(action, "BUY") || strings.Contains(action, "LONG"):
		out.Side = domain.SideBuy
	case strings.Contains(action, "SELL") || strings.Contains(action, "SHORT"):
		out.Side = domain.SideSell
	}

	// side 未给出时按意图推断：开仓默认 BUY，平仓默认 SELL
	if out.Side == domain.SideUnknown {
		switch {
		case isEntry:
			out.Side = domain.SideBuy
		case isExit:
			out.Side = domain.SideSell
		}
	}

	switch {
	case isEntry:
		out.Intent = domain.IntentEntry
	case isExit:
		out.Intent = domain.IntentExit
	}
	return out
}

// firstPresent returns the first value that is set and not empty, zero or false.
func firstPresent(payload map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		v, ok := payload[k]
		if ok && present(v) {
			return v, true
		}
	}
	return nil, false
}

func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case json.Number:
		return x != "" && x != "0"
	}
	return true
}

func flagged(payload map[string]any, keys ...string) bool {
	for _, k := range keys {
		if b, ok := payload[k].(bool); ok && b {
			return true
		}
	}
	v, ok := firstPresent(payload, keys...)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(stringify(v)), "true")
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	}
	return fmt.Sprint(v)
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
