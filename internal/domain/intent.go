package domain

import "encoding/json"

// Intent 交易意图：开仓 / 平仓
type Intent string

const (
	IntentUnknown Intent = ""
	IntentEntry   Intent = "ENTRY"
	IntentExit    Intent = "EXIT"
)

// unknown 序列化为 null
func (i Intent) MarshalJSON() ([]byte, error) {
	if i == IntentUnknown {
		return []byte("null"), nil
	}
	return json.Marshal(string(i))
}

func (i *Intent) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil {
		*i = IntentUnknown
		return nil
	}
	*i = Intent(*s)
	return nil
}

// Side 方向
type Side string

const (
	SideUnknown Side = ""
	SideBuy     Side = "BUY"
	SideSell    Side = "SELL"
)

func (s Side) MarshalJSON() ([]byte, error) {
	if s == SideUnknown {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *Side) UnmarshalJSON(b []byte) error {
	var v *string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		*s = SideUnknown
		return nil
	}
	*s = Side(*v)
	return nil
}

// TradeIntent 从告警回调中提取出的结构化交易意图，允许部分字段为空
type TradeIntent struct {
	Symbol    *string  `json:"symbol"`
	StopPrice *float64 `json:"stopPrice"`
	Intent    Intent   `json:"intent"`
	Side      Side     `json:"side"`
	Raw       any      `json:"raw"`
}

// SymbolOr returns the symbol or fallback when absent.
func (t TradeIntent) SymbolOr(fallback string) string {
	if t.Symbol == nil {
		return fallback
	}
	return *t.Symbol
}
