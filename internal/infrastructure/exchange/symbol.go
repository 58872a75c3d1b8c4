package exchange

import (
	"strings"
)

// SymbolConverter 在配置中的币种与交易所交易对之间转换
type SymbolConverter interface {
	// Coin2Symbol 例: BTC -> BTCUSDT
	Coin2Symbol(coin string) string
	// Symbol2Coin 例: BTCUSDT -> BTC
	Symbol2Coin(symbol string) string
}

// QuoteConverter 以固定计价币拼接交易对，binance 用 USDT，delta 用 USD
type QuoteConverter struct {
	quote string
}

func NewQuoteConverter(quote string) *QuoteConverter {
	return &QuoteConverter{quote: strings.ToUpper(strings.TrimSpace(quote))}
}

func (c *QuoteConverter) Coin2Symbol(coin string) string {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if coin == "" {
		return ""
	}
	// 已经是完整交易对
	if c.quote != "" && strings.HasSuffix(coin, c.quote) && len(coin) > len(c.quote) {
		return coin
	}
	return coin + c.quote
}

func (c *QuoteConverter) Symbol2Coin(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if c.quote == "" {
		return sym
	}
	if coin, ok := strings.CutSuffix(sym, c.quote); ok && coin != "" {
		return coin
	}
	return sym
}

// Symbols 批量转换，忽略空值
func Symbols(conv SymbolConverter, coins []string) []string {
	out := make([]string, 0, len(coins))
	for _, coin := range coins {
		if s := conv.Coin2Symbol(coin); s != "" {
			out = append(out, s)
		}
	}
	return out
}
