package exchange

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultMinNotional 为交易所未返回最小名义价值时使用的默认值（USDT）。
const DefaultMinNotional = 5.0

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MarketRules 为交易对的下单精度与最小限制。
type MarketRules struct {
	Symbol            string
	QuantityPrecision int32
	PricePrecision    int32
	MinNotional       float64
	MinAmount         float64
}

// MarketSnapshot 聚合决策所需的K线与交易规则。
type MarketSnapshot struct {
	Symbol      string
	Candles     []Candle
	Rules       MarketRules
	RetrievedAt time.Time
}

// ParseTimeframe 将 "5m"、"1h"、"1d"、"1w" 等周期转换为时长。
func ParseTimeframe(tf string) (time.Duration, error) {
	tf = strings.TrimSpace(tf)
	if len(tf) < 2 {
		return 0, fmt.Errorf("exchange: 无效的K线周期 %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("exchange: 无效的K线周期 %q", tf)
	}

	var unit time.Duration
	switch tf[len(tf)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("exchange: 无效的K线周期 %q", tf)
	}
	return time.Duration(n) * unit, nil
}
