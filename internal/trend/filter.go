package trend

import (
	"math"

	cinar "github.com/cinar/indicator"

	"neat-trader/internal/exchange"
)

// Direction 为趋势方向：1 偏多，-1 偏空，0 中性。
type Direction int

const (
	Neutral Direction = 0
	Up      Direction = 1
	Down    Direction = -1
)

const epsilon = 1e-9

// Filter 根据K线窗口给出趋势方向。
type Filter interface {
	Direction(candles []exchange.Candle) Direction
}

// EMACross 以快慢 EMA 的相对位置判断趋势。
type EMACross struct {
	Fast int
	Slow int
}

// NewEMACross 创建 EMA 交叉过滤器。
func NewEMACross(fast, slow int) EMACross {
	return EMACross{Fast: fast, Slow: slow}
}

// Direction 在K线数量不足慢线周期时返回 Neutral。
func (f EMACross) Direction(candles []exchange.Candle) Direction {
	if f.Fast <= 0 || f.Slow <= 0 || len(candles) < f.Slow {
		return Neutral
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fast := cinar.Ema(f.Fast, closes)
	slow := cinar.Ema(f.Slow, closes)
	if len(fast) == 0 || len(slow) == 0 {
		return Neutral
	}

	last, lastSlow := fast[len(fast)-1], slow[len(slow)-1]
	if math.IsNaN(last) || math.IsNaN(lastSlow) {
		return Neutral
	}
	diff := last - lastSlow
	switch {
	case math.Abs(diff) <= epsilon*math.Abs(lastSlow):
		return Neutral
	case diff > 0:
		return Up
	case diff < 0:
		return Down
	default:
		return Neutral
	}
}
