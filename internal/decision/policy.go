package decision

import (
	"math"

	"neat-trader/internal/position"
	"neat-trader/internal/trend"
)

// 网络输出的下标约定。
const (
	OutputBuy = iota
	OutputSell
	OutputClose
	OutputCount
)

// Action 为单个周期内最多执行的一个动作。
type Action int

const (
	Hold Action = iota
	OpenLong
	OpenShort
	Close
)

func (a Action) String() string {
	switch a {
	case OpenLong:
		return "open_long"
	case OpenShort:
		return "open_short"
	case Close:
		return "close"
	default:
		return "hold"
	}
}

// Config 为决策阈值。
type Config struct {
	// Threshold 为信号的最低置信度，输出必须严格大于该值。
	Threshold float64
	// MinMove 为平仓所需的相对开仓价最小价格变动。
	MinMove float64
}

// DefaultConfig 返回默认阈值。
func DefaultConfig() Config {
	return Config{Threshold: 0.6, MinMove: 0.01}
}

// Context 为决策所需的仓位与行情上下文。
type Context struct {
	Side            position.Side
	TrendEnabled    bool
	Trend           trend.Direction
	Price           float64
	EntryPrice      float64
	DurationExpired bool
}

// Holding 表示是否持仓。
func (c Context) Holding() bool {
	return c.Side == position.SideLong || c.Side == position.SideShort
}

// Eligibility 记录本周期各信号是否成立。
type Eligibility struct {
	Buy          bool
	Sell         bool
	Close        bool
	CanClose     bool
	LongAllowed  bool
	ShortAllowed bool
}

// Evaluate 计算买入、卖出、平仓三个信号及其约束条件。
func Evaluate(outputs []float64, ctx Context, cfg Config) Eligibility {
	var e Eligibility

	e.LongAllowed = !ctx.TrendEnabled || ctx.Trend == trend.Up
	e.ShortAllowed = !ctx.TrendEnabled || ctx.Trend == trend.Down
	e.CanClose = ctx.Holding() && ctx.EntryPrice > 0 &&
		math.Abs(ctx.Price-ctx.EntryPrice) >= ctx.EntryPrice*cfg.MinMove

	if len(outputs) < OutputCount {
		return e
	}

	fires := func(idx int) bool {
		v := outputs[idx]
		if math.IsNaN(v) || v <= cfg.Threshold {
			return false
		}
		for i := 0; i < OutputCount; i++ {
			if i != idx && outputs[i] >= v {
				return false
			}
		}
		return true
	}

	e.Buy = fires(OutputBuy) && ctx.Side != position.SideShort
	e.Sell = fires(OutputSell) && ctx.Side != position.SideLong
	e.Close = fires(OutputClose) && ctx.Holding()
	return e
}

// Decide 将网络输出映射为唯一动作。平仓优先，其次开多，最后开空。
func Decide(outputs []float64, ctx Context, cfg Config) Action {
	if ctx.Holding() {
		if ctx.DurationExpired {
			return Close
		}
		e := Evaluate(outputs, ctx, cfg)
		if e.Close && e.CanClose {
			return Close
		}
		return Hold
	}

	e := Evaluate(outputs, ctx, cfg)
	switch {
	case e.Buy && e.LongAllowed:
		return OpenLong
	case e.Sell && e.ShortAllowed:
		return OpenShort
	default:
		return Hold
	}
}
