package backtest

import (
	"math"
	"time"
)

// Metrics 记录回测绩效指标。
type Metrics struct {
	TotalReturn float64
	MaxDrawdown float64
	SharpeRatio float64
	Trades      int
	Rejected    int
}

// Fitness 为进化使用的适应度：总收益减去最大回撤，回撤越大得分越低，亏损时同样成立。
// 收益非法时返回 -2，低于任何合法结果（收益 >= -1，回撤 <= 1）。
func (m Metrics) Fitness() float64 {
	if math.IsNaN(m.TotalReturn) || math.IsInf(m.TotalReturn, 0) {
		return -2
	}
	return m.TotalReturn - m.MaxDrawdown
}

func calculateMetrics(equity []float64, returns []float64, step time.Duration) Metrics {
	if len(equity) == 0 {
		return Metrics{}
	}

	initial := equity[0]
	final := equity[len(equity)-1]
	totalReturn := 0.0
	if initial > 0 {
		totalReturn = final/initial - 1
	}

	return Metrics{
		TotalReturn: totalReturn,
		MaxDrawdown: computeDrawdown(equity),
		SharpeRatio: computeSharpe(returns, step),
	}
}

func computeDrawdown(equity []float64) float64 {
	var peak float64
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (v - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return math.Min(1, math.Abs(maxDD))
}

func computeSharpe(returns []float64, step time.Duration) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	if len(returns) > 1 {
		variance /= float64(len(returns) - 1)
	}

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}

	if step <= 0 {
		step = time.Hour
	}
	annualFactor := math.Sqrt(float64(365*24*time.Hour) / float64(step))
	return (mean / std) * annualFactor
}
