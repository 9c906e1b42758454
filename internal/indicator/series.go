package indicator

import (
	"time"

	"github.com/samber/lo"

	"neat-trader/internal/exchange"
)

// Series 为按列展开的K线，时间升序。
type Series struct {
	Timestamps []time.Time
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []float64
}

// NewSeries 将K线按列展开。
func NewSeries(candles []exchange.Candle) Series {
	column := func(pick func(c exchange.Candle) float64) []float64 {
		return lo.Map(candles, func(c exchange.Candle, _ int) float64 { return pick(c) })
	}
	return Series{
		Timestamps: lo.Map(candles, func(c exchange.Candle, _ int) time.Time { return c.Timestamp.UTC() }),
		Open:       column(func(c exchange.Candle) float64 { return c.Open }),
		High:       column(func(c exchange.Candle) float64 { return c.High }),
		Low:        column(func(c exchange.Candle) float64 { return c.Low }),
		Close:      column(func(c exchange.Candle) float64 { return c.Close }),
		Volume:     column(func(c exchange.Candle) float64 { return c.Volume }),
	}
}

func (s Series) Len() int {
	return len(s.Close)
}

// LastTimestamp 返回最后一根K线的开盘时间，空序列返回零值。
func (s Series) LastTimestamp() time.Time {
	if len(s.Timestamps) == 0 {
		return time.Time{}
	}
	return s.Timestamps[len(s.Timestamps)-1]
}

// zipWith 逐点合并两个等长序列。
func zipWith(a, b []float64, fn func(x, y float64) float64) []float64 {
	out := make([]float64, len(a))
	for i := range out {
		out[i] = fn(a[i], b[i])
	}
	return out
}

// SafeDivide 除数为0时返回0。
func SafeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
