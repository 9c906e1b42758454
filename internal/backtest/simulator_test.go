package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatorLongRoundTrip(t *testing.T) {
	sim := NewSimulator(1000, 10, 0)
	now := time.Now()

	sim.Advance(100)
	_, err := sim.Execute("buy", 2, 100, now)
	require.NoError(t, err)

	snap := sim.Snapshot("BTC/USDT:USDT", now)
	assert.Equal(t, 2.0, snap.Size)
	assert.Equal(t, 100.0, snap.EntryPrice)
	assert.InDelta(t, 980.0, snap.AvailableBalance, 1e-9)

	sim.Advance(110)
	assert.InDelta(t, 20.0, sim.Snapshot("BTC/USDT:USDT", now).UnrealizedPnL, 1e-9)
	assert.InDelta(t, 1020.0, sim.Equity(), 1e-9)

	fill, err := sim.Execute("sell", 2, 110, now)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, fill.RealizedPnL, 1e-9)
	assert.Equal(t, 0.0, sim.Size())
	assert.InDelta(t, 1020.0, sim.Equity(), 1e-9)
	assert.Equal(t, 2, sim.TradeCount())
}

func TestSimulatorShortWithFee(t *testing.T) {
	sim := NewSimulator(1000, 5, 0.001)
	now := time.Now()

	sim.Advance(200)
	fill, err := sim.Execute("sell", 1, 200, now)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, fill.Fee, 1e-9)
	assert.Equal(t, -1.0, sim.Size())

	sim.Advance(190)
	fill, err = sim.Execute("buy", 1, 190, now)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, fill.RealizedPnL, 1e-9)
	assert.InDelta(t, 1000-0.2-0.19+10, sim.Equity(), 1e-9)
}

func TestSimulatorReversal(t *testing.T) {
	sim := NewSimulator(1000, 10, 0)
	now := time.Now()

	sim.Advance(100)
	_, err := sim.Execute("buy", 1, 100, now)
	require.NoError(t, err)
	_, err = sim.Execute("sell", 3, 105, now)
	require.NoError(t, err)

	snap := sim.Snapshot("X", now)
	assert.Equal(t, -2.0, snap.Size)
	assert.Equal(t, 105.0, snap.EntryPrice)
}

func TestSimulatorRejectsWithoutMargin(t *testing.T) {
	sim := NewSimulator(100, 1, 0)
	sim.Advance(100)

	_, err := sim.Execute("buy", 5, 100, time.Now())
	require.ErrorIs(t, err, ErrInsufficientMargin)
	assert.Equal(t, 1, sim.Rejected())
	assert.Equal(t, 0.0, sim.Size())

	_, err = sim.Execute("hold", 1, 100, time.Now())
	require.Error(t, err)
}

func TestMetrics(t *testing.T) {
	m := calculateMetrics([]float64{100, 120, 90, 110}, []float64{0.2, -0.25, 0.22}, time.Hour)
	assert.InDelta(t, 0.1, m.TotalReturn, 1e-9)
	assert.InDelta(t, 0.25, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, -0.15, m.Fitness(), 1e-9)
	assert.NotZero(t, m.SharpeRatio)

	assert.Equal(t, Metrics{}, calculateMetrics(nil, nil, time.Hour))
}

func TestFitnessPenalizesDrawdownForLosingGenomes(t *testing.T) {
	small := Metrics{TotalReturn: -0.10, MaxDrawdown: 0.10}
	large := Metrics{TotalReturn: -0.50, MaxDrawdown: 0.90}
	wiped := Metrics{TotalReturn: -1, MaxDrawdown: 1}
	flat := Metrics{}
	winner := Metrics{TotalReturn: 0.30, MaxDrawdown: 0.10}

	assert.InDelta(t, -0.20, small.Fitness(), 1e-9)
	assert.Greater(t, small.Fitness(), large.Fitness())
	assert.Greater(t, large.Fitness(), wiped.Fitness())
	assert.Greater(t, flat.Fitness(), small.Fitness())
	assert.Greater(t, winner.Fitness(), flat.Fitness())

	// 相同收益下回撤更大的得分更低。
	calm := Metrics{TotalReturn: -0.2, MaxDrawdown: 0.2}
	choppy := Metrics{TotalReturn: -0.2, MaxDrawdown: 0.6}
	assert.Greater(t, calm.Fitness(), choppy.Fitness())

	assert.Less(t, Metrics{TotalReturn: math.NaN()}.Fitness(), wiped.Fitness())
}
