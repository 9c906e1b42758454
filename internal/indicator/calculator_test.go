package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neat-trader/internal/exchange"
)

func syntheticCandles(n int) []exchange.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]exchange.Candle, n)
	for i := range candles {
		base := 100 + 10*math.Sin(float64(i)/7) + float64(i)*0.05
		candles[i] = exchange.Candle{
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      base - 0.3,
			High:      base + 1,
			Low:       base - 1,
			Close:     base + 0.2,
			Volume:    1000 + float64(i%10)*50,
		}
	}
	return candles
}

func TestComputeAllChannelsWarmup(t *testing.T) {
	candles := syntheticCandles(150)
	calc := NewCalculator()

	set, err := calc.Compute(AllChannels(), candles)
	require.NoError(t, err)
	require.Len(t, set.Values, len(AllChannels()))
	assert.Equal(t, len(candles), set.Len())

	for i, ch := range set.Channels {
		values := set.Values[i]
		require.Len(t, values, len(candles), ch)
		lb := Lookback(ch)
		for j := 0; j < lb; j++ {
			assert.True(t, math.IsNaN(values[j]), "%s[%d] should be warm-up", ch, j)
		}
		for j := lb; j < len(values); j++ {
			assert.False(t, math.IsNaN(values[j]), "%s[%d] should be defined", ch, j)
			assert.False(t, math.IsInf(values[j], 0), "%s[%d] should be finite", ch, j)
		}
	}
}

func TestComputeBoundedOscillators(t *testing.T) {
	candles := syntheticCandles(120)
	set, err := NewCalculator().Compute([]Channel{ChannelRSI, ChannelWilliamsR, ChannelMFI}, candles)
	require.NoError(t, err)

	for _, v := range set.Values[0][Lookback(ChannelRSI):] {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
	for _, v := range set.Values[1][Lookback(ChannelWilliamsR):] {
		assert.GreaterOrEqual(t, v, -100.0)
		assert.LessOrEqual(t, v, 0.0)
	}
	for _, v := range set.Values[2][Lookback(ChannelMFI):] {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestComputeShortHistoryIsAllNaN(t *testing.T) {
	candles := syntheticCandles(10)
	set, err := NewCalculator().Compute([]Channel{ChannelEMA100, ChannelADX, ChannelPriceChange}, candles)
	require.NoError(t, err)

	for _, v := range set.Values[0] {
		assert.True(t, math.IsNaN(v))
	}
	for _, v := range set.Values[1] {
		assert.True(t, math.IsNaN(v))
	}
	for _, v := range set.Values[2] {
		assert.False(t, math.IsNaN(v))
	}
}

func TestComputePriceChange(t *testing.T) {
	candles := syntheticCandles(3)
	set, err := NewCalculator().Compute([]Channel{ChannelPriceChange, ChannelVolume}, candles)
	require.NoError(t, err)

	for i, c := range candles {
		assert.InDelta(t, (c.Close-c.Open)/c.Open, set.Values[0][i], 1e-12)
		assert.Equal(t, c.Volume, set.Values[1][i])
	}
}

func TestComputeUsesCacheForSameInput(t *testing.T) {
	candles := syntheticCandles(60)
	calc := NewCalculator()
	channels := []Channel{ChannelEMA21}

	first, err := calc.Compute(channels, candles)
	require.NoError(t, err)
	second, err := calc.Compute(channels, candles)
	require.NoError(t, err)
	assert.Same(t, &first.Values[0][0], &second.Values[0][0])

	third, err := calc.Compute(channels, candles[:59])
	require.NoError(t, err)
	assert.Equal(t, 59, third.Len())
}

func TestComputeRejectsEmptyInput(t *testing.T) {
	_, err := NewCalculator().Compute(AllChannels(), nil)
	require.Error(t, err)
	_, err = NewCalculator().Compute(nil, syntheticCandles(5))
	require.Error(t, err)
}

func TestParseChannels(t *testing.T) {
	all, err := ParseChannels(nil)
	require.NoError(t, err)
	assert.Equal(t, AllChannels(), all)

	got, err := ParseChannels([]string{"RSI", " ema21 ", "rsi", "volume"})
	require.NoError(t, err)
	assert.Equal(t, []Channel{ChannelEMA21, ChannelRSI, ChannelVolume}, got)

	_, err = ParseChannels([]string{"macd"})
	require.Error(t, err)
}
