package feature

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neat-trader/internal/exchange"
	"neat-trader/internal/indicator"
	"neat-trader/internal/normcache"
	"neat-trader/internal/position"
)

func candles(n int, volume func(i int) float64) []exchange.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]exchange.Candle, n)
	for i := range out {
		price := 100 + 5*math.Sin(float64(i)/5)
		out[i] = exchange.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      price - 0.2,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.1,
			Volume:    volume(i),
		}
	}
	return out
}

func linearVolume(i int) float64 { return float64(i) }

func newBuilder(t *testing.T, path string, channels []indicator.Channel) *Builder {
	t.Helper()
	cache, err := normcache.Open(context.Background(), normcache.NewFileBackend(path), nil)
	require.NoError(t, err)
	b, err := NewBuilder(Config{Channels: channels, Risk: 0.01, Leverage: 10}, nil, cache, nil)
	require.NoError(t, err)
	return b
}

func snapshot() position.Snapshot {
	return position.Snapshot{Pair: "BTC/USDT:USDT", AvailableBalance: 1000}
}

func TestBuildConstantLengthDuringWarmup(t *testing.T) {
	ctx := context.Background()
	b := newBuilder(t, filepath.Join(t.TempDir(), "min-max.json"), indicator.AllChannels())

	full := candles(150, linearVolume)
	_, err := b.Series(ctx, full)
	require.NoError(t, err)

	for _, n := range []int{1, 10, 60, 150} {
		vec, err := b.Build(ctx, snapshot(), full[:n])
		require.NoError(t, err)
		assert.Len(t, vec, b.Size(), "candles=%d", n)
		for i, v := range vec {
			assert.False(t, math.IsNaN(v), "candles=%d index=%d", n, i)
		}
	}

	short := full[:10]
	series, err := b.Series(ctx, short)
	require.NoError(t, err)
	for i, ch := range b.Channels() {
		require.Len(t, series[i], len(short), ch)
	}
	emaIdx := 2
	assert.True(t, IsNoValue(series[emaIdx][len(short)-1]), "ema100 仍在预热")
}

func TestBuildPositionInputs(t *testing.T) {
	ctx := context.Background()
	b := newBuilder(t, filepath.Join(t.TempDir(), "min-max.json"), []indicator.Channel{indicator.ChannelVolume})

	snap := position.Snapshot{Pair: "BTC/USDT:USDT", Size: 0.1, EntryPrice: 100, AvailableBalance: 1000, UnrealizedPnL: 0.5}
	vec, err := b.Build(ctx, snap, candles(10, linearVolume))
	require.NoError(t, err)
	require.Len(t, vec, 3)
	assert.Equal(t, 1.0, vec[0])
	assert.InDelta(t, 0.75, vec[1], 1e-12)
	assert.InDelta(t, 1.0, vec[2], 1e-12)

	vec, err = b.Build(ctx, snapshot(), candles(10, linearVolume))
	require.NoError(t, err)
	assert.Equal(t, 0.0, vec[0])
	assert.InDelta(t, 0.5, vec[1], 1e-12)
}

func TestBuildReusesPersistedBounds(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "min-max.json")
	channels := []indicator.Channel{indicator.ChannelVolume}

	first := newBuilder(t, path, channels)
	series, err := first.Series(ctx, candles(10, linearVolume))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, series[0][9], 1e-12)

	second := newBuilder(t, path, channels)
	series, err = second.Series(ctx, candles(19, linearVolume))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, series[0][18], 1e-12, "沿用第一次持久化的 [0,9]")
}

func TestBuildMissingPosition(t *testing.T) {
	b := newBuilder(t, filepath.Join(t.TempDir(), "min-max.json"), []indicator.Channel{indicator.ChannelVolume})

	_, err := b.Build(context.Background(), position.Snapshot{}, candles(5, linearVolume))
	require.ErrorIs(t, err, position.ErrMissingPosition)

	_, err = b.Build(context.Background(), snapshot(), nil)
	require.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, 0.5, Normalize(5, 0, 10, 0, 1))
	assert.Equal(t, 0.0, Normalize(3, 3, 3, 0, 1))
	assert.Equal(t, -1.0, Normalize(0, 0, 10, -1, 1))
}
