package indicator

import (
	"fmt"
	"math"
	"strings"
	"sync"

	talib "github.com/markcheno/go-talib"

	"neat-trader/internal/exchange"
)

// Set 为一次计算得到的各通道序列，每条序列与输入K线等长，预热期为 NaN。
type Set struct {
	Channels []Channel
	Values   [][]float64
}

// Len 返回序列长度。
func (s Set) Len() int {
	if len(s.Values) == 0 {
		return 0
	}
	return len(s.Values[0])
}

type cacheEntry struct {
	key string
	set Set
}

// Calculator 计算指标通道并缓存最近一次结果。
type Calculator struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCalculator 创建 Calculator。
func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[string]cacheEntry),
	}
}

// Compute 依据给定K线计算指定通道。返回值在调用方之间共享，不应修改。
func (c *Calculator) Compute(channels []Channel, candles []exchange.Candle) (Set, error) {
	if len(candles) == 0 {
		return Set{}, fmt.Errorf("indicator: 计算指标失败: 输入K线为空")
	}
	if len(channels) == 0 {
		return Set{}, fmt.Errorf("indicator: 计算指标失败: 未指定通道")
	}

	series := NewSeries(candles)
	group := channelKey(channels)
	cacheKey := fmt.Sprintf("%s:%d:%d", group, series.Len(), series.LastTimestamp().UnixMilli())

	c.mu.Lock()
	if entry, ok := c.cache[group]; ok && entry.key == cacheKey {
		c.mu.Unlock()
		return entry.set, nil
	}
	c.mu.Unlock()

	set := Set{
		Channels: append([]Channel(nil), channels...),
		Values:   make([][]float64, len(channels)),
	}
	for i, ch := range channels {
		values, err := calculate(ch, series)
		if err != nil {
			return Set{}, err
		}
		set.Values[i] = values
	}

	c.mu.Lock()
	c.cache[group] = cacheEntry{key: cacheKey, set: set}
	c.mu.Unlock()

	return set, nil
}

func channelKey(channels []Channel) string {
	parts := make([]string, len(channels))
	for i, ch := range channels {
		parts[i] = string(ch)
	}
	return strings.Join(parts, ",")
}

func calculate(ch Channel, s Series) ([]float64, error) {
	lookback := Lookback(ch)
	if lookback < 0 {
		return nil, fmt.Errorf("indicator: 未知的指标通道 %q", ch)
	}
	n := s.Len()
	if n <= lookback {
		return nanSeries(n), nil
	}

	var out []float64
	switch ch {
	case ChannelEMA21:
		out = distance(s.Close, talib.Ema(s.Close, ema21Period))
	case ChannelEMA50:
		out = distance(s.Close, talib.Ema(s.Close, ema50Period))
	case ChannelEMA100:
		out = distance(s.Close, talib.Ema(s.Close, ema100Period))
	case ChannelADX:
		out = talib.Adx(s.High, s.Low, s.Close, adxPeriod)
	case ChannelAO:
		median := talib.MedPrice(s.High, s.Low)
		out = zipWith(talib.Sma(median, aoFast), talib.Sma(median, aoSlow), func(fast, slow float64) float64 {
			return fast - slow
		})
	case ChannelCCI:
		out = talib.Cci(s.High, s.Low, s.Close, cciPeriod)
	case ChannelMFI:
		out = talib.Mfi(s.High, s.Low, s.Close, s.Volume, mfiPeriod)
	case ChannelROC:
		out = talib.Roc(s.Close, rocPeriod)
	case ChannelRSI:
		out = talib.Rsi(s.Close, rsiPeriod)
	case ChannelWilliamsR:
		out = talib.WillR(s.High, s.Low, s.Close, williamsPeriod)
	case ChannelKijun:
		base := zipWith(talib.Max(s.High, kijunPeriod), talib.Min(s.Low, kijunPeriod), func(high, low float64) float64 {
			return (high + low) / 2
		})
		out = distance(s.Close, base)
	case ChannelVolOsc:
		out = zipWith(talib.Sma(s.Volume, volOscShort), talib.Sma(s.Volume, volOscLong), func(short, long float64) float64 {
			return SafeDivide(short-long, long) * 100
		})
	case ChannelVolume:
		out = append([]float64(nil), s.Volume...)
	case ChannelPriceChange:
		out = zipWith(s.Close, s.Open, func(c, o float64) float64 {
			return SafeDivide(c-o, o)
		})
	}

	// talib 在预热期填 0，这里统一替换为 NaN
	for i := 0; i < lookback && i < len(out); i++ {
		out[i] = math.NaN()
	}
	return out, nil
}

// distance 返回 (price-ref)/ref。
func distance(price, ref []float64) []float64 {
	return zipWith(price, ref, func(p, r float64) float64 {
		return SafeDivide(p-r, r)
	})
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
