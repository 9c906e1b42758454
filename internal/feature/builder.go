package feature

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"neat-trader/internal/exchange"
	"neat-trader/internal/indicator"
	"neat-trader/internal/normcache"
	"neat-trader/internal/position"
)

// ErrInsufficientHistory 表示K线窗口为空，无法构建任何输入。
var ErrInsufficientHistory = errors.New("feature: insufficient history")

// 固定在通道之前的输入：是否持仓、未实现盈亏。
const positionInputs = 2

// NoValue 标记预热期内尚无指标值的位置。
var NoValue = math.NaN()

// IsNoValue 判断 v 是否为 NoValue。
func IsNoValue(v float64) bool {
	return math.IsNaN(v)
}

// Vector 为网络输入向量。
type Vector []float64

// Config 为输入向量参数。
type Config struct {
	Channels []indicator.Channel
	Risk     float64
	Leverage int
}

// Builder 将仓位快照与K线转换为定长、归一化的网络输入。
type Builder struct {
	channels []indicator.Channel
	risk     float64
	leverage int
	calc     *indicator.Calculator
	cache    *normcache.Cache
	logger   *zap.Logger
}

// NewBuilder 创建输入构建器。
func NewBuilder(cfg Config, calc *indicator.Calculator, cache *normcache.Cache, logger *zap.Logger) (*Builder, error) {
	if cache == nil {
		return nil, errors.New("feature: 归一化缓存不能为空")
	}
	if len(cfg.Channels) == 0 {
		return nil, errors.New("feature: 至少需要一个指标通道")
	}
	if calc == nil {
		calc = indicator.NewCalculator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	leverage := cfg.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	return &Builder{
		channels: append([]indicator.Channel(nil), cfg.Channels...),
		risk:     cfg.Risk,
		leverage: leverage,
		calc:     calc,
		cache:    cache,
		logger:   logger.Named("feature"),
	}, nil
}

// Size 返回输入向量长度。
func (b *Builder) Size() int {
	return positionInputs + len(b.channels)
}

// Channels 返回通道顺序。
func (b *Builder) Channels() []indicator.Channel {
	return append([]indicator.Channel(nil), b.channels...)
}

// Series 返回每个通道归一化后的序列，长度与 candles 相同，预热期为 NoValue。
func (b *Builder) Series(ctx context.Context, candles []exchange.Candle) ([][]float64, error) {
	if len(candles) == 0 {
		return nil, ErrInsufficientHistory
	}

	set, err := b.calc.Compute(b.channels, candles)
	if err != nil {
		return nil, fmt.Errorf("feature: 计算指标失败: %w", err)
	}

	bounds, err := b.cache.Resolve(ctx, set.Values)
	if err != nil {
		return nil, fmt.Errorf("feature: 获取归一化边界失败: %w", err)
	}

	return lo.Map(set.Values, func(values []float64, i int) []float64 {
		return normalizeSeries(values, bounds[i], len(candles))
	}), nil
}

// Build 构建当前周期的输入向量：[是否持仓, 未实现盈亏, 各通道最新值]。
func (b *Builder) Build(ctx context.Context, snap position.Snapshot, candles []exchange.Candle) (Vector, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	series, err := b.Series(ctx, candles)
	if err != nil {
		return nil, err
	}
	vec := b.BuildAt(snap, series, len(candles)-1)

	b.logger.Debug("输入向量",
		zap.String("pair", snap.Pair),
		zap.Float64s("vector", vec),
	)
	return vec, nil
}

// BuildAt 使用预先计算的序列构建第 idx 根K线的输入向量，回测时避免重复计算指标。
func (b *Builder) BuildAt(snap position.Snapshot, series [][]float64, idx int) Vector {
	vec := make(Vector, 0, b.Size())

	vec = append(vec, lo.Ternary(snap.Holding(), 1.0, 0.0))

	bound := b.risk * snap.AvailableBalance / float64(b.leverage)
	vec = append(vec, Normalize(snap.UnrealizedPnL, -bound, bound, 0, 1))

	for i := range b.channels {
		v := NoValue
		if i < len(series) && idx >= 0 && idx < len(series[i]) {
			v = series[i][idx]
		}
		if IsNoValue(v) || math.IsInf(v, 0) {
			v = 0
		}
		vec = append(vec, v)
	}
	return vec
}

// Normalize 将 v 从 [srcMin,srcMax] 线性映射到 [dstMin,dstMax]。srcMin 与 srcMax 相等时返回 dstMin。
func Normalize(v, srcMin, srcMax, dstMin, dstMax float64) float64 {
	if srcMax == srcMin {
		return dstMin
	}
	return dstMin + (v-srcMin)*(dstMax-dstMin)/(srcMax-srcMin)
}

func normalizeSeries(values []float64, bounds normcache.Bounds, length int) []float64 {
	out := make([]float64, length)
	pad := length - len(values)
	for i := range out {
		j := i - pad
		if j < 0 || IsNoValue(values[j]) {
			out[i] = NoValue
			continue
		}
		out[i] = Normalize(values[j], bounds.Min, bounds.Max, 0, 1)
	}
	return out
}
