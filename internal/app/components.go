package app

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"neat-trader/internal/config"
	"neat-trader/internal/decision"
	"neat-trader/internal/feature"
	"neat-trader/internal/indicator"
	"neat-trader/internal/lifecycle"
	"neat-trader/internal/normcache"
	"neat-trader/internal/risk"
	"neat-trader/internal/store"
	"neat-trader/internal/trend"
)

// NewFeatureBuilder 按配置创建指标通道、归一化缓存与输入构建器。实盘与进化共用。
func NewFeatureBuilder(ctx context.Context, cfg *config.Config, st *store.Store, logger *zap.Logger) (*feature.Builder, error) {
	channels, err := indicator.ParseChannels(cfg.Strategy.Channels)
	if err != nil {
		return nil, err
	}

	var backend normcache.Backend
	switch cfg.Normalization.Backend {
	case "sqlite":
		if st == nil {
			return nil, fmt.Errorf("app: sqlite 归一化后端需要数据库")
		}
		sqliteBackend, err := normcache.NewSQLiteBackend(st)
		if err != nil {
			return nil, err
		}
		backend = sqliteBackend
	default:
		backend = normcache.NewFileBackend(cfg.Normalization.Path)
	}

	cache, err := normcache.Open(ctx, backend, logger)
	if err != nil {
		return nil, fmt.Errorf("app: 打开归一化缓存失败: %w", err)
	}

	return feature.NewBuilder(feature.Config{
		Channels: channels,
		Risk:     cfg.Strategy.Risk,
		Leverage: cfg.Strategy.Leverage,
	}, indicator.NewCalculator(), cache, logger)
}

// LifecycleConfig 将策略配置转换为仓位生命周期参数。
func LifecycleConfig(cfg *config.Config) (lifecycle.Config, error) {
	session, err := lifecycle.ParseSession(
		cfg.Strategy.TradingSession.Start,
		cfg.Strategy.TradingSession.End,
		cfg.Strategy.TradingSession.Location,
	)
	if err != nil {
		return lifecycle.Config{}, err
	}

	return lifecycle.Config{
		Symbol:           cfg.Exchange.Market,
		MaxTradeDuration: cfg.Strategy.MaxTradeDuration,
		Risk:             cfg.Strategy.Risk,
		StopLoss:         cfg.Strategy.StopLoss,
		TrendEnabled:     cfg.Strategy.TrendFilter.Enabled,
		Policy: decision.Config{
			Threshold: cfg.Strategy.Threshold,
			MinMove:   cfg.Strategy.MinMove,
		},
		Session: session,
	}, nil
}

// NewSizer 按 size_mode 创建仓位计算器。
func NewSizer(cfg *config.Config, logger *zap.Logger) (*risk.Sizer, error) {
	mode, err := risk.ParseMode(cfg.Strategy.SizeMode)
	if err != nil {
		return nil, err
	}
	return risk.NewSizer(mode, logger), nil
}

// TrendFilter 返回配置的趋势过滤器，未启用时为 nil。
func TrendFilter(cfg *config.Config) trend.Filter {
	if !cfg.Strategy.TrendFilter.Enabled {
		return nil
	}
	return trend.NewEMACross(cfg.Strategy.TrendFilter.Fast, cfg.Strategy.TrendFilter.Slow)
}

// Warmup 返回所有指标通道与趋势过滤都产生有效值所需的K线数量。
func Warmup(cfg *config.Config, channels []indicator.Channel) int {
	warmup := lo.Max(lo.Map(channels, func(ch indicator.Channel, _ int) int {
		return indicator.Lookback(ch)
	}))
	if cfg.Strategy.TrendFilter.Enabled && cfg.Strategy.TrendFilter.Slow > warmup {
		warmup = cfg.Strategy.TrendFilter.Slow
	}
	return warmup
}
