package backtest

import (
	"time"

	"neat-trader/internal/lifecycle"
	"neat-trader/internal/risk"
	"neat-trader/internal/trend"
)

// Config 定义回测参数。
type Config struct {
	Symbol        string
	InitialEquity float64
	Leverage      int
	Fee           float64
	// Warmup 为开始交易前跳过的K线数量。
	Warmup    int
	Timeframe time.Duration
	SizeMode  risk.Mode
	Rules     risk.Rules
	Lifecycle lifecycle.Config
	Trend     trend.Filter
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.InitialEquity <= 0 {
		cfg.InitialEquity = 10000
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	if cfg.Warmup < 0 {
		cfg.Warmup = 0
	}
	if cfg.Timeframe <= 0 {
		cfg.Timeframe = time.Hour
	}
	cfg.Lifecycle.Symbol = cfg.Symbol
	cfg.Lifecycle.TrendEnabled = cfg.Trend != nil
	return cfg
}
