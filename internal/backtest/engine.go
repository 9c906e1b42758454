package backtest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"neat-trader/internal/exchange"
	"neat-trader/internal/feature"
	"neat-trader/internal/genome"
	"neat-trader/internal/lifecycle"
	"neat-trader/internal/nn"
	"neat-trader/internal/risk"
	"neat-trader/internal/trend"
)

// Result 汇总回测结果。
type Result struct {
	Metrics     Metrics
	EquityCurve []float64
	Trades      int
	FinalEquity float64
}

// Engine 用历史K线回放基因组：输入构建、网络推理、决策与仓位生命周期与实盘一致。
// 指标序列与趋势方向在创建时计算一次，Evaluate 可并发调用。
type Engine struct {
	cfg     Config
	candles []exchange.Candle
	series  [][]float64
	trend   []trend.Direction
	builder *feature.Builder
	logger  *zap.Logger
}

// NewEngine 构建回测引擎并预先计算全部指标序列。
func NewEngine(ctx context.Context, cfg Config, candles []exchange.Candle, builder *feature.Builder, logger *zap.Logger) (*Engine, error) {
	if builder == nil {
		return nil, errors.New("backtest: feature builder 不能为空")
	}
	if cfg.Symbol == "" {
		return nil, errors.New("backtest: symbol 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = cfg.normalize()
	if len(candles) <= cfg.Warmup {
		return nil, fmt.Errorf("backtest: K线数量 %d 不足预热长度 %d", len(candles), cfg.Warmup)
	}

	series, err := builder.Series(ctx, candles)
	if err != nil {
		return nil, err
	}

	directions := make([]trend.Direction, len(candles))
	if cfg.Trend != nil {
		for i := cfg.Warmup; i < len(candles); i++ {
			directions[i] = cfg.Trend.Direction(candles[:i+1])
		}
	}

	logger.Named("backtest").Info("回测数据已就绪",
		zap.String("symbol", cfg.Symbol),
		zap.Int("candles", len(candles)),
		zap.Int("warmup", cfg.Warmup),
		zap.Int("inputs", builder.Size()),
	)

	return &Engine{
		cfg:     cfg,
		candles: candles,
		series:  series,
		trend:   directions,
		builder: builder,
		logger:  logger.Named("backtest"),
	}, nil
}

// Inputs 返回网络所需的输入数量。
func (e *Engine) Inputs() int {
	return e.builder.Size()
}

// Evaluate 回放全部K线并返回绩效。
func (e *Engine) Evaluate(ctx context.Context, g genome.Genome) (Result, error) {
	net, err := nn.Compile(g)
	if err != nil {
		return Result{}, err
	}
	if net.InputSize() != e.builder.Size() {
		return Result{}, fmt.Errorf("%w: 基因组输入 %d，回测需要 %d", nn.ErrInputSize, net.InputSize(), e.builder.Size())
	}

	sim := NewSimulator(e.cfg.InitialEquity, e.cfg.Leverage, e.cfg.Fee)
	ctrl, err := lifecycle.NewController(e.cfg.Lifecycle, risk.NewSizer(e.cfg.SizeMode, nil), nil)
	if err != nil {
		return Result{}, err
	}

	for i := e.cfg.Warmup; i < len(e.candles); i++ {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}

		candle := e.candles[i]
		ts := candle.CloseTime
		if ts.IsZero() {
			ts = candle.Timestamp.Add(e.cfg.Timeframe)
		}
		sim.Advance(candle.Close)

		snap := sim.Snapshot(e.cfg.Symbol, ts)
		outputs, err := net.Activate(e.builder.BuildAt(snap, e.series, i))
		if err != nil {
			return Result{}, err
		}

		intent, ok, err := ctrl.Step(lifecycle.Tick{
			Snapshot: snap,
			Outputs:  outputs,
			Price:    candle.Close,
			Time:     ts,
			Trend:    e.trend[i],
			Rules:    e.cfg.Rules,
		})
		if err != nil {
			e.logger.Debug("回测周期跳过", zap.Int("index", i), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if _, err := sim.Execute(intent.Side, intent.Quantity, intent.Price, ts); err != nil {
			e.logger.Debug("模拟成交被拒绝", zap.Int("index", i), zap.Error(err))
		}
	}

	metrics := calculateMetrics(sim.EquityHistory(), sim.ReturnHistory(), e.cfg.Timeframe)
	metrics.Trades = sim.TradeCount()
	metrics.Rejected = sim.Rejected()

	return Result{
		Metrics:     metrics,
		EquityCurve: sim.EquityHistory(),
		Trades:      sim.TradeCount(),
		FinalEquity: sim.Equity(),
	}, nil
}

// Fitness 可直接作为进化的适应度函数。
func (e *Engine) Fitness(ctx context.Context, g genome.Genome) (float64, error) {
	res, err := e.Evaluate(ctx, g)
	if err != nil {
		return 0, err
	}
	return res.Metrics.Fitness(), nil
}
