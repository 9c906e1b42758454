package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"neat-trader/internal/config"
	"neat-trader/internal/decision"
	"neat-trader/internal/exchange"
	"neat-trader/internal/execution"
	"neat-trader/internal/feature"
	"neat-trader/internal/genome"
	"neat-trader/internal/lifecycle"
	"neat-trader/internal/monitor"
	"neat-trader/internal/nn"
	"neat-trader/internal/position"
	"neat-trader/internal/risk"
	"neat-trader/internal/store"
	"neat-trader/internal/trend"
)

// 模拟盘使用的吃单手续费率。
const simulatedFee = 0.0004

type marketSource interface {
	GetSnapshot(ctx context.Context, timeframe string, limit int) (exchange.MarketSnapshot, error)
}

type accountSource interface {
	FetchSnapshot(ctx context.Context) (position.Snapshot, error)
}

type orderSubmitter interface {
	Submit(ctx context.Context, intent lifecycle.Intent, done execution.Callback)
	Wait()
}

// marker 由模拟执行器实现，用最新价格标记模拟仓位。
type marker interface {
	Mark(price float64)
}

// orchestrator 串联单个交易对的决策周期：快照、输入、网络、决策、下单。
// 周期在单个 goroutine 中按K线顺序处理。
type orchestrator struct {
	symbol   string
	interval string
	limit    int

	market  marketSource
	account accountSource
	trader  orderSubmitter
	marker  marker

	builder *feature.Builder
	network *nn.Network
	trend   trend.Filter
	ctrl    *lifecycle.Controller
	monitor *monitor.Service
	logger  *zap.Logger

	candles []exchange.Candle
	rules   risk.Rules
	now     func() time.Time

	// lastDecided 为最近一次已决策K线的开盘时间，每根收盘K线只决策一次。
	lastDecided time.Time
}

func (o *orchestrator) Monitor() *monitor.Service {
	return o.monitor
}

// newOrchestrator 按配置装配实盘或模拟盘依赖。
func newOrchestrator(ctx context.Context, cfg *config.Config, st *store.Store, svc *monitor.Service, logger *zap.Logger) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	symbol := cfg.Exchange.Market
	client, err := exchange.NewClient(cfg.Exchange, symbol, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化行情客户端失败 (%s): %w", symbol, err)
	}

	brain, err := genome.LoadFile(cfg.Brain.GenomePath)
	if err != nil {
		return nil, fmt.Errorf("加载基因组失败: %w", err)
	}
	network, err := nn.Compile(brain)
	if err != nil {
		return nil, fmt.Errorf("编译神经网络失败: %w", err)
	}

	builder, err := NewFeatureBuilder(ctx, cfg, st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化输入构建器失败: %w", err)
	}
	if network.InputSize() != builder.Size() {
		return nil, fmt.Errorf("%w: 基因组输入 %d，配置的通道需要 %d", nn.ErrInputSize, network.InputSize(), builder.Size())
	}

	sizer, err := NewSizer(cfg, logger)
	if err != nil {
		return nil, err
	}
	lcCfg, err := LifecycleConfig(cfg)
	if err != nil {
		return nil, err
	}
	ctrl, err := lifecycle.NewController(lcCfg, sizer, logger)
	if err != nil {
		return nil, err
	}

	o := &orchestrator{
		symbol:   symbol,
		interval: cfg.Strategy.Interval,
		limit:    cfg.Strategy.HistoryLimit,
		market:   exchange.NewMarketDataService(client, logger),
		builder:  builder,
		network:  network,
		trend:    TrendFilter(cfg),
		ctrl:     ctrl,
		monitor:  svc,
		logger:   logger.Named("orchestrator"),
		now:      time.Now,
	}

	if cfg.Execution.Simulation {
		logger.Info("执行器处于模拟模式",
			zap.String("symbol", symbol),
			zap.Float64("initial_balance", cfg.Execution.InitialBalance),
		)
		sim := execution.NewSimulated(symbol, cfg.Execution.InitialBalance, cfg.Strategy.Leverage, simulatedFee, logger)
		o.account = sim
		o.trader = sim
		o.marker = sim
	} else {
		client.Prepare(ctx, cfg.Strategy.Leverage, cfg.Exchange.MarginMode)
		o.account = position.NewManager(client.Raw(), symbol, "", logger)
		o.trader = execution.NewExecutor(client.Raw(), execution.Options{
			MaxRetry:   cfg.Execution.MaxRetry,
			RetryDelay: cfg.Exchange.Retry.MinDelay,
			Timeout:    cfg.Execution.Timeout,
		}, logger)
	}

	logger.Info("基因组已加载",
		zap.String("genome_id", brain.ID),
		zap.Int("inputs", network.InputSize()),
		zap.Int("connections", len(brain.Connections)),
	)
	return o, nil
}

// Refresh 重新拉取K线窗口与交易规则，丢弃尚未收盘的最后一根K线。
func (o *orchestrator) Refresh(ctx context.Context) error {
	snapshot, err := o.market.GetSnapshot(ctx, o.interval, o.limit)
	if err != nil {
		o.recordError(ctx, "market", "拉取市场数据失败", err)
		return err
	}

	candles := snapshot.Candles
	now := o.now().UTC()
	if n := len(candles); n > 0 && !candles[n-1].CloseTime.IsZero() && candles[n-1].CloseTime.After(now) {
		candles = candles[:n-1]
	}
	o.candles = append(o.candles[:0], candles...)
	o.rules = risk.RulesFromMarket(snapshot.Rules)
	return nil
}

// OnCandle 将收盘K线并入窗口后执行一个决策周期。
func (o *orchestrator) OnCandle(ctx context.Context, candle exchange.Candle) error {
	if n := len(o.candles); n > 0 {
		last := o.candles[n-1]
		switch {
		case candle.Timestamp.Equal(last.Timestamp):
			o.candles[n-1] = candle
		case candle.Timestamp.Before(last.Timestamp):
			o.logger.Debug("忽略过期K线", zap.Time("timestamp", candle.Timestamp))
			return nil
		default:
			o.candles = append(o.candles, candle)
		}
	} else {
		o.candles = append(o.candles, candle)
	}

	if o.limit > 0 && len(o.candles) > o.limit {
		o.candles = append(o.candles[:0], o.candles[len(o.candles)-o.limit:]...)
	}
	return o.Tick(ctx)
}

// Tick 执行一个决策周期。任何错误都只跳过本周期：记录日志与监控事件后返回。
func (o *orchestrator) Tick(ctx context.Context) error {
	start := o.now()
	if m := o.monitor.Metrics(); m != nil {
		defer m.ObserveLatency(start)
	}

	if len(o.candles) == 0 {
		err := feature.ErrInsufficientHistory
		o.recordError(ctx, "market", "K线窗口为空", err)
		return err
	}
	last := o.candles[len(o.candles)-1]
	price := last.Close

	if !o.lastDecided.IsZero() && !last.Timestamp.After(o.lastDecided) {
		o.logger.Debug("K线未更新，跳过本周期",
			zap.Time("candle", last.Timestamp),
			zap.Time("last_decided", o.lastDecided),
		)
		return nil
	}

	if o.marker != nil {
		o.marker.Mark(price)
	}

	snap, err := o.account.FetchSnapshot(ctx)
	if err != nil {
		o.recordError(ctx, "position", "获取账户仓位失败", err)
		return err
	}

	inputs, err := o.builder.Build(ctx, snap, o.candles)
	if err != nil {
		o.recordError(ctx, "features", "构建网络输入失败", err)
		return err
	}

	outputs, err := o.network.Activate(inputs)
	if err != nil {
		o.recordError(ctx, "network", "神经网络推理失败", err)
		return err
	}

	o.lastDecided = last.Timestamp

	direction := trend.Neutral
	if o.trend != nil {
		direction = o.trend.Direction(o.candles)
	}

	decidedAt := last.CloseTime
	if decidedAt.IsZero() {
		decidedAt = start
	}

	intent, ok, err := o.ctrl.Step(lifecycle.Tick{
		Snapshot: snap,
		Outputs:  outputs,
		Price:    price,
		Time:     decidedAt.UTC(),
		Trend:    direction,
		Rules:    o.rules,
	})
	if err != nil {
		o.recordError(ctx, "lifecycle", "仓位生命周期处理失败", err)
		return err
	}

	action := decision.Hold.String()
	if ok {
		action = string(intent.Reason)
	}
	o.monitor.RecordTick(ctx, monitor.TickPayload{
		Price:    price,
		Position: snap,
		Inputs:   inputs,
		Outputs:  outputs,
		Action:   action,
		Trend:    int(direction),
	})
	if m := o.monitor.Metrics(); m != nil {
		m.DurationRemaining.Set(float64(o.ctrl.Counter().Value()))
	}

	o.logger.Info("决策周期完成",
		zap.String("symbol", o.symbol),
		zap.Time("candle", last.Timestamp),
		zap.Float64("price", price),
		zap.String("side", string(snap.Side())),
		zap.Float64s("outputs", outputs),
		zap.String("action", action),
	)

	if !ok {
		return nil
	}

	o.monitor.RecordIntent(ctx, intent)
	o.trader.Submit(ctx, intent, func(res execution.Result, execErr error) {
		if execErr != nil {
			o.logger.Error("订单执行失败",
				zap.String("reason", string(intent.Reason)),
				zap.Float64("quantity", intent.Quantity),
				zap.Error(execErr),
			)
		}
		o.monitor.RecordExecution(context.Background(), res, execErr)
	})
	return nil
}

// Close 等待在途订单完成。
func (o *orchestrator) Close() {
	o.trader.Wait()
}

func (o *orchestrator) recordError(ctx context.Context, kind, msg string, err error) {
	fields := []zap.Field{zap.String("symbol", o.symbol), zap.String("kind", kind), zap.Error(err)}
	if errors.Is(err, position.ErrMissingPosition) || errors.Is(err, context.Canceled) {
		o.logger.Warn(msg, fields...)
	} else {
		o.logger.Error(msg, fields...)
	}
	o.monitor.RecordError(ctx, kind, msg, err, map[string]interface{}{"symbol": o.symbol})
}
