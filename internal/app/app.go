package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"neat-trader/internal/config"
	"neat-trader/internal/exchange"
	"neat-trader/internal/monitor"
	"neat-trader/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 装配决策循环并运行至 ctx 结束。单个周期的错误不会终止循环。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.String("market", a.cfg.Exchange.Market),
		zap.String("mode", a.cfg.App.Mode),
		zap.Bool("simulation", a.cfg.Execution.Simulation),
	)

	metrics := monitor.NewMetrics()
	monitorSvc, err := monitor.NewService(a.store, metrics, a.logger)
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}

	orch, err := newOrchestrator(ctx, a.cfg, a.store, monitorSvc, a.logger)
	if err != nil {
		return err
	}
	defer orch.Close()

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(ctx, monitorSvc, a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	if err := orch.Refresh(ctx); err != nil {
		a.logger.Error("首次拉取K线失败", zap.Error(err))
	}

	switch a.cfg.App.Mode {
	case "poll":
		err = a.poll(ctx, orch)
	default:
		err = a.stream(ctx, orch)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

// poll 按固定间隔刷新K线窗口并执行决策周期。
func (a *App) poll(ctx context.Context, orch *orchestrator) error {
	if err := orch.Tick(ctx); err != nil {
		a.logger.Warn("首次决策周期跳过", zap.Error(err))
	}

	ticker := time.NewTicker(a.cfg.App.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := orch.Refresh(ctx); err != nil {
				continue
			}
			if err := orch.Tick(ctx); err != nil {
				a.logger.Warn("决策周期跳过", zap.Error(err))
			}
		}
	}
}

// stream 订阅收盘K线，按到达顺序逐根处理。
func (a *App) stream(ctx context.Context, orch *orchestrator) error {
	candles := make(chan exchange.Candle, 16)
	ks := exchange.NewKlineStream(a.cfg.Exchange.Market, a.cfg.Strategy.Interval, a.cfg.Exchange.UseSandbox, a.logger)

	streamErr := make(chan error, 1)
	go func() {
		streamErr <- ks.Run(ctx, candles)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-streamErr:
			return err
		case candle := <-candles:
			if err := orch.OnCandle(ctx, candle); err != nil {
				a.logger.Warn("决策周期跳过", zap.Time("candle", candle.Timestamp), zap.Error(err))
			}
		}
	}
}
