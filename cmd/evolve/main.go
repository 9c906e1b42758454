package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"neat-trader/internal/app"
	"neat-trader/internal/backtest"
	"neat-trader/internal/config"
	"neat-trader/internal/decision"
	"neat-trader/internal/evo"
	"neat-trader/internal/exchange"
	"neat-trader/internal/genome"
	"neat-trader/internal/log"
	"neat-trader/internal/risk"
	"neat-trader/internal/store"
)

func main() {
	var (
		configPath string
		runID      string
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&runID, "run", "", "进化批次标识，默认随机生成")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging, "evolve")
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	if runID == "" {
		runID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sqliteStore, runID, logger); err != nil {
		logger.Error("进化运行失败", zap.String("run_id", runID), zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, st *store.Store, runID string, logger *zap.Logger) error {
	symbol := cfg.Exchange.Market
	client, err := exchange.NewClient(cfg.Exchange, symbol, logger)
	if err != nil {
		return fmt.Errorf("初始化行情客户端失败: %w", err)
	}

	timeframe, err := exchange.ParseTimeframe(cfg.Strategy.Interval)
	if err != nil {
		return err
	}

	candles, err := client.FetchHistory(ctx, cfg.Strategy.Interval, cfg.Evolution.Since, cfg.Evolution.Candles)
	if err != nil {
		return fmt.Errorf("拉取历史K线失败: %w", err)
	}

	rules := risk.Rules{QuantityPrecision: 3, MinNotional: exchange.DefaultMinNotional}
	if market, err := client.MarketRules(ctx); err != nil {
		logger.Warn("获取交易规则失败，使用默认规则", zap.Error(err))
	} else {
		rules = risk.RulesFromMarket(market)
	}

	builder, err := app.NewFeatureBuilder(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	lcCfg, err := app.LifecycleConfig(cfg)
	if err != nil {
		return err
	}
	mode, err := risk.ParseMode(cfg.Strategy.SizeMode)
	if err != nil {
		return err
	}

	engine, err := backtest.NewEngine(ctx, backtest.Config{
		Symbol:        symbol,
		InitialEquity: cfg.Evolution.InitialBalance,
		Leverage:      cfg.Strategy.Leverage,
		Fee:           cfg.Evolution.Fee,
		Warmup:        app.Warmup(cfg, builder.Channels()),
		Timeframe:     timeframe,
		SizeMode:      mode,
		Rules:         rules,
		Lifecycle:     lcCfg,
		Trend:         app.TrendFilter(cfg),
	}, candles, builder, logger)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(cfg.Evolution.Seed))
	mutator, err := evo.NewEngine(evo.EngineConfig{
		AddConnectionRate: cfg.Evolution.AddConnectionRate,
		AddNodeRate:       cfg.Evolution.AddNodeRate,
		ToggleRate:        cfg.Evolution.ToggleRate,
		ResetProbability:  evo.DefaultResetProbability,
		StepScale:         evo.DefaultStepScale,
		FeedForwardOnly:   cfg.Evolution.FeedForwardOnly,
	}, genome.NewLineageTable(), rng, logger)
	if err != nil {
		return err
	}

	population := make([]genome.Genome, 0, cfg.Evolution.Population)
	for i := 0; i < cfg.Evolution.Population; i++ {
		g, err := mutator.RandomGenome(engine.Inputs(), decision.OutputCount)
		if err != nil {
			return err
		}
		population = append(population, g)
	}

	repo, err := store.NewGenomeRepository(st)
	if err != nil {
		return err
	}

	bestSoFar := 0.0
	saved := false
	runner := &evo.Generation{
		Engine:        mutator,
		Fitness:       engine.Fitness,
		Workers:       cfg.Evolution.Workers,
		EliteFraction: cfg.Evolution.EliteFraction,
		Logger:        logger,
		OnGeneration: func(ctx context.Context, gen int, best genome.Genome) error {
			if err := repo.Save(ctx, runID, best); err != nil {
				return err
			}
			if saved && best.Fitness <= bestSoFar {
				return nil
			}
			bestSoFar, saved = best.Fitness, true
			return genome.SaveFile(cfg.Evolution.Output, best)
		},
	}

	logger.Info("开始进化",
		zap.String("run_id", runID),
		zap.String("symbol", symbol),
		zap.Int("candles", len(candles)),
		zap.Int("inputs", engine.Inputs()),
		zap.Int("population", cfg.Evolution.Population),
		zap.Int("generations", cfg.Evolution.Generations),
	)

	best, err := runner.Evolve(ctx, population, cfg.Evolution.Generations)
	if err != nil && len(best.Connections) == 0 {
		return err
	}
	if err != nil {
		logger.Warn("进化提前结束，保存已有最优个体", zap.Error(err))
	}

	if err := genome.SaveFile(cfg.Evolution.Output, best); err != nil {
		return fmt.Errorf("保存最优基因组失败: %w", err)
	}

	result, err := engine.Evaluate(context.WithoutCancel(ctx), best)
	if err != nil {
		return err
	}
	logger.Info("进化完成",
		zap.String("run_id", runID),
		zap.String("genome_id", best.ID),
		zap.String("output", cfg.Evolution.Output),
		zap.Float64("fitness", best.Fitness),
		zap.Float64("total_return", result.Metrics.TotalReturn),
		zap.Float64("max_drawdown", result.Metrics.MaxDrawdown),
		zap.Float64("sharpe", result.Metrics.SharpeRatio),
		zap.Int("trades", result.Trades),
	)
	return nil
}
