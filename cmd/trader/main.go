package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"neat-trader/internal/app"
	"neat-trader/internal/config"
	"neat-trader/internal/log"
	"neat-trader/internal/store"
)

func main() {
	var (
		configPath string
		genomePath string
		paper      bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&genomePath, "brain", "", "覆盖 brain.genome_path 指定的基因组文件")
	flag.BoolVar(&paper, "paper", false, "强制使用模拟盘，不向交易所下单")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if genomePath != "" {
		cfg.Brain.GenomePath = genomePath
	}
	if paper {
		cfg.Execution.Simulation = true
		if cfg.Execution.InitialBalance <= 0 {
			cfg.Execution.InitialBalance = 1000
		}
	}

	logger, err := log.NewLogger(cfg.Logging, "trader")
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	if _, err := os.Stat(cfg.Brain.GenomePath); err != nil {
		logger.Error("基因组文件不可用，请先运行 evolve", zap.String("path", cfg.Brain.GenomePath), zap.Error(err))
		os.Exit(1)
	}

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, logger, sqliteStore).Run(ctx); err != nil {
		logger.Error("系统运行异常", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("系统已安全退出")
}
