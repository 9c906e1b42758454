package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Exchange      ExchangeConfig      `mapstructure:"exchange"`
	Strategy      StrategyConfig      `mapstructure:"strategy"`
	Brain         BrainConfig         `mapstructure:"brain"`
	Normalization NormalizationConfig `mapstructure:"normalization"`
	Execution     ExecutionConfig     `mapstructure:"execution"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Monitor       MonitorConfig       `mapstructure:"monitor"`
	Evolution     EvolutionConfig     `mapstructure:"evolution"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	// Mode 为 stream（订阅收盘K线）或 poll（定时拉取）。
	Mode         string        `mapstructure:"mode"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	Market     string      `mapstructure:"market"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	MarginMode string      `mapstructure:"margin_mode"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// StrategyConfig 描述决策与仓位生命周期参数。
type StrategyConfig struct {
	Interval         string               `mapstructure:"interval"`
	HistoryLimit     int                  `mapstructure:"history_limit"`
	Risk             float64              `mapstructure:"risk"`
	Leverage         int                  `mapstructure:"leverage"`
	MaxTradeDuration int                  `mapstructure:"max_trade_duration"`
	SizeMode         string               `mapstructure:"size_mode"`
	StopLoss         float64              `mapstructure:"stop_loss"`
	Threshold        float64              `mapstructure:"threshold"`
	MinMove          float64              `mapstructure:"min_move"`
	TradingSession   TradingSessionConfig `mapstructure:"trading_session"`
	TrendFilter      TrendFilterConfig    `mapstructure:"trend_filter"`
	Channels         []string             `mapstructure:"channels"`
}

// TradingSessionConfig 限定允许开仓的时段，Start/End 为空表示不限制。
type TradingSessionConfig struct {
	Start    string `mapstructure:"start"`
	End      string `mapstructure:"end"`
	Location string `mapstructure:"location"`
}

// TrendFilterConfig 控制 EMA 趋势过滤。
type TrendFilterConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Fast    int  `mapstructure:"fast"`
	Slow    int  `mapstructure:"slow"`
}

// BrainConfig 指定实盘使用的基因组文件。
type BrainConfig struct {
	GenomePath string `mapstructure:"genome_path"`
}

// NormalizationConfig 控制归一化边界的持久化位置。
type NormalizationConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// ExecutionConfig 控制下单行为。
type ExecutionConfig struct {
	Simulation     bool          `mapstructure:"simulation"`
	MaxRetry       int           `mapstructure:"max_retry"`
	InitialBalance float64       `mapstructure:"initial_balance"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制监控 HTTP 服务。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// EvolutionConfig 控制离线进化。
type EvolutionConfig struct {
	Population        int       `mapstructure:"population"`
	Generations       int       `mapstructure:"generations"`
	EliteFraction     float64   `mapstructure:"elite_fraction"`
	AddConnectionRate float64   `mapstructure:"add_connection_rate"`
	AddNodeRate       float64   `mapstructure:"add_node_rate"`
	ToggleRate        float64   `mapstructure:"toggle_rate"`
	FeedForwardOnly   bool      `mapstructure:"feed_forward_only"`
	Workers           int       `mapstructure:"workers"`
	Seed              int64     `mapstructure:"seed"`
	Candles           int       `mapstructure:"candles"`
	Since             time.Time `mapstructure:"since"`
	InitialBalance    float64   `mapstructure:"initial_balance"`
	Fee               float64   `mapstructure:"fee"`
	Output            string    `mapstructure:"output"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	switch c.App.Mode {
	case "stream":
	case "poll":
		if c.App.PollInterval <= 0 {
			err = multierr.Append(err, errors.New("app.poll_interval 必须大于0"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("app.mode 必须为 stream 或 poll，当前为 %q", c.App.Mode))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Market == "" {
		err = multierr.Append(err, errors.New("exchange.market 不能为空"))
	}
	if m := strings.ToLower(c.Exchange.MarginMode); m != "" && m != "isolated" && m != "cross" {
		err = multierr.Append(err, errors.New("exchange.margin_mode 必须为 isolated 或 cross"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}

	err = multierr.Append(err, c.Strategy.validate())

	if c.Brain.GenomePath == "" {
		err = multierr.Append(err, errors.New("brain.genome_path 不能为空"))
	}
	switch c.Normalization.Backend {
	case "file":
		if c.Normalization.Path == "" {
			err = multierr.Append(err, errors.New("normalization.path 不能为空"))
		}
	case "sqlite":
	default:
		err = multierr.Append(err, fmt.Errorf("normalization.backend 必须为 file 或 sqlite，当前为 %q", c.Normalization.Backend))
	}
	if c.Execution.MaxRetry <= 0 {
		err = multierr.Append(err, errors.New("execution.max_retry 必须大于0"))
	}
	if c.Execution.Simulation && c.Execution.InitialBalance <= 0 {
		err = multierr.Append(err, errors.New("execution.initial_balance 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	err = multierr.Append(err, c.Evolution.validate())

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func (s StrategyConfig) validate() error {
	var err error

	if s.Interval == "" {
		err = multierr.Append(err, errors.New("strategy.interval 不能为空"))
	}
	if s.HistoryLimit <= 0 {
		err = multierr.Append(err, errors.New("strategy.history_limit 必须大于0"))
	}
	if s.Risk <= 0 || s.Risk > 1 {
		err = multierr.Append(err, errors.New("strategy.risk 必须位于(0,1]"))
	}
	if s.Leverage <= 0 {
		err = multierr.Append(err, errors.New("strategy.leverage 必须大于0"))
	}
	if s.MaxTradeDuration < 0 {
		err = multierr.Append(err, errors.New("strategy.max_trade_duration 不能为负"))
	}
	if s.SizeMode != "percent" && s.SizeMode != "risk" {
		err = multierr.Append(err, fmt.Errorf("strategy.size_mode 必须为 percent 或 risk，当前为 %q", s.SizeMode))
	}
	if s.StopLoss < 0 || s.StopLoss >= 1 {
		err = multierr.Append(err, errors.New("strategy.stop_loss 必须位于[0,1)"))
	}
	if s.Threshold <= 0 || s.Threshold >= 1 {
		err = multierr.Append(err, errors.New("strategy.threshold 必须位于(0,1)"))
	}
	if s.MinMove < 0 {
		err = multierr.Append(err, errors.New("strategy.min_move 不能为负"))
	}
	if (s.TradingSession.Start == "") != (s.TradingSession.End == "") {
		err = multierr.Append(err, errors.New("strategy.trading_session 的 start 与 end 需同时配置"))
	}
	if s.TrendFilter.Enabled {
		if s.TrendFilter.Fast <= 0 || s.TrendFilter.Slow <= 0 {
			err = multierr.Append(err, errors.New("strategy.trend_filter 周期必须大于0"))
		}
		if s.TrendFilter.Fast >= s.TrendFilter.Slow {
			err = multierr.Append(err, errors.New("strategy.trend_filter.fast 必须小于 slow"))
		}
	}
	return err
}

func (e EvolutionConfig) validate() error {
	var err error

	if e.Population <= 1 {
		err = multierr.Append(err, errors.New("evolution.population 必须大于1"))
	}
	if e.Generations <= 0 {
		err = multierr.Append(err, errors.New("evolution.generations 必须大于0"))
	}
	if e.EliteFraction <= 0 || e.EliteFraction > 1 {
		err = multierr.Append(err, errors.New("evolution.elite_fraction 必须位于(0,1]"))
	}
	for name, rate := range map[string]float64{
		"add_connection_rate": e.AddConnectionRate,
		"add_node_rate":       e.AddNodeRate,
		"toggle_rate":         e.ToggleRate,
	} {
		if rate < 0 || rate > 1 {
			err = multierr.Append(err, fmt.Errorf("evolution.%s 必须位于[0,1]", name))
		}
	}
	if e.Workers <= 0 {
		err = multierr.Append(err, errors.New("evolution.workers 必须大于0"))
	}
	if e.Candles <= 0 {
		err = multierr.Append(err, errors.New("evolution.candles 必须大于0"))
	}
	if e.InitialBalance <= 0 {
		err = multierr.Append(err, errors.New("evolution.initial_balance 必须大于0"))
	}
	if e.Fee < 0 || e.Fee >= 1 {
		err = multierr.Append(err, errors.New("evolution.fee 必须位于[0,1)"))
	}
	if e.Output == "" {
		err = multierr.Append(err, errors.New("evolution.output 不能为空"))
	}
	return err
}
