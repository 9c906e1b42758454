package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "neat"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.mode", "stream")
	v.SetDefault("app.poll_interval", "5m")

	v.SetDefault("exchange.name", "binanceusdm")
	v.SetDefault("exchange.market", "BTC/USDT:USDT")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.margin_mode", "isolated")
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("strategy.interval", "5m")
	v.SetDefault("strategy.history_limit", 500)
	v.SetDefault("strategy.risk", 0.01)
	v.SetDefault("strategy.leverage", 20)
	v.SetDefault("strategy.max_trade_duration", 0)
	v.SetDefault("strategy.size_mode", "percent")
	v.SetDefault("strategy.stop_loss", 0.01)
	v.SetDefault("strategy.threshold", 0.6)
	v.SetDefault("strategy.min_move", 0.01)
	v.SetDefault("strategy.trading_session.start", "")
	v.SetDefault("strategy.trading_session.end", "")
	v.SetDefault("strategy.trading_session.location", "UTC")
	v.SetDefault("strategy.trend_filter.enabled", false)
	v.SetDefault("strategy.trend_filter.fast", 50)
	v.SetDefault("strategy.trend_filter.slow", 200)
	v.SetDefault("strategy.channels", []string{})

	v.SetDefault("brain.genome_path", "data/brain.json")

	v.SetDefault("normalization.backend", "file")
	v.SetDefault("normalization.path", "temp/min-max.json")

	v.SetDefault("execution.simulation", true)
	v.SetDefault("execution.max_retry", 3)
	v.SetDefault("execution.initial_balance", 1000)
	v.SetDefault("execution.timeout", "30s")

	v.SetDefault("database.path", "data/neat_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8090)

	v.SetDefault("evolution.population", 50)
	v.SetDefault("evolution.generations", 100)
	v.SetDefault("evolution.elite_fraction", 0.2)
	v.SetDefault("evolution.add_connection_rate", 0.05)
	v.SetDefault("evolution.add_node_rate", 0.03)
	v.SetDefault("evolution.toggle_rate", 0.01)
	v.SetDefault("evolution.feed_forward_only", false)
	v.SetDefault("evolution.workers", 4)
	v.SetDefault("evolution.seed", 1)
	v.SetDefault("evolution.candles", 5000)
	v.SetDefault("evolution.since", "2024-01-01T00:00:00Z")
	v.SetDefault("evolution.initial_balance", 1000)
	v.SetDefault("evolution.fee", 0.0004)
	v.SetDefault("evolution.output", "data/brain.json")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
