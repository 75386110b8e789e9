package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "dex"
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

	v.SetDefault("engine.max_concurrent_orders", 64)
	v.SetDefault("engine.order_timeout", "500ms")
	v.SetDefault("engine.broadcast_timeout", "150ms")
	v.SetDefault("engine.confirm_timeout", "250ms")
	v.SetDefault("engine.confirm_poll_interval", "20ms")
	v.SetDefault("engine.drain_timeout", "5s")
	v.SetDefault("engine.intent_queue_size", 256)

	v.SetDefault("risk.max_position_size", 1000)
	v.SetDefault("risk.max_leverage", 3)
	v.SetDefault("risk.max_daily_loss", 0.03)
	v.SetDefault("risk.daily_loss_reset_hour", 0)
	v.SetDefault("risk.enable_daily_stop_loss", true)
	v.SetDefault("risk.known_pairs", []string{"SOL/USDC", "ORCA/USDC", "RAY/USDC"})

	v.SetDefault("routing.staleness_threshold", "300ms")
	v.SetDefault("routing.residual_policy", ResidualPolicyStop)
	v.SetDefault("routing.max_attempts", 3)

	v.SetDefault("submit.retry.max_attempts", 3)
	v.SetDefault("submit.retry.base_delay", "25ms")
	v.SetDefault("submit.retry.max_delay", "100ms")
	v.SetDefault("submit.retry.multiplier", 2.0)
	v.SetDefault("submit.retry.jitter", 0.2)

	v.SetDefault("signer.wallet_address", "")
	v.SetDefault("signer.private_key", "")

	v.SetDefault("feed.url", "")
	v.SetDefault("feed.reconnect_delay", "1s")
	v.SetDefault("feed.read_timeout", "30s")

	v.SetDefault("database.path", "data/dex_engine.db")
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
	v.SetDefault("monitor.port", 8086)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
