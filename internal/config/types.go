package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了执行引擎运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	Submit   SubmitConfig   `mapstructure:"submit"`
	Signer   SignerConfig   `mapstructure:"signer"`
	Venues   []VenueConfig  `mapstructure:"venues"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// EngineConfig 控制订单执行的并发与时限预算。
type EngineConfig struct {
	MaxConcurrentOrders int           `mapstructure:"max_concurrent_orders"`
	OrderTimeout        time.Duration `mapstructure:"order_timeout"`
	BroadcastTimeout    time.Duration `mapstructure:"broadcast_timeout"`
	ConfirmTimeout      time.Duration `mapstructure:"confirm_timeout"`
	ConfirmPollInterval time.Duration `mapstructure:"confirm_poll_interval"`
	DrainTimeout        time.Duration `mapstructure:"drain_timeout"`
	IntentQueueSize     int           `mapstructure:"intent_queue_size"`
}

// RiskConfig 管理准入风控参数。
type RiskConfig struct {
	MaxPositionSize     float64  `mapstructure:"max_position_size"`
	MaxLeverage         float64  `mapstructure:"max_leverage"`
	MaxDailyLoss        float64  `mapstructure:"max_daily_loss"`
	DailyLossResetHour  int      `mapstructure:"daily_loss_reset_hour"`
	EnableDailyStopLoss bool     `mapstructure:"enable_daily_stop_loss"`
	KnownPairs          []string `mapstructure:"known_pairs"`
}

// RoutingConfig 控制路由筛选行为。
type RoutingConfig struct {
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	ResidualPolicy     string        `mapstructure:"residual_policy"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
}

// SubmitConfig 控制提交阶段的重试机制。
type SubmitConfig struct {
	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      float64       `mapstructure:"jitter"`
}

// SignerConfig 描述交易签名所需的凭证。
type SignerConfig struct {
	WalletAddress string `mapstructure:"wallet_address"`
	PrivateKey    string `mapstructure:"private_key"`
}

// VenueConfig 描述单个 DEX 接入点。
type VenueConfig struct {
	Name      string        `mapstructure:"name"`
	BaseURL   string        `mapstructure:"base_url"`
	Priority  int           `mapstructure:"priority"`
	FeeBps    float64       `mapstructure:"fee_bps"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Simulated bool          `mapstructure:"simulated"`
}

// FeedConfig 描述行情推送源。
type FeedConfig struct {
	URL            string        `mapstructure:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
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

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// 部分成交后的残量处理策略。
const (
	ResidualPolicyStop    = "stop"
	ResidualPolicyReroute = "reroute"
)

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	if c.Engine.MaxConcurrentOrders <= 0 {
		err = multierr.Append(err, errors.New("engine.max_concurrent_orders 必须大于0"))
	}
	if c.Engine.OrderTimeout <= 0 {
		err = multierr.Append(err, errors.New("engine.order_timeout 必须大于0"))
	}
	if c.Engine.BroadcastTimeout <= 0 || c.Engine.ConfirmTimeout <= 0 {
		err = multierr.Append(err, errors.New("engine.broadcast_timeout 与 confirm_timeout 必须为正"))
	}
	if c.Engine.ConfirmPollInterval <= 0 {
		err = multierr.Append(err, errors.New("engine.confirm_poll_interval 必须大于0"))
	}
	if c.Engine.ConfirmPollInterval >= c.Engine.ConfirmTimeout {
		err = multierr.Append(err, errors.New("engine.confirm_poll_interval 不应超过 confirm_timeout"))
	}
	if c.Engine.IntentQueueSize <= 0 {
		err = multierr.Append(err, errors.New("engine.intent_queue_size 必须大于0"))
	}

	if c.Risk.MaxPositionSize <= 0 {
		err = multierr.Append(err, errors.New("risk.max_position_size 必须大于0"))
	}
	if c.Risk.MaxLeverage <= 0 {
		err = multierr.Append(err, errors.New("risk.max_leverage 必须大于0"))
	}
	if c.Risk.MaxDailyLoss <= 0 || c.Risk.MaxDailyLoss > 1 {
		err = multierr.Append(err, errors.New("risk.max_daily_loss 必须位于(0,1]"))
	}
	if c.Risk.EnableDailyStopLoss && (c.Risk.DailyLossResetHour < 0 || c.Risk.DailyLossResetHour > 23) {
		err = multierr.Append(err, errors.New("risk.daily_loss_reset_hour 必须位于[0,23]"))
	}
	if len(c.Risk.KnownPairs) == 0 {
		err = multierr.Append(err, errors.New("risk.known_pairs 至少包含一个交易对"))
	}

	if c.Routing.StalenessThreshold <= 0 {
		err = multierr.Append(err, errors.New("routing.staleness_threshold 必须大于0"))
	}
	switch c.Routing.ResidualPolicy {
	case ResidualPolicyStop, ResidualPolicyReroute:
	default:
		err = multierr.Append(err, fmt.Errorf("routing.residual_policy 取值无效: %q", c.Routing.ResidualPolicy))
	}
	if c.Routing.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("routing.max_attempts 必须大于0"))
	}

	if c.Submit.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("submit.retry.max_attempts 必须大于0"))
	}
	if c.Submit.Retry.BaseDelay <= 0 || c.Submit.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("submit.retry.delay 必须为正"))
	}
	if c.Submit.Retry.BaseDelay > c.Submit.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("submit.retry.base_delay 不能大于 max_delay"))
	}
	if c.Submit.Retry.Multiplier < 1 {
		err = multierr.Append(err, errors.New("submit.retry.multiplier 不能小于1"))
	}
	if c.Submit.Retry.Jitter < 0 || c.Submit.Retry.Jitter > 1 {
		err = multierr.Append(err, errors.New("submit.retry.jitter 必须位于[0,1]"))
	}

	if len(c.Venues) == 0 {
		err = multierr.Append(err, errors.New("venues 至少配置一个接入点"))
	}
	seen := make(map[string]bool, len(c.Venues))
	hasLive := false
	for i, v := range c.Venues {
		name := strings.ToLower(strings.TrimSpace(v.Name))
		if name == "" {
			err = multierr.Append(err, fmt.Errorf("venues[%d].name 不能为空", i))
			continue
		}
		if seen[name] {
			err = multierr.Append(err, fmt.Errorf("venues 名称重复: %s", name))
		}
		seen[name] = true
		if !v.Simulated {
			hasLive = true
			if v.BaseURL == "" {
				err = multierr.Append(err, fmt.Errorf("venues[%d].base_url 不能为空", i))
			}
		}
		if v.FeeBps < 0 {
			err = multierr.Append(err, fmt.Errorf("venues[%d].fee_bps 不能为负", i))
		}
		if v.Priority < 0 {
			err = multierr.Append(err, fmt.Errorf("venues[%d].priority 不能为负", i))
		}
	}
	if hasLive && (c.Signer.WalletAddress == "" || c.Signer.PrivateKey == "") {
		err = multierr.Append(err, errors.New("实盘接入需要配置 signer.wallet_address 与 signer.private_key"))
	}

	if c.Feed.URL != "" {
		if c.Feed.ReconnectDelay <= 0 {
			err = multierr.Append(err, errors.New("feed.reconnect_delay 必须大于0"))
		}
		if c.Feed.ReadTimeout <= 0 {
			err = multierr.Append(err, errors.New("feed.read_timeout 必须大于0"))
		}
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

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
