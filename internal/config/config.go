package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"streakwatch/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. STREAKWATCH_ETHEREUM_RPC_URL.
const EnvPrefix = "STREAKWATCH"

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Ethereum     EthereumConfig     `mapstructure:"ethereum"`
	Session      SessionConfig      `mapstructure:"session"`
	Trade        TradeConfig        `mapstructure:"trade"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Presentation PresentationConfig `mapstructure:"presentation"`
	Export       ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables persistence.
type DatabaseConfig struct {
	DSN               string        `mapstructure:"dsn"`
	MaxOpenConns      int           `mapstructure:"max_open_conns"`
	MaxIdleConns      int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime   time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime   time.Duration `mapstructure:"conn_max_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ApplicationName   string        `mapstructure:"application_name"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(d.DSN) != ""
}

// EthereumConfig covers on-chain access to the loyalty hook.
type EthereumConfig struct {
	RPCURL            string        `mapstructure:"rpc_url"`
	WSURL             string        `mapstructure:"ws_url"`
	HookAddress       string        `mapstructure:"hook_address"`
	ChainID           int64         `mapstructure:"chain_id"`
	PrivateKey        string        `mapstructure:"private_key"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	LogChunkSize      uint64        `mapstructure:"log_chunk_size"`
	LogPollInterval   time.Duration `mapstructure:"log_poll_interval"`
	StartBlock        uint64        `mapstructure:"start_block"`
}

// SessionConfig governs the live loyalty session.
type SessionConfig struct {
	Account            string        `mapstructure:"account"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	FeedCapacity       int           `mapstructure:"feed_capacity"`
	StreamRetryDelay   time.Duration `mapstructure:"stream_retry_delay"`
	MaxFeeBps          uint32        `mapstructure:"max_fee_bps"`
	DiscountFeeBps     uint32        `mapstructure:"discount_fee_bps"`
	HotStreakThreshold uint64        `mapstructure:"hot_streak_threshold"`
}

// TradeConfig tunes simulated trade submission.
type TradeConfig struct {
	SettleDelay  time.Duration    `mapstructure:"settle_delay"`
	DefaultToken string           `mapstructure:"default_token"`
	Tokens       map[string]int32 `mapstructure:"tokens"`
}

// AlertingConfig defines expiry alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// PresentationConfig selects the dashboard look.
type PresentationConfig struct {
	Theme          string        `mapstructure:"theme"`
	RedrawInterval time.Duration `mapstructure:"redraw_interval"`
	Color          bool          `mapstructure:"color"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Trade.Tokens = upperKeys(cfg.Trade.Tokens)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "streakwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.compress", true)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")
	v.SetDefault("database.health_check_period", "1m")
	v.SetDefault("database.application_name", "streakwatch")

	v.SetDefault("ethereum.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("ethereum.ws_url", "")
	v.SetDefault("ethereum.hook_address", "")
	v.SetDefault("ethereum.chain_id", 0)
	v.SetDefault("ethereum.private_key", "")
	v.SetDefault("ethereum.request_timeout", "10s")
	v.SetDefault("ethereum.confirm_timeout", "2m")
	v.SetDefault("ethereum.requests_per_second", 10.0)
	v.SetDefault("ethereum.log_chunk_size", 5000)
	v.SetDefault("ethereum.log_poll_interval", "4s")
	v.SetDefault("ethereum.start_block", 0)

	v.SetDefault("session.account", "")
	v.SetDefault("session.poll_interval", "15s")
	v.SetDefault("session.feed_capacity", 10)
	v.SetDefault("session.stream_retry_delay", "5s")
	v.SetDefault("session.max_fee_bps", 30)
	v.SetDefault("session.discount_fee_bps", 15)
	v.SetDefault("session.hot_streak_threshold", 3)

	v.SetDefault("trade.settle_delay", "2s")
	v.SetDefault("trade.default_token", "ETH")
	v.SetDefault("trade.tokens", map[string]int32{"ETH": 18, "USDC": 6, "DAI": 18})

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("presentation.theme", "inferno")
	v.SetDefault("presentation.redraw_interval", "1s")
	v.SetDefault("presentation.color", true)

	v.SetDefault("export.max_data_points", 100000)
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

func upperKeys(in map[string]int32) map[string]int32 {
	out := make(map[string]int32, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Session.FeedCapacity <= 0 {
		return fmt.Errorf("session.feed_capacity must be greater than zero")
	}
	if c.Session.PollInterval < 0 {
		return fmt.Errorf("session.poll_interval cannot be negative")
	}
	if c.Session.DiscountFeeBps > c.Session.MaxFeeBps {
		return fmt.Errorf("session.discount_fee_bps cannot exceed session.max_fee_bps")
	}
	if c.Trade.SettleDelay < 0 {
		return fmt.Errorf("trade.settle_delay cannot be negative")
	}
	if len(c.Trade.Tokens) == 0 {
		return fmt.Errorf("trade.tokens must list at least one token")
	}
	for symbol, decimals := range c.Trade.Tokens {
		if decimals < 0 || decimals > 36 {
			return fmt.Errorf("trade.tokens.%s: decimals %d out of range", strings.ToLower(symbol), decimals)
		}
	}
	if _, ok := c.Trade.Tokens[strings.ToUpper(c.Trade.DefaultToken)]; !ok {
		return fmt.Errorf("trade.default_token %q is not listed in trade.tokens", c.Trade.DefaultToken)
	}
	if addr := c.Ethereum.HookAddress; addr != "" && !common.IsHexAddress(addr) {
		return fmt.Errorf("ethereum.hook_address %q is not a hex address", addr)
	}
	if addr := c.Session.Account; addr != "" && !common.IsHexAddress(addr) {
		return fmt.Errorf("session.account %q is not a hex address", addr)
	}
	switch strings.ToLower(c.Presentation.Theme) {
	case "inferno", "classic":
	default:
		return fmt.Errorf("presentation.theme must be inferno or classic, got %q", c.Presentation.Theme)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
