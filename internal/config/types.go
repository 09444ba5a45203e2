// Package config loads and validates the engine configuration from YAML.
package config

// Config is the root of the YAML configuration file.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Market    MarketConfig    `mapstructure:"market"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Session   SessionConfig   `mapstructure:"session"`
	Advisor   AdvisorConfig   `mapstructure:"advisor"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Store     StoreConfig     `mapstructure:"store"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	HTTPAddr string `mapstructure:"http_addr"`
}

type MonitorConfig struct {
	PollInterval     string `mapstructure:"poll_interval"`
	OrderTimeout     string `mapstructure:"order_timeout"`
	AdvisorMaxCalls  int    `mapstructure:"advisor_max_calls"`
	BreakerThreshold int    `mapstructure:"breaker_threshold"`
	BreakerCooldown  string `mapstructure:"breaker_cooldown"`
}

type ReconcileConfig struct {
	Interval         string `mapstructure:"interval"`
	GhostAge         string `mapstructure:"ghost_age"`
	TradingHoursOnly bool   `mapstructure:"trading_hours_only"`
}

type MarketConfig struct {
	// Name selects the venue backend: "binance" or "paper".
	Name          string `mapstructure:"name"`
	APIKey        string `mapstructure:"api_key"`
	SecretKey     string `mapstructure:"secret_key"`
	KlineInterval string `mapstructure:"kline_interval"`
	KlineLimit    int    `mapstructure:"kline_limit"`
}

type BrokerConfig struct {
	QuantityDecimals int `mapstructure:"quantity_decimals"`
	PriceDecimals    int `mapstructure:"price_decimals"`
}

type SessionConfig struct {
	CalendarPath string `mapstructure:"calendar_path"`
}

type AdvisorConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type NotifyConfig struct {
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`
	RatePerMinute    int    `mapstructure:"rate_per_minute"`
	// ReportCharts attaches a rendered price chart to exit notifications.
	ReportCharts bool `mapstructure:"report_charts"`
}

type StoreConfig struct {
	LedgerPath   string `mapstructure:"ledger_path"`
	EventLogPath string `mapstructure:"eventlog_path"`
}
