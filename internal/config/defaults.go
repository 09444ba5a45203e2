package config

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppLogPath       = "data/logs/vigil.log"
	defaultAppHTTPAddr      = ":9992"
	defaultPollInterval     = "5m"
	defaultOrderTimeout     = "30s"
	defaultAdvisorMaxCalls  = 3
	defaultBreakerThreshold = 3
	defaultBreakerCooldown  = "2m"
	defaultReconcileEvery   = "3m"
	defaultGhostAge         = "30m"
	defaultMarketName       = "binance"
	defaultKlineInterval    = "5m"
	defaultKlineLimit       = 120
	defaultCalendarPath     = "configs/calendar.yaml"
	defaultAdvisorTimeout   = 60
	defaultAdvisorRetries   = 2
	defaultNotifyRate       = 20
	defaultLedgerPath       = "data/db/ledger.db"
	defaultEventLogPath     = "data/db/events.db"
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Monitor.applyDefaults()
	c.Reconcile.applyDefaults()
	c.Market.applyDefaults()
	c.Session.applyDefaults()
	c.Advisor.applyDefaults()
	c.Notify.applyDefaults()
	c.Store.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.LogPath == "" {
		a.LogPath = defaultAppLogPath
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
}

func (m *MonitorConfig) applyDefaults() {
	if m.PollInterval == "" {
		m.PollInterval = defaultPollInterval
	}
	if m.OrderTimeout == "" {
		m.OrderTimeout = defaultOrderTimeout
	}
	if m.AdvisorMaxCalls <= 0 {
		m.AdvisorMaxCalls = defaultAdvisorMaxCalls
	}
	if m.BreakerThreshold <= 0 {
		m.BreakerThreshold = defaultBreakerThreshold
	}
	if m.BreakerCooldown == "" {
		m.BreakerCooldown = defaultBreakerCooldown
	}
}

func (r *ReconcileConfig) applyDefaults() {
	if r.Interval == "" {
		r.Interval = defaultReconcileEvery
	}
	if r.GhostAge == "" {
		r.GhostAge = defaultGhostAge
	}
}

func (m *MarketConfig) applyDefaults() {
	if m.Name == "" {
		m.Name = defaultMarketName
	}
	if m.KlineInterval == "" {
		m.KlineInterval = defaultKlineInterval
	}
	if m.KlineLimit <= 0 {
		m.KlineLimit = defaultKlineLimit
	}
}

func (s *SessionConfig) applyDefaults() {
	if s.CalendarPath == "" {
		s.CalendarPath = defaultCalendarPath
	}
}

func (a *AdvisorConfig) applyDefaults() {
	if a.TimeoutSec <= 0 {
		a.TimeoutSec = defaultAdvisorTimeout
	}
	if a.MaxRetries <= 0 {
		a.MaxRetries = defaultAdvisorRetries
	}
}

func (n *NotifyConfig) applyDefaults() {
	if n.RatePerMinute <= 0 {
		n.RatePerMinute = defaultNotifyRate
	}
}

func (s *StoreConfig) applyDefaults() {
	if s.LedgerPath == "" {
		s.LedgerPath = defaultLedgerPath
	}
	if s.EventLogPath == "" {
		s.EventLogPath = defaultEventLogPath
	}
}
