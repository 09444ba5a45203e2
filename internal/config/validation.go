package config

import (
	"fmt"
	"strings"
	"time"
)

func validate(c *Config) error {
	if err := c.Monitor.validate(); err != nil {
		return err
	}
	if err := c.Reconcile.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Advisor.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MonitorConfig) validate() error {
	if _, err := time.ParseDuration(m.PollInterval); err != nil {
		return fmt.Errorf("monitor.poll_interval invalid: %w", err)
	}
	if _, err := time.ParseDuration(m.OrderTimeout); err != nil {
		return fmt.Errorf("monitor.order_timeout invalid: %w", err)
	}
	if _, err := time.ParseDuration(m.BreakerCooldown); err != nil {
		return fmt.Errorf("monitor.breaker_cooldown invalid: %w", err)
	}
	return nil
}

func (r *ReconcileConfig) validate() error {
	if _, err := time.ParseDuration(r.Interval); err != nil {
		return fmt.Errorf("reconcile.interval invalid: %w", err)
	}
	if _, err := time.ParseDuration(r.GhostAge); err != nil {
		return fmt.Errorf("reconcile.ghost_age invalid: %w", err)
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch strings.ToLower(m.Name) {
	case "binance", "paper":
	default:
		return fmt.Errorf("market.name must be binance or paper, got %q", m.Name)
	}
	if strings.ToLower(m.Name) == "binance" && (m.APIKey == "" || m.SecretKey == "") {
		return fmt.Errorf("market.api_key and market.secret_key required for binance")
	}
	return nil
}

func (a *AdvisorConfig) validate() error {
	if !a.Enabled {
		return nil
	}
	if strings.TrimSpace(a.Model) == "" {
		return fmt.Errorf("advisor.model required when advisor.enabled")
	}
	return nil
}

// Durations exposes the parsed monitor durations. Validation guarantees
// these parse; errors after that are programmer mistakes.
func (m MonitorConfig) Durations() (poll, order, cooldown time.Duration) {
	poll, _ = time.ParseDuration(m.PollInterval)
	order, _ = time.ParseDuration(m.OrderTimeout)
	cooldown, _ = time.ParseDuration(m.BreakerCooldown)
	return poll, order, cooldown
}

// Durations returns the parsed reconcile cadence and staleness threshold.
func (r ReconcileConfig) Durations() (interval, ghostAge time.Duration) {
	interval, _ = time.ParseDuration(r.Interval)
	ghostAge, _ = time.ParseDuration(r.GhostAge)
	return interval, ghostAge
}
