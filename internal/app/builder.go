package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vigil/internal/advisor"
	"vigil/internal/config"
	"vigil/internal/eventlog"
	"vigil/internal/gateway/broker"
	"vigil/internal/gateway/marketdata"
	"vigil/internal/gateway/notifier"
	"vigil/internal/ledger"
	"vigil/internal/logger"
	"vigil/internal/monitor"
	"vigil/internal/reconcile"
	"vigil/internal/report"
	"vigil/internal/session"
	httpapi "vigil/internal/transport/http"
)

// AppBuilder assembles the application graph from configuration.
type AppBuilder struct {
	cfg *config.Config
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

// Build wires stores, gateways, the notifier pipeline, the reconciler, the
// supervisor, and the HTTP server. Nothing is started here.
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	ledgerStore, err := openLedger(cfg.Store.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	eventStore, err := openEventLog(cfg.Store.EventLogPath)
	if err != nil {
		ledgerStore.Close()
		return nil, fmt.Errorf("open event log: %w", err)
	}

	calendar := loadCalendar(cfg.Session.CalendarPath)

	market, brokerGw, err := buildGateways(cfg)
	if err != nil {
		ledgerStore.Close()
		eventStore.Close()
		return nil, err
	}

	dispatcher := buildDispatcher(cfg, eventStore)

	var adv monitor.Advisor
	if cfg.Advisor.Enabled {
		adv = advisor.NewConsultant(&advisor.ChatClient{
			BaseURL:    cfg.Advisor.BaseURL,
			APIKey:     cfg.Advisor.APIKey,
			Model:      cfg.Advisor.Model,
			Timeout:    time.Duration(cfg.Advisor.TimeoutSec) * time.Second,
			MaxRetries: cfg.Advisor.MaxRetries,
		})
	}

	var reporter monitor.Reporter
	if cfg.Notify.ReportCharts {
		if src, ok := market.(report.CandleSource); ok {
			reporter = report.NewGenerator(src)
		} else {
			logger.Warnf("report charts enabled but %s market has no candle history, disabling", cfg.Market.Name)
		}
	}

	poll, order, cooldown := cfg.Monitor.Durations()
	supervisor := NewSupervisor(SupervisorConfig{
		PollInterval:     poll,
		OrderTimeout:     order,
		AdvisorMax:       cfg.Monitor.AdvisorMaxCalls,
		BreakerThreshold: cfg.Monitor.BreakerThreshold,
		BreakerCooldown:  cooldown,
	}, MonitorDeps{
		Market:   market,
		Broker:   brokerGw,
		Calendar: calendar,
		Advisor:  adv,
		Ledger:   ledgerStore,
		Events:   dispatcher,
		Reporter: reporter,
	})

	interval, ghostAge := cfg.Reconcile.Durations()
	reconciler := reconcile.New(reconcile.Config{
		Interval:         interval,
		GhostAge:         ghostAge,
		TradingHoursOnly: cfg.Reconcile.TradingHoursOnly,
	}, ledgerStore, brokerGw, dispatcher, calendar)

	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:       cfg.App.HTTPAddr,
		Ledger:     ledgerStore,
		Monitors:   supervisor,
		Reconciler: reconciler,
		Events:     eventStore,
	})
	if err != nil {
		ledgerStore.Close()
		eventStore.Close()
		return nil, fmt.Errorf("build http server: %w", err)
	}

	return &App{
		cfg:        cfg,
		ledger:     ledgerStore,
		events:     eventStore,
		calendar:   calendar,
		dispatcher: dispatcher,
		supervisor: supervisor,
		reconciler: reconciler,
		server:     server,
	}, nil
}

func openLedger(path string) (*ledger.Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return ledger.Open(path)
}

func openEventLog(path string) (*eventlog.Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return eventlog.Open(path)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func loadCalendar(path string) *session.Calendar {
	cal, err := session.Load(path)
	if err != nil {
		logger.Warnf("session calendar %s unavailable, treating market as always open: %v", path, err)
		return session.AlwaysOpen()
	}
	return cal
}

func buildGateways(cfg *config.Config) (monitor.MarketData, monitor.Broker, error) {
	opts := broker.Options{
		QuantityDecimals: cfg.Broker.QuantityDecimals,
		PriceDecimals:    cfg.Broker.PriceDecimals,
	}
	// Quotes and klines always come from the live feed; paper mode only
	// swaps the execution side for the simulator.
	source := marketdata.NewBinanceSource(cfg.Market.APIKey, cfg.Market.SecretKey,
		cfg.Market.KlineInterval, cfg.Market.KlineLimit)
	switch strings.ToLower(cfg.Market.Name) {
	case "binance":
		return source, broker.NewBinanceGateway(cfg.Market.APIKey, cfg.Market.SecretKey, opts), nil
	case "paper":
		return source, broker.NewPaperGateway(opts), nil
	default:
		return nil, nil, fmt.Errorf("unknown market %q", cfg.Market.Name)
	}
}

func buildDispatcher(cfg *config.Config, events *eventlog.Store) *notifier.Dispatcher {
	var sink notifier.TextNotifier = notifier.LogSink{}
	if cfg.Notify.TelegramBotToken != "" && cfg.Notify.TelegramChatID != "" {
		sink = notifier.NewTelegram(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID)
	} else {
		logger.Warnf("telegram not configured, notifications go to the log only")
	}
	return notifier.NewDispatcher(sink, events, cfg.Notify.RatePerMinute)
}
