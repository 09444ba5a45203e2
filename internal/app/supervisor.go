package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"vigil/internal/gateway/broker"
	"vigil/internal/ledger"
	"vigil/internal/logger"
	"vigil/internal/monitor"
	"vigil/internal/pkg/circuit"
)

// MonitorDeps bundles the collaborators every monitor shares.
type MonitorDeps struct {
	Market   monitor.MarketData
	Broker   monitor.Broker
	Calendar monitor.Calendar
	Advisor  monitor.Advisor
	Ledger   *ledger.Store
	Events   monitor.Publisher
	Reporter monitor.Reporter
}

// SupervisorConfig carries the per-monitor knobs the supervisor stamps out.
type SupervisorConfig struct {
	PollInterval     time.Duration
	OrderTimeout     time.Duration
	AdvisorMax       int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Supervisor owns the set of live monitors. It enforces at most one live
// monitor per symbol, resumes open ledger records on boot, and gives each
// monitor its own market-data breaker so one symbol's faults stay its own.
type Supervisor struct {
	cfg  SupervisorConfig
	deps MonitorDeps

	mu       sync.Mutex
	ctx      context.Context
	monitors map[string]*monitor.Monitor
	wg       sync.WaitGroup
}

func NewSupervisor(cfg SupervisorConfig, deps MonitorDeps) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		deps:     deps,
		monitors: make(map[string]*monitor.Monitor),
	}
}

// Run resumes persisted positions and then blocks until ctx is cancelled and
// every monitor has drained.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.resume(ctx); err != nil {
		return fmt.Errorf("resume open positions: %w", err)
	}

	<-ctx.Done()
	s.wg.Wait()
	return nil
}

// resume restarts a monitor for every open ledger record. Monitors rebuild
// their own view from the broker on the first cycle; the record only seeds
// the entry baseline.
func (s *Supervisor) resume(ctx context.Context) error {
	records, err := s.deps.Ledger.ListOpen(ctx)
	if err != nil {
		return err
	}
	for i := range records {
		rec := records[i]
		if err := s.start(recordToPosition(rec)); err != nil {
			logger.Warnf("[%s] resume skipped: %v", rec.Symbol, err)
			continue
		}
		logger.Infof("[%s] resumed monitoring from ledger (opened %s)",
			rec.Symbol, rec.EntryAt.Format(time.RFC3339))
	}
	return nil
}

// Watch registers a freshly filled entry: it persists the ledger record and
// starts a monitor. The ledger rejects a second open record per symbol, so a
// duplicate watch fails before any goroutine is spawned.
func (s *Supervisor) Watch(ctx context.Context, rec *ledger.PositionRecord) error {
	symbol := strings.ToUpper(strings.TrimSpace(rec.Symbol))
	if symbol == "" {
		return fmt.Errorf("symbol required")
	}
	rec.Symbol = symbol

	s.mu.Lock()
	_, live := s.monitors[symbol]
	s.mu.Unlock()
	if live {
		return fmt.Errorf("%s already monitored", symbol)
	}

	if err := s.deps.Ledger.OpenPosition(ctx, rec); err != nil {
		return err
	}
	return s.start(recordToPosition(*rec))
}

// Snapshots reports the live monitors, for the status API.
func (s *Supervisor) Snapshots() []monitor.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]monitor.Snapshot, 0, len(s.monitors))
	for _, m := range s.monitors {
		snaps = append(snaps, m.Snapshot())
	}
	return snaps
}

func (s *Supervisor) start(pos broker.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return fmt.Errorf("supervisor not running")
	}
	if _, live := s.monitors[pos.Symbol]; live {
		return fmt.Errorf("%s already monitored", pos.Symbol)
	}

	cfg := monitor.Config{
		PollInterval: s.cfg.PollInterval,
		OrderTimeout: s.cfg.OrderTimeout,
		AdvisorMax:   s.cfg.AdvisorMax,
		Breaker: circuit.NewBreaker("marketdata/"+pos.Symbol,
			s.cfg.BreakerThreshold, s.cfg.BreakerCooldown),
	}
	m := monitor.New(cfg, pos, s.deps.Market, s.deps.Broker, s.deps.Calendar,
		s.deps.Advisor, s.deps.Ledger, s.deps.Events, s.deps.Reporter)
	s.monitors[pos.Symbol] = m

	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.monitors, pos.Symbol)
			s.mu.Unlock()
		}()
		res, err := m.Run(ctx)
		if err != nil {
			logger.Errorf("[%s] monitor aborted: %v", pos.Symbol, err)
			return
		}
		logger.Infof("[%s] monitor finished: %s (checks=%d advisor=%d)",
			pos.Symbol, res.ExitReason, res.TotalChecks, res.AdvisorCalls)
	}()
	return nil
}

func recordToPosition(rec ledger.PositionRecord) broker.Position {
	return broker.Position{
		Symbol:       rec.Symbol,
		Side:         rec.Side,
		Quantity:     rec.Quantity,
		EntryPrice:   rec.EntryPrice,
		EntryVolume:  rec.EntryVolume,
		EntryAt:      rec.EntryAt,
		EntryReason:  rec.EntryReason,
		EntryOrderID: rec.EntryOrderID,
		StopPrice:    rec.StopPrice,
		TargetPrice:  rec.TargetPrice,
		CurrentPrice: rec.CurrentPrice,
		PnLPct:       rec.PnLPct,
	}
}
