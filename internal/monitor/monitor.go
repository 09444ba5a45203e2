// Package monitor runs one polling state machine per open position: poll,
// detect, decide, then continue, escalate, or exit. Each monitor is an
// isolated fault domain; nothing it hits may spill into another position.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"vigil/internal/gateway/broker"
	"vigil/internal/gateway/marketdata"
	"vigil/internal/gateway/notifier"
	"vigil/internal/ledger"
	"vigil/internal/logger"
	"vigil/internal/metrics"
	"vigil/internal/pkg/circuit"
	"vigil/internal/signal"
)

// State names the monitor's position in its lifecycle.
type State int

const (
	StateStarting State = iota
	StatePolling
	StateDeciding
	StateExiting
	StateEscalating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateDeciding:
		return "deciding"
	case StateExiting:
		return "exiting"
	case StateEscalating:
		return "escalating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Terminal reasons. Every way out of the loop is one named transition.
const (
	ReasonMarketClosed   = "market closed"
	ReasonClosedExternal = "closed externally"
	ReasonCancelled      = "monitor cancelled"
)

// ExitResult summarizes a finished monitor run.
type ExitResult struct {
	Symbol       string
	ExitPrice    float64
	ExitReason   string
	PnL          float64
	PnLPct       float64
	TotalChecks  int
	AdvisorCalls int
}

// Config carries the per-monitor knobs.
type Config struct {
	PollInterval time.Duration
	OrderTimeout time.Duration
	AdvisorMax   int
	// Breaker guards the market-data fetch; nil disables the guard.
	Breaker *circuit.Breaker
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 30 * time.Second
	}
	if c.AdvisorMax <= 0 {
		c.AdvisorMax = 3
	}
}

// Monitor owns the polling loop for a single position.
type Monitor struct {
	cfg Config

	pos      broker.Position
	market   MarketData
	broker   Broker
	calendar Calendar
	advisor  Advisor
	ledger   Ledger
	events   Publisher
	reporter Reporter

	mu        sync.RWMutex
	state     State
	startedAt time.Time
	budget    *EscalationBudget

	// exitRequested enforces the at-most-one-exit-order invariant. It is
	// set before submission and never cleared: a rejected exit leaves the
	// bracket orders as the backstop, it does not earn a second attempt.
	exitRequested bool

	totalChecks int
	nowFn       func() time.Time
}

func New(cfg Config, pos broker.Position, market MarketData, brk Broker, cal Calendar, adv Advisor, led Ledger, events Publisher, rep Reporter) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:      cfg,
		pos:      pos,
		market:   market,
		broker:   brk,
		calendar: cal,
		advisor:  adv,
		ledger:   led,
		events:   events,
		reporter: rep,
		state:    StateStarting,
		budget:   NewEscalationBudget(cfg.AdvisorMax),
		nowFn:    time.Now,
	}
}

// State reports the current lifecycle state, for the status API.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Position returns the monitor's latest position snapshot.
func (m *Monitor) Position() broker.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pos
}

// Snapshot is the read-only view exposed over the status API.
type Snapshot struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	State         string    `json:"state"`
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	PnLPct        float64   `json:"pnl_pct"`
	TotalChecks   int       `json:"total_checks"`
	AdvisorUsed   int       `json:"advisor_used"`
	AdvisorMax    int       `json:"advisor_max"`
	ExitRequested bool      `json:"exit_requested"`
	StartedAt     time.Time `json:"started_at"`
}

// Snapshot captures the monitor's current view for external readers.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Symbol:        m.pos.Symbol,
		Side:          m.pos.Side,
		State:         m.state.String(),
		EntryPrice:    m.pos.EntryPrice,
		CurrentPrice:  m.pos.CurrentPrice,
		PnLPct:        m.pos.PnLPct,
		TotalChecks:   m.totalChecks,
		AdvisorUsed:   m.budget.Used(),
		AdvisorMax:    m.budget.Max(),
		ExitRequested: m.exitRequested,
		StartedAt:     m.startedAt,
	}
}

// Run drives the state machine until a terminal condition. It never returns
// a non-nil error for market faults; the error is reserved for programmer
// mistakes (nil collaborators).
func (m *Monitor) Run(ctx context.Context) (ExitResult, error) {
	if m.market == nil || m.broker == nil || m.calendar == nil || m.ledger == nil {
		return ExitResult{}, fmt.Errorf("monitor %s: missing collaborator", m.pos.Symbol)
	}
	metrics.OpenMonitors.Inc()
	defer metrics.OpenMonitors.Dec()

	m.notify(ctx, "monitor_started", notifier.PriorityInfo, "monitoring started",
		fmt.Sprintf("%s %s qty=%.6f entry=%.6f", m.pos.Symbol, m.pos.Side, m.pos.Quantity, m.pos.EntryPrice), nil)
	logger.Infof("[%s] monitor started: side=%s entry=%.6f qty=%.6f",
		m.pos.Symbol, m.pos.Side, m.pos.EntryPrice, m.pos.Quantity)
	m.mu.Lock()
	m.startedAt = m.nowFn()
	m.state = StatePolling
	m.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return m.terminate(ctx, ReasonCancelled, 0), nil
		}

		res, done := m.cycle(ctx)
		if done {
			return res, nil
		}

		timer := time.NewTimer(m.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return m.terminate(ctx, ReasonCancelled, 0), nil
		case <-timer.C:
		}
	}
}

// cycle executes one poll. done=true means the run is over and res is final.
func (m *Monitor) cycle(ctx context.Context) (res ExitResult, done bool) {
	m.mu.Lock()
	m.state = StatePolling
	m.totalChecks++
	m.mu.Unlock()
	metrics.MonitorCycles.WithLabelValues(m.pos.Symbol).Inc()
	now := m.nowFn()

	// 1. Session clock.
	sess := m.calendar.Status(now)
	if !sess.Open {
		logger.Infof("[%s] session closed (%s), stopping monitor", m.pos.Symbol, sess.Reason)
		return m.terminate(ctx, ReasonMarketClosed, 0), true
	}

	// 2. The venue is the source of truth for existence.
	live, err := m.broker.OpenPositions(ctx)
	if err != nil {
		logger.Warnf("[%s] position check failed, retrying next cycle: %v", m.pos.Symbol, err)
		metrics.FetchFailures.WithLabelValues("broker").Inc()
		return ExitResult{}, false
	}
	current, found := findPosition(live, m.pos.Symbol)
	if !found {
		m.closeLedger(ctx, ledger.CloseDetail{
			ExitPrice: m.pos.CurrentPrice,
			Reason:    ReasonClosedExternal,
			At:        now,
		})
		m.notify(ctx, "closed_externally", notifier.PriorityWarning, "position closed externally",
			fmt.Sprintf("%s no longer open at broker (bracket or manual close)", m.pos.Symbol), nil)
		return m.terminate(ctx, ReasonClosedExternal, 0), true
	}
	m.mu.Lock()
	m.pos.Quantity = current.Quantity
	m.mu.Unlock()

	// 3. Market snapshot, guarded by the breaker.
	quote, tech, ok := m.fetchMarket(ctx)
	if !ok {
		return ExitResult{}, false
	}

	// 4. Mark to market.
	m.mu.Lock()
	m.pos.CurrentPrice = quote.Price
	m.pos.PnLPct = m.pos.PnLPercent(quote.Price)
	m.mu.Unlock()
	if err := m.ledger.UpdateMark(ctx, m.pos.Symbol, quote.Price, m.pos.PnLPct); err != nil {
		logger.Warnf("[%s] mark update failed: %v", m.pos.Symbol, err)
	}

	// 5. Detect and decide.
	m.setState(StateDeciding)
	set := signal.Detect(m.pos, quote, tech, sess, now)
	for _, sig := range set.Signals {
		metrics.SignalsDetected.WithLabelValues(sig.Category.String(), sig.Strength.String()).Inc()
	}
	dec := signal.Decide(set)
	metrics.Decisions.WithLabelValues(dec.Action.String()).Inc()
	logger.Debugf("[%s] cycle %d: price=%.6f pnl=%.2f%% signals=%d action=%s",
		m.pos.Symbol, m.totalChecks, quote.Price, m.pos.PnLPct*100, len(set.Signals), dec.Action)

	switch dec.Action {
	case signal.ActionExit:
		return m.handleExit(ctx, quote, dec)
	case signal.ActionAskAdvisor:
		return m.handleEscalation(ctx, quote, dec)
	default:
		return ExitResult{}, false
	}
}

func (m *Monitor) fetchMarket(ctx context.Context) (marketdata.Quote, marketdata.Technicals, bool) {
	if m.cfg.Breaker != nil && !m.cfg.Breaker.Allow() {
		logger.Debugf("[%s] market-data breaker open, skipping cycle", m.pos.Symbol)
		return marketdata.Quote{}, marketdata.Technicals{}, false
	}
	quote, err := m.market.Quote(ctx, m.pos.Symbol)
	if err == nil {
		var tech marketdata.Technicals
		tech, err = m.market.Technicals(ctx, m.pos.Symbol)
		if err == nil {
			if m.cfg.Breaker != nil {
				m.cfg.Breaker.RecordSuccess()
			}
			return quote, tech, true
		}
	}
	logger.Warnf("[%s] market fetch failed, retrying next cycle: %v", m.pos.Symbol, err)
	metrics.FetchFailures.WithLabelValues("marketdata").Inc()
	if m.cfg.Breaker != nil {
		m.cfg.Breaker.RecordFailure()
	}
	return marketdata.Quote{}, marketdata.Technicals{}, false
}

// handleExit submits the single close order. A failed submission is logged
// and the position stays monitored: the bracket placed at entry remains the
// backstop.
func (m *Monitor) handleExit(ctx context.Context, quote marketdata.Quote, dec signal.Decision) (ExitResult, bool) {
	if m.exitRequested {
		logger.Warnf("[%s] exit already requested, holding (bracket is the backstop)", m.pos.Symbol)
		return ExitResult{}, false
	}
	m.mu.Lock()
	m.state = StateExiting
	m.exitRequested = true
	m.mu.Unlock()

	reason := strings.Join(dec.Reasons, "; ")
	logger.Infof("[%s] exiting (confidence %.1f): %s", m.pos.Symbol, dec.Confidence, reason)

	// Shutdown must not abort an in-flight close; detach from the loop
	// context but keep a hard timeout.
	orderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.OrderTimeout)
	defer cancel()

	result, err := m.broker.SubmitMarketOrder(orderCtx, m.pos.Symbol, m.pos.CloseSide(), m.pos.Quantity)
	if err == nil && result.Status != broker.StatusFilled {
		result, err = m.awaitFill(orderCtx, result)
	}
	if err != nil {
		metrics.ExitsSubmitted.WithLabelValues("failed").Inc()
		logger.Errorf("[%s] exit order failed, continuing to monitor: %v", m.pos.Symbol, err)
		m.notify(ctx, "exit_failed", notifier.PriorityCritical, "exit order failed",
			fmt.Sprintf("%s close rejected: %v; bracket orders remain in place", m.pos.Symbol, err), nil)
		return ExitResult{}, false
	}
	metrics.ExitsSubmitted.WithLabelValues("filled").Inc()

	fillPrice := result.FillPrice
	if fillPrice <= 0 {
		fillPrice = quote.Price
	}
	rec := m.closeLedger(ctx, ledger.CloseDetail{
		ExitPrice:   fillPrice,
		ExitOrderID: result.OrderID,
		Reason:      reason,
		At:          m.nowFn(),
		Meta:        decisionMeta(dec),
	})

	res := ExitResult{
		Symbol:       m.pos.Symbol,
		ExitPrice:    fillPrice,
		ExitReason:   reason,
		PnLPct:       m.pos.PnLPercent(fillPrice),
		TotalChecks:  m.totalChecks,
		AdvisorCalls: m.budget.Used(),
	}
	if rec != nil {
		res.PnL = rec.RealizedPnL
		res.PnLPct = rec.RealizedPnLPct
	}
	m.notifyExit(ctx, res, rec)
	m.setState(StateTerminated)
	return res, true
}

func (m *Monitor) awaitFill(ctx context.Context, result broker.OrderResult) (broker.OrderResult, error) {
	for !result.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return result, fmt.Errorf("order %s not terminal before timeout (last status %s)", result.OrderID, result.Status)
		case <-time.After(time.Second):
		}
		status, err := m.broker.OrderStatus(ctx, m.pos.Symbol, result.OrderID)
		if err != nil {
			return result, err
		}
		result.Status = status
	}
	if result.Status != broker.StatusFilled {
		return result, fmt.Errorf("order %s ended %s", result.OrderID, result.Status)
	}
	return result, nil
}

// handleEscalation consults the advisor under the budget. Every consult,
// failed or not, costs one unit; a failure or malformed answer is a HOLD.
func (m *Monitor) handleEscalation(ctx context.Context, quote marketdata.Quote, dec signal.Decision) (ExitResult, bool) {
	m.setState(StateEscalating)
	if m.advisor == nil || !m.budget.Consume() {
		if m.budget.MarkExhaustionNotified() {
			logger.Warnf("[%s] advisor budget exhausted (%d/%d), continuing rules-only",
				m.pos.Symbol, m.budget.Used(), m.budget.Max())
			m.notify(ctx, "budget_exhausted", notifier.PriorityWarning, "advisor budget exhausted",
				fmt.Sprintf("%s continuing rules-only after %d consults", m.pos.Symbol, m.budget.Used()), nil)
		}
		return ExitResult{}, false
	}

	rec, err := m.advisor.Consult(ctx, m.pos, quote, dec)
	if err != nil {
		metrics.AdvisorCalls.WithLabelValues("failed").Inc()
		logger.Warnf("[%s] advisor consult failed, holding: %v", m.pos.Symbol, err)
		return ExitResult{}, false
	}
	if !rec.ShouldExit {
		metrics.AdvisorCalls.WithLabelValues("hold").Inc()
		logger.Infof("[%s] advisor says hold: %s", m.pos.Symbol, rec.Reason)
		return ExitResult{}, false
	}
	metrics.AdvisorCalls.WithLabelValues("exit").Inc()
	logger.Infof("[%s] advisor says exit: %s", m.pos.Symbol, rec.Reason)
	exitDec := dec
	exitDec.Action = signal.ActionExit
	exitDec.Reasons = append([]string{"advisor: " + rec.Reason}, dec.Reasons...)
	return m.handleExit(ctx, quote, exitDec)
}

func (m *Monitor) terminate(ctx context.Context, reason string, exitPrice float64) ExitResult {
	m.setState(StateTerminated)
	m.notify(ctx, "monitor_stopped", notifier.PriorityInfo, "monitoring stopped",
		fmt.Sprintf("%s: %s after %d checks", m.pos.Symbol, reason, m.totalChecks), nil)
	logger.Infof("[%s] monitor terminated: %s", m.pos.Symbol, reason)
	return ExitResult{
		Symbol:       m.pos.Symbol,
		ExitPrice:    exitPrice,
		ExitReason:   reason,
		TotalChecks:  m.totalChecks,
		AdvisorCalls: m.budget.Used(),
	}
}

// closeLedger funnels every close through the shared idempotent mark. A
// false return means a concurrent writer (the reconciler) won the race;
// that is fine, the record already reflects a close.
func (m *Monitor) closeLedger(ctx context.Context, detail ledger.CloseDetail) *ledger.PositionRecord {
	closed, rec, err := m.ledger.MarkClosed(ctx, m.pos.Symbol, detail)
	if err != nil {
		logger.Errorf("[%s] ledger close failed: %v", m.pos.Symbol, err)
		return nil
	}
	if !closed {
		logger.Infof("[%s] ledger already closed by another writer", m.pos.Symbol)
		return nil
	}
	return rec
}

func (m *Monitor) notifyExit(ctx context.Context, res ExitResult, rec *ledger.PositionRecord) {
	ev := notifier.NewEvent("position_exited", m.pos.Symbol, notifier.PriorityWarning, "position exited")
	ev.Body = res.ExitReason
	ev.Fields = map[string]any{
		"exit_price":    res.ExitPrice,
		"pnl_pct":       fmt.Sprintf("%.2f%%", res.PnLPct*100),
		"total_checks":  res.TotalChecks,
		"advisor_calls": res.AdvisorCalls,
	}
	if rec != nil {
		ev.Fields["realized_pnl"] = rec.RealizedPnL
		if m.reporter != nil {
			if png, err := m.reporter.Render(ctx, rec); err == nil {
				ev.Photo = png
			} else {
				logger.Warnf("[%s] exit report render failed: %v", m.pos.Symbol, err)
			}
		}
	}
	m.publish(ctx, ev)
}

func (m *Monitor) notify(ctx context.Context, typ string, prio notifier.Priority, title, body string, fields map[string]any) {
	ev := notifier.NewEvent(typ, m.pos.Symbol, prio, title)
	ev.Body = body
	ev.Fields = fields
	m.publish(ctx, ev)
}

func (m *Monitor) publish(ctx context.Context, ev notifier.Event) {
	if m.events == nil {
		return
	}
	m.events.Publish(ctx, ev)
}

func findPosition(list []broker.Position, symbol string) (broker.Position, bool) {
	for _, p := range list {
		if strings.EqualFold(p.Symbol, symbol) && p.Quantity > 0 {
			return p, true
		}
	}
	return broker.Position{}, false
}

func decisionMeta(dec signal.Decision) map[string]any {
	sigs := make([]map[string]any, 0, len(dec.Signals))
	for _, sig := range dec.Signals {
		sigs = append(sigs, map[string]any{
			"category": sig.Category.String(),
			"strength": sig.Strength.String(),
			"reason":   sig.Reason,
			"evidence": sig.Evidence,
		})
	}
	return map[string]any{
		"action":     dec.Action.String(),
		"confidence": dec.Confidence,
		"signals":    sigs,
	}
}
