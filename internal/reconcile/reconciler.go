package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"vigil/internal/gateway/broker"
	"vigil/internal/gateway/notifier"
	"vigil/internal/ledger"
	"vigil/internal/logger"
	"vigil/internal/metrics"
	"vigil/internal/scheduler"
	"vigil/internal/session"
)

// Ledger is the slice of the position store the reconciler writes through.
type Ledger interface {
	ListOpen(ctx context.Context) ([]ledger.PositionRecord, error)
	MarkClosed(ctx context.Context, symbol string, detail ledger.CloseDetail) (bool, *ledger.PositionRecord, error)
	FlagGhost(ctx context.Context, symbol, note string) (bool, error)
	UpdateMark(ctx context.Context, symbol string, price, pnlPct float64) error
}

// Broker is the venue surface the reconciler reads. The venue is always
// right; the ledger is corrected to match it, never the other way.
type Broker interface {
	OpenPositions(ctx context.Context) ([]broker.Position, error)
	OrderStatus(ctx context.Context, symbol, orderID string) (broker.OrderStatus, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev notifier.Event)
}

type Calendar interface {
	Status(now time.Time) session.Status
}

// Config carries the reconciler knobs.
type Config struct {
	Interval time.Duration
	// GhostAge is the staleness threshold: an open record older than this
	// with no broker state at all is flagged, never deleted.
	GhostAge time.Duration
	// TradingHoursOnly skips passes while the session calendar is closed.
	TradingHoursOnly bool
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 3 * time.Minute
	}
	if c.GhostAge <= 0 {
		c.GhostAge = 30 * time.Minute
	}
}

// Reconciler periodically compares ledger records against broker truth.
type Reconciler struct {
	cfg      Config
	ledger   Ledger
	broker   Broker
	events   Publisher
	calendar Calendar
	nowFn    func() time.Time

	mu   sync.RWMutex
	last *Summary
}

func New(cfg Config, led Ledger, brk Broker, events Publisher, cal Calendar) *Reconciler {
	cfg.applyDefaults()
	return &Reconciler{
		cfg:      cfg,
		ledger:   led,
		broker:   brk,
		events:   events,
		calendar: cal,
		nowFn:    time.Now,
	}
}

// LastSummary returns the most recent pass, or nil before the first run.
func (r *Reconciler) LastSummary() *Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Run executes passes on the configured cadence until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	sched := scheduler.NewIntervalScheduler(r.cfg.Interval, 0)
	sched.RunImmediately = true
	sched.Start(ctx, func(taskCtx context.Context) {
		if r.cfg.TradingHoursOnly && r.calendar != nil {
			if sess := r.calendar.Status(r.nowFn()); !sess.Open {
				logger.Debugf("reconcile: session closed (%s), skipping pass", sess.Reason)
				return
			}
		}
		summary := r.Reconcile(taskCtx)
		logger.Infof("reconcile: synced=%d updated=%d closed=%d ghosts=%d errors=%d",
			summary.Synced, summary.Updated, summary.Closed, summary.Ghosts, summary.Errors)
	})
}

// Reconcile runs a single pass. A single symbol's failure never aborts the
// batch; it is accumulated and counted.
func (r *Reconciler) Reconcile(ctx context.Context) Summary {
	summary := Summary{At: r.nowFn()}

	records, err := r.ledger.ListOpen(ctx)
	if err != nil {
		logger.Errorf("reconcile: ledger list failed: %v", err)
		summary.Errors++
		r.store(summary)
		return summary
	}
	if len(records) == 0 {
		r.store(summary)
		return summary
	}

	live, err := r.broker.OpenPositions(ctx)
	if err != nil {
		logger.Errorf("reconcile: broker position fetch failed: %v", err)
		summary.Errors += len(records)
		r.store(summary)
		return summary
	}
	bySymbol := make(map[string]broker.Position, len(live))
	for _, p := range live {
		if p.Quantity > 0 {
			bySymbol[strings.ToUpper(p.Symbol)] = p
		}
	}

	for _, local := range records {
		rec := r.classify(ctx, local, bySymbol)
		rec.ClassName = rec.Class.String()
		if rec.Err != "" {
			summary.Errors++
		} else {
			metrics.ReconcileRecords.WithLabelValues(rec.ClassName).Inc()
			switch rec.Class {
			case ClassInSync:
				summary.Synced++
			case ClassDriftNonTerminal:
				summary.Updated++
			case ClassDriftTerminal:
				summary.Closed++
			case ClassGhost:
				summary.Ghosts++
			}
		}
		summary.Records = append(summary.Records, rec)
	}
	r.store(summary)
	return summary
}

func (r *Reconciler) classify(ctx context.Context, local ledger.PositionRecord, live map[string]broker.Position) Record {
	rec := Record{Symbol: local.Symbol, LocalStatus: local.Status}

	if pos, ok := live[strings.ToUpper(local.Symbol)]; ok {
		rec.BrokerStatus = "open"
		if quantityDrift(local.Quantity, pos.Quantity) {
			rec.Class = ClassDriftNonTerminal
			rec.Note = fmt.Sprintf("quantity %.8f -> %.8f", local.Quantity, pos.Quantity)
			if err := r.ledger.UpdateMark(ctx, local.Symbol, pos.CurrentPrice, pos.PnLPct); err != nil {
				rec.Err = err.Error()
			}
			return rec
		}
		rec.Class = ClassInSync
		return rec
	}

	// No broker position. The entry order's terminal status decides
	// whether this is an observed close or a ghost.
	status := broker.StatusUnknown
	if local.EntryOrderID != "" {
		var err error
		status, err = r.broker.OrderStatus(ctx, local.Symbol, local.EntryOrderID)
		if err != nil {
			if r.aged(local) {
				return r.flagGhost(ctx, rec, local, "no broker order or position: "+err.Error())
			}
			rec.Err = err.Error()
			return rec
		}
	}
	rec.BrokerStatus = string(status)

	switch {
	case status.IsTerminal():
		detail := ledger.CloseDetail{
			Reason: status.CloseReason(),
			At:     r.nowFn(),
		}
		if status == broker.StatusFilled {
			// Entry filled but position gone: closed at the broker,
			// best-effort exit price from the last mark.
			detail.ExitPrice = local.CurrentPrice
		}
		closed, _, err := r.ledger.MarkClosed(ctx, local.Symbol, detail)
		if err != nil {
			rec.Err = err.Error()
			return rec
		}
		rec.Class = ClassDriftTerminal
		rec.Note = detail.Reason
		if closed {
			r.notify(ctx, notifier.PriorityWarning, "ledger drift corrected", local.Symbol,
				fmt.Sprintf("%s closed at broker (%s), ledger updated", local.Symbol, status))
		}
		return rec

	case status == broker.StatusUnknown && r.aged(local):
		return r.flagGhost(ctx, rec, local, "no broker order or position")

	default:
		// Order still working, or the record is too young to judge.
		rec.Class = ClassDriftNonTerminal
		rec.Note = "awaiting broker state"
		return rec
	}
}

func (r *Reconciler) flagGhost(ctx context.Context, rec Record, local ledger.PositionRecord, note string) Record {
	rec.Class = ClassGhost
	rec.Note = note
	flagged, err := r.ledger.FlagGhost(ctx, local.Symbol, note)
	if err != nil {
		rec.Err = err.Error()
		return rec
	}
	if flagged {
		r.notify(ctx, notifier.PriorityCritical, "ghost position flagged", local.Symbol,
			fmt.Sprintf("%s open locally since %s with no broker state; flagged for manual cleanup",
				local.Symbol, local.EntryAt.Format(time.RFC3339)))
	}
	return rec
}

func (r *Reconciler) aged(local ledger.PositionRecord) bool {
	ref := local.EntryAt
	if ref.IsZero() {
		ref = local.CreatedAt
	}
	return r.nowFn().Sub(ref) > r.cfg.GhostAge
}

func (r *Reconciler) notify(ctx context.Context, prio notifier.Priority, title, symbol, body string) {
	if r.events == nil {
		return
	}
	ev := notifier.NewEvent("reconcile", symbol, prio, title)
	ev.Body = body
	r.events.Publish(ctx, ev)
}

func (r *Reconciler) store(summary Summary) {
	r.mu.Lock()
	r.last = &summary
	r.mu.Unlock()
}

func quantityDrift(local, live float64) bool {
	diff := local - live
	if diff < 0 {
		diff = -diff
	}
	return diff > 1e-9
}
