package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/gateway/broker"
	"vigil/internal/gateway/notifier"
	"vigil/internal/ledger"
)

type fakeLedger struct {
	mu      sync.Mutex
	open    []ledger.PositionRecord
	closes  map[string]ledger.CloseDetail
	ghosts  map[string]string
	listErr error
}

func newFakeLedger(recs ...ledger.PositionRecord) *fakeLedger {
	return &fakeLedger{
		open:   recs,
		closes: map[string]ledger.CloseDetail{},
		ghosts: map[string]string{},
	}
}

func (f *fakeLedger) ListOpen(context.Context) ([]ledger.PositionRecord, error) {
	return f.open, f.listErr
}

func (f *fakeLedger) MarkClosed(_ context.Context, symbol string, detail ledger.CloseDetail) (bool, *ledger.PositionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, done := f.closes[symbol]; done {
		return false, nil, nil
	}
	f.closes[symbol] = detail
	return true, &ledger.PositionRecord{Symbol: symbol, Status: ledger.StatusClosed}, nil
}

func (f *fakeLedger) FlagGhost(_ context.Context, symbol, note string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, done := f.ghosts[symbol]; done {
		return false, nil
	}
	f.ghosts[symbol] = note
	return true, nil
}

func (f *fakeLedger) UpdateMark(context.Context, string, float64, float64) error { return nil }

type fakeBroker struct {
	positions []broker.Position
	statuses  map[string]broker.OrderStatus
	statusErr map[string]error
}

func (f *fakeBroker) OpenPositions(context.Context) ([]broker.Position, error) {
	return f.positions, nil
}

func (f *fakeBroker) OrderStatus(_ context.Context, _, orderID string) (broker.OrderStatus, error) {
	if err, ok := f.statusErr[orderID]; ok {
		return broker.StatusUnknown, err
	}
	if st, ok := f.statuses[orderID]; ok {
		return st, nil
	}
	return broker.StatusUnknown, nil
}

type nullPublisher struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (n *nullPublisher) Publish(_ context.Context, ev notifier.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func openRecord(symbol, orderID string, age time.Duration) ledger.PositionRecord {
	return ledger.PositionRecord{
		Symbol: symbol, Side: "long", Quantity: 1, EntryPrice: 100,
		EntryOrderID: orderID, Status: ledger.StatusOpen,
		EntryAt: time.Now().Add(-age), CurrentPrice: 101,
	}
}

func TestEveryRecordClassifiedExactlyOnce(t *testing.T) {
	led := newFakeLedger(
		openRecord("SYNCED", "o1", time.Hour),   // broker position present
		openRecord("DRIFTED", "o2", time.Hour),  // position present, quantity moved
		openRecord("CLOSED", "o3", time.Hour),   // entry filled, no position
		openRecord("GHOST", "", 2*time.Hour),    // nothing anywhere, aged
		openRecord("PENDING", "o5", time.Minute), // too young to judge
	)
	brk := &fakeBroker{
		positions: []broker.Position{
			{Symbol: "SYNCED", Quantity: 1, CurrentPrice: 101},
			{Symbol: "DRIFTED", Quantity: 0.5, CurrentPrice: 99},
		},
		statuses: map[string]broker.OrderStatus{
			"o3": broker.StatusFilled,
			"o5": broker.StatusNew,
		},
	}
	r := New(Config{GhostAge: 30 * time.Minute}, led, brk, &nullPublisher{}, nil)

	summary := r.Reconcile(context.Background())

	require.Len(t, summary.Records, 5)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 2, summary.Updated, "quantity drift plus too-young record")
	assert.Equal(t, 1, summary.Closed)
	assert.Equal(t, 1, summary.Ghosts)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, summary.Synced+summary.Updated+summary.Closed+summary.Ghosts, len(summary.Records),
		"partition: every record lands in exactly one bucket")
}

func TestTerminalDriftClosesWithBrokerReason(t *testing.T) {
	led := newFakeLedger(openRecord("BTCUSDT", "o1", time.Hour))
	brk := &fakeBroker{statuses: map[string]broker.OrderStatus{"o1": broker.StatusFilled}}
	pub := &nullPublisher{}
	r := New(Config{}, led, brk, pub, nil)

	summary := r.Reconcile(context.Background())
	assert.Equal(t, 1, summary.Closed)

	detail, ok := led.closes["BTCUSDT"]
	require.True(t, ok)
	assert.Equal(t, broker.StatusFilled.CloseReason(), detail.Reason)
	assert.InDelta(t, 101.0, detail.ExitPrice, 1e-9, "best-effort exit price from last mark")
	assert.NotEmpty(t, pub.events)
}

func TestGhostIsFlaggedNeverDeleted(t *testing.T) {
	led := newFakeLedger(openRecord("GHOST", "o9", 2*time.Hour))
	brk := &fakeBroker{statusErr: map[string]error{"o9": errors.New("order not found")}}
	pub := &nullPublisher{}
	r := New(Config{GhostAge: 30 * time.Minute}, led, brk, pub, nil)

	summary := r.Reconcile(context.Background())
	assert.Equal(t, 1, summary.Ghosts)
	assert.Contains(t, led.ghosts["GHOST"], "no broker order or position")
	assert.Empty(t, led.closes, "ghosts are flagged, not closed")
	require.NotEmpty(t, pub.events)
	assert.Equal(t, notifier.PriorityCritical, pub.events[0].Priority)
}

func TestSingleSymbolErrorDoesNotAbortBatch(t *testing.T) {
	led := newFakeLedger(
		openRecord("BAD", "oX", time.Minute), // status error, too young for ghost
		openRecord("GOOD", "o1", time.Hour),
	)
	brk := &fakeBroker{
		positions: []broker.Position{{Symbol: "GOOD", Quantity: 1}},
		statusErr: map[string]error{"oX": errors.New("rate limited")},
	}
	r := New(Config{GhostAge: 30 * time.Minute}, led, brk, &nullPublisher{}, nil)

	summary := r.Reconcile(context.Background())
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Synced, "healthy symbol still reconciled")
	require.Len(t, summary.Records, 2)
}

func TestLastSummaryExposedForStatusAPI(t *testing.T) {
	r := New(Config{}, newFakeLedger(), &fakeBroker{}, nil, nil)
	assert.Nil(t, r.LastSummary())
	_ = r.Reconcile(context.Background())
	require.NotNil(t, r.LastSummary())
}
