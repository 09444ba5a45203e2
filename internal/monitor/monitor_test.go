package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/advisor"
	"vigil/internal/gateway/broker"
	"vigil/internal/gateway/marketdata"
	"vigil/internal/gateway/notifier"
	"vigil/internal/ledger"
	"vigil/internal/session"
	"vigil/internal/signal"
)

type fakeMarket struct {
	quoteFn func() (marketdata.Quote, error)
	techFn  func() (marketdata.Technicals, error)
}

func (f *fakeMarket) Quote(context.Context, string) (marketdata.Quote, error) {
	return f.quoteFn()
}

func (f *fakeMarket) Technicals(context.Context, string) (marketdata.Technicals, error) {
	if f.techFn != nil {
		return f.techFn()
	}
	return marketdata.Technicals{RSI: 50, Trend: 1, TrendSignal: 0.5}, nil
}

type fakeBroker struct {
	mu        sync.Mutex
	positions []broker.Position
	posErr    error
	submits   int
	submitErr error
	fill      broker.OrderResult
}

func (f *fakeBroker) OpenPositions(context.Context) ([]broker.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions, f.posErr
}

func (f *fakeBroker) SubmitMarketOrder(_ context.Context, symbol, side string, qty float64) (broker.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return broker.OrderResult{}, f.submitErr
	}
	return f.fill, nil
}

func (f *fakeBroker) OrderStatus(context.Context, string, string) (broker.OrderStatus, error) {
	return broker.StatusFilled, nil
}

func (f *fakeBroker) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type fakeCalendar struct{ status session.Status }

func (f fakeCalendar) Status(time.Time) session.Status { return f.status }

type fakeLedger struct {
	mu      sync.Mutex
	closes  []ledger.CloseDetail
	closed  bool
	markErr error
}

func (f *fakeLedger) MarkClosed(_ context.Context, symbol string, detail ledger.CloseDetail) (bool, *ledger.PositionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return false, nil, f.markErr
	}
	if f.closed {
		return false, nil, nil
	}
	f.closed = true
	f.closes = append(f.closes, detail)
	rec := &ledger.PositionRecord{
		Symbol: symbol, Status: ledger.StatusClosed,
		ExitPrice: detail.ExitPrice, RealizedPnL: 1, RealizedPnLPct: 0.01,
	}
	return true, rec, nil
}

func (f *fakeLedger) UpdateMark(context.Context, string, float64, float64) error { return nil }

func (f *fakeLedger) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closes)
}

type fakeAdvisor struct {
	mu    sync.Mutex
	calls int
	rec   advisor.Recommendation
	err   error
}

func (f *fakeAdvisor) Consult(context.Context, broker.Position, marketdata.Quote, signal.Decision) (advisor.Recommendation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.rec, f.err
}

func (f *fakeAdvisor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type capturePublisher struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (c *capturePublisher) Publish(_ context.Context, ev notifier.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *capturePublisher) byType(typ string) []notifier.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notifier.Event
	for _, ev := range c.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func testPosition() broker.Position {
	return broker.Position{
		Symbol: "BTCUSDT", Side: "long", Quantity: 1,
		EntryPrice: 100, EntryAt: time.Now().Add(-30 * time.Minute),
	}
}

func fastConfig() Config {
	return Config{PollInterval: time.Millisecond, OrderTimeout: time.Second, AdvisorMax: 3}
}

func quoteMarket(price float64) *fakeMarket {
	return &fakeMarket{quoteFn: func() (marketdata.Quote, error) {
		return marketdata.Quote{Symbol: "BTCUSDT", Price: price}, nil
	}}
}

func TestStrongStopLossExitsOnce(t *testing.T) {
	pos := testPosition()
	brk := &fakeBroker{
		positions: []broker.Position{pos},
		fill:      broker.OrderResult{OrderID: "x1", Status: broker.StatusFilled, FillPrice: 96.4},
	}
	led := &fakeLedger{}
	pub := &capturePublisher{}
	adv := &fakeAdvisor{}

	m := New(fastConfig(), pos, quoteMarket(96.5), brk, fakeCalendar{session.Status{Open: true}}, adv, led, pub, nil)
	res, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, brk.submitCount())
	assert.Equal(t, 0, adv.callCount(), "STRONG exits skip the advisor")
	assert.Equal(t, 1, led.closeCount())
	assert.InDelta(t, 96.4, res.ExitPrice, 1e-9)
	assert.Equal(t, 1, res.TotalChecks)
	assert.Len(t, pub.byType("position_exited"), 1)
	assert.Equal(t, StateTerminated, m.State())
}

func TestClosedExternallyTerminatesWithoutOrders(t *testing.T) {
	pos := testPosition()
	brk := &fakeBroker{positions: nil} // nothing open at the venue
	led := &fakeLedger{}
	pub := &capturePublisher{}

	m := New(fastConfig(), pos, quoteMarket(100), brk, fakeCalendar{session.Status{Open: true}}, nil, led, pub, nil)
	res, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ReasonClosedExternal, res.ExitReason)
	assert.Equal(t, 0, brk.submitCount(), "zero orders submitted")
	assert.Equal(t, 1, led.closeCount())
	assert.Len(t, pub.byType("closed_externally"), 1)
}

func TestMarketClosedTerminates(t *testing.T) {
	pos := testPosition()
	brk := &fakeBroker{positions: []broker.Position{pos}}

	m := New(fastConfig(), pos, quoteMarket(100), brk,
		fakeCalendar{session.Status{Open: false, Reason: "holiday"}}, nil, &fakeLedger{}, &capturePublisher{}, nil)
	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonMarketClosed, res.ExitReason)
	assert.Equal(t, 0, brk.submitCount())
}

func TestFetchFailureSkipsCycleAndRetries(t *testing.T) {
	pos := testPosition()
	attempts := 0
	market := &fakeMarket{quoteFn: func() (marketdata.Quote, error) {
		attempts++
		if attempts < 3 {
			return marketdata.Quote{}, errors.New("timeout")
		}
		return marketdata.Quote{Symbol: "BTCUSDT", Price: 96.5}, nil
	}}
	brk := &fakeBroker{
		positions: []broker.Position{pos},
		fill:      broker.OrderResult{OrderID: "x1", Status: broker.StatusFilled, FillPrice: 96.5},
	}

	m := New(fastConfig(), pos, market, brk, fakeCalendar{session.Status{Open: true}}, nil, &fakeLedger{}, &capturePublisher{}, nil)
	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalChecks, "two skipped cycles then the exit")
	assert.Equal(t, 1, brk.submitCount())
}

func TestFailedExitKeepsMonitoringWithoutResubmitting(t *testing.T) {
	pos := testPosition()
	brk := &fakeBroker{
		positions: []broker.Position{pos},
		submitErr: errors.New("rejected"),
	}
	led := &fakeLedger{}
	pub := &capturePublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	m := New(fastConfig(), pos, quoteMarket(96.5), brk, fakeCalendar{session.Status{Open: true}}, nil, led, pub, nil)

	done := make(chan ExitResult, 1)
	go func() {
		res, _ := m.Run(ctx)
		done <- res
	}()
	// Let several cycles run: all would decide EXIT, only one may submit.
	time.Sleep(100 * time.Millisecond)
	cancel()
	res := <-done

	assert.Equal(t, 1, brk.submitCount(), "exit order submitted at most once")
	assert.Equal(t, ReasonCancelled, res.ExitReason)
	assert.Equal(t, 0, led.closeCount())
	assert.NotEmpty(t, pub.byType("exit_failed"))
}

func TestAdvisorFailureHoldsAndConsumesBudget(t *testing.T) {
	pos := testPosition()
	pos.EntryVolume = 100
	// Volume ratio 0.35 plus RSI 78: two moderates, escalation territory.
	market := &fakeMarket{
		quoteFn: func() (marketdata.Quote, error) {
			return marketdata.Quote{Symbol: "BTCUSDT", Price: 100, Volume: 35}, nil
		},
		techFn: func() (marketdata.Technicals, error) {
			return marketdata.Technicals{RSI: 78, Trend: 1, TrendSignal: 0.5}, nil
		},
	}
	brk := &fakeBroker{positions: []broker.Position{pos}}
	adv := &fakeAdvisor{err: errors.New("malformed output")}

	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.AdvisorMax = 2
	m := New(cfg, pos, market, brk, fakeCalendar{session.Status{Open: true}}, adv, &fakeLedger{}, &capturePublisher{}, nil)

	done := make(chan struct{})
	go func() {
		_, _ = m.Run(ctx)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 0, brk.submitCount(), "failed consults never exit")
	assert.Equal(t, 2, adv.callCount(), "budget bounds calls even when every consult fails")
	assert.Equal(t, 2, m.budget.Used())
}

func TestBudgetExhaustionNotifiesOnceAndDegradesToRules(t *testing.T) {
	pos := testPosition()
	pos.EntryVolume = 100
	market := &fakeMarket{
		quoteFn: func() (marketdata.Quote, error) {
			return marketdata.Quote{Symbol: "BTCUSDT", Price: 100, Volume: 35}, nil
		},
		techFn: func() (marketdata.Technicals, error) {
			return marketdata.Technicals{RSI: 78, Trend: 1, TrendSignal: 0.5}, nil
		},
	}
	brk := &fakeBroker{positions: []broker.Position{pos}}
	adv := &fakeAdvisor{rec: advisor.Recommendation{ShouldExit: false, Reason: "transient"}}
	pub := &capturePublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.AdvisorMax = 1
	m := New(cfg, pos, market, brk, fakeCalendar{session.Status{Open: true}}, adv, &fakeLedger{}, pub, nil)

	done := make(chan struct{})
	go func() {
		_, _ = m.Run(ctx)
		close(done)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 1, adv.callCount())
	assert.Len(t, pub.byType("budget_exhausted"), 1, "degradation notice sent exactly once")
}

func TestAdvisorExitRecommendationExits(t *testing.T) {
	pos := testPosition()
	pos.EntryVolume = 100
	market := &fakeMarket{
		quoteFn: func() (marketdata.Quote, error) {
			return marketdata.Quote{Symbol: "BTCUSDT", Price: 100, Volume: 35}, nil
		},
		techFn: func() (marketdata.Technicals, error) {
			return marketdata.Technicals{RSI: 78, Trend: 1, TrendSignal: 0.5}, nil
		},
	}
	brk := &fakeBroker{
		positions: []broker.Position{pos},
		fill:      broker.OrderResult{OrderID: "x2", Status: broker.StatusFilled, FillPrice: 99.8},
	}
	adv := &fakeAdvisor{rec: advisor.Recommendation{ShouldExit: true, Reason: "momentum gone"}}

	m := New(fastConfig(), pos, market, brk, fakeCalendar{session.Status{Open: true}}, adv, &fakeLedger{}, &capturePublisher{}, nil)
	res, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, brk.submitCount())
	assert.Equal(t, 1, res.AdvisorCalls)
	assert.Contains(t, res.ExitReason, "advisor: momentum gone")
}

func TestCancellationDoesNotForceExit(t *testing.T) {
	pos := testPosition()
	brk := &fakeBroker{positions: []broker.Position{pos}}
	pub := &capturePublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.PollInterval = time.Hour // park the loop in its wait
	m := New(cfg, pos, quoteMarket(100), brk, fakeCalendar{session.Status{Open: true}}, nil, &fakeLedger{}, pub, nil)

	done := make(chan ExitResult, 1)
	go func() {
		res, _ := m.Run(ctx)
		done <- res
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Equal(t, ReasonCancelled, res.ExitReason)
		assert.Equal(t, 0, brk.submitCount(), "cancellation is not an exit decision")
		assert.NotEmpty(t, pub.byType("monitor_stopped"))
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not exit promptly on cancellation")
	}
}
