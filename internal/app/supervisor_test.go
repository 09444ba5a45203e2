package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/gateway/broker"
	"vigil/internal/gateway/marketdata"
	"vigil/internal/ledger"
	"vigil/internal/session"
)

type steadyMarket struct {
	price float64
}

func (m steadyMarket) Quote(context.Context, string) (marketdata.Quote, error) {
	return marketdata.Quote{Price: m.price}, nil
}

func (m steadyMarket) Technicals(context.Context, string) (marketdata.Technicals, error) {
	return marketdata.Technicals{RSI: 50}, nil
}

func openTestLedger(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSupervisor(t *testing.T, store *ledger.Store, paper *broker.PaperGateway) *Supervisor {
	t.Helper()
	return NewSupervisor(SupervisorConfig{
		PollInterval:     time.Hour,
		OrderTimeout:     time.Second,
		AdvisorMax:       1,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	}, MonitorDeps{
		Market:   steadyMarket{price: 100},
		Broker:   paper,
		Calendar: session.AlwaysOpen(),
		Ledger:   store,
	})
}

func startSupervisor(t *testing.T, s *Supervisor) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Run sets the base context before resuming; give it a beat.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.ctx != nil
	}, time.Second, 5*time.Millisecond)
	return cancel
}

func seededPaper(symbol string) *broker.PaperGateway {
	paper := broker.NewPaperGateway(broker.Options{QuantityDecimals: 4, PriceDecimals: 2})
	paper.Seed(broker.Position{
		Symbol:     symbol,
		Side:       "long",
		Quantity:   1,
		EntryPrice: 100,
		EntryAt:    time.Now().UTC(),
	})
	return paper
}

func TestWatchStartsMonitorOnce(t *testing.T) {
	store := openTestLedger(t)
	s := testSupervisor(t, store, seededPaper("BTCUSDT"))
	startSupervisor(t, s)

	rec := &ledger.PositionRecord{
		Symbol: "btcusdt", Side: "long", Quantity: 1,
		EntryPrice: 100, EntryAt: time.Now().UTC(),
	}
	require.NoError(t, s.Watch(context.Background(), rec))

	require.Eventually(t, func() bool {
		return len(s.Snapshots()) == 1
	}, time.Second, 5*time.Millisecond)
	snap := s.Snapshots()[0]
	assert.Equal(t, "BTCUSDT", snap.Symbol)

	dup := &ledger.PositionRecord{
		Symbol: "BTCUSDT", Side: "long", Quantity: 2,
		EntryPrice: 101, EntryAt: time.Now().UTC(),
	}
	assert.Error(t, s.Watch(context.Background(), dup))

	open, err := store.ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "BTCUSDT", open[0].Symbol)
}

func TestResumeRestartsPersistedMonitors(t *testing.T) {
	store := openTestLedger(t)
	for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		require.NoError(t, store.OpenPosition(context.Background(), &ledger.PositionRecord{
			Symbol: symbol, Side: "long", Quantity: 1,
			EntryPrice: 100, EntryAt: time.Now().UTC(),
		}))
	}

	paper := broker.NewPaperGateway(broker.Options{QuantityDecimals: 4, PriceDecimals: 2})
	for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		paper.Seed(broker.Position{
			Symbol: symbol, Side: "long", Quantity: 1,
			EntryPrice: 100, EntryAt: time.Now().UTC(),
		})
	}

	s := testSupervisor(t, store, paper)
	startSupervisor(t, s)

	require.Eventually(t, func() bool {
		return len(s.Snapshots()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestWatchBeforeRunFails(t *testing.T) {
	store := openTestLedger(t)
	s := testSupervisor(t, store, seededPaper("BTCUSDT"))

	err := s.Watch(context.Background(), &ledger.PositionRecord{
		Symbol: "BTCUSDT", Side: "long", Quantity: 1,
		EntryPrice: 100, EntryAt: time.Now().UTC(),
	})
	assert.Error(t, err)
}

func TestCancelDrainsMonitors(t *testing.T) {
	store := openTestLedger(t)
	s := testSupervisor(t, store, seededPaper("BTCUSDT"))
	cancel := startSupervisor(t, s)

	require.NoError(t, s.Watch(context.Background(), &ledger.PositionRecord{
		Symbol: "BTCUSDT", Side: "long", Quantity: 1,
		EntryPrice: 100, EntryAt: time.Now().UTC(),
	}))
	require.Eventually(t, func() bool { return len(s.Snapshots()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		return len(s.Snapshots()) == 0
	}, time.Second, 5*time.Millisecond)
}
