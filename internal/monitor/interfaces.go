package monitor

import (
	"context"
	"time"

	"vigil/internal/advisor"
	"vigil/internal/gateway/broker"
	"vigil/internal/gateway/marketdata"
	"vigil/internal/gateway/notifier"
	"vigil/internal/ledger"
	"vigil/internal/session"
	"vigil/internal/signal"
)

// Collaborator contracts, narrowed to what the monitor actually calls.
// Constructors take these instead of concrete clients so tests can run the
// whole state machine against fakes.

type MarketData interface {
	Quote(ctx context.Context, symbol string) (marketdata.Quote, error)
	Technicals(ctx context.Context, symbol string) (marketdata.Technicals, error)
}

type Broker interface {
	OpenPositions(ctx context.Context) ([]broker.Position, error)
	SubmitMarketOrder(ctx context.Context, symbol, side string, quantity float64) (broker.OrderResult, error)
	OrderStatus(ctx context.Context, symbol, orderID string) (broker.OrderStatus, error)
}

type Calendar interface {
	Status(now time.Time) session.Status
}

type Advisor interface {
	Consult(ctx context.Context, pos broker.Position, quote marketdata.Quote, dec signal.Decision) (advisor.Recommendation, error)
}

type Ledger interface {
	MarkClosed(ctx context.Context, symbol string, detail ledger.CloseDetail) (bool, *ledger.PositionRecord, error)
	UpdateMark(ctx context.Context, symbol string, price, pnlPct float64) error
}

type Publisher interface {
	Publish(ctx context.Context, ev notifier.Event)
}

// Reporter renders an exit chart for the terminal notification. Optional;
// rendering failures only cost the attachment.
type Reporter interface {
	Render(ctx context.Context, rec *ledger.PositionRecord) ([]byte, error)
}
