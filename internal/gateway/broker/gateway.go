package broker

import "context"

// Gateway is the minimal order-routing surface the monitoring engine needs.
// Implementations must treat the venue as the source of truth: OpenPositions
// reflects live state, not a local cache.
type Gateway interface {
	// OpenPositions returns every currently open position on the venue.
	OpenPositions(ctx context.Context) ([]Position, error)
	// SubmitMarketOrder places a market order and returns the fill outcome.
	SubmitMarketOrder(ctx context.Context, symbol, side string, quantity float64) (OrderResult, error)
	// OrderStatus fetches the authoritative status of a previously placed order.
	OrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error)
}

// Options carries venue policy knobs that used to vary between deployments.
// They are configuration on the single implementation, not separate forks.
type Options struct {
	// QuantityDecimals rounds order quantities down to this many decimals.
	QuantityDecimals int
	// PriceDecimals rounds simulated/reported prices to this many decimals.
	PriceDecimals int
}
