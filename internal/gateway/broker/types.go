// Package broker defines a common abstraction over order-routing venues.
// The monitoring engine only ever sees these types; concrete backends
// (Binance, paper) are selected by configuration.
package broker

import (
	"strings"
	"time"
)

// Position represents an open trading position as the venue reports it.
type Position struct {
	Symbol       string    // e.g. "BTCUSDT"
	Side         string    // "long" or "short"
	Quantity     float64   // current position size, base asset
	EntryPrice   float64   // average entry price
	EntryVolume  float64   // venue volume at entry time (baseline for decay checks)
	EntryAt      time.Time // when the position was opened
	EntryReason  string    // entry tag carried through for notifications
	EntryOrderID string    // venue order id of the entry fill

	StopPrice   float64 // catastrophic stop bracket reference (0 if not set)
	TargetPrice float64 // take-profit bracket reference (0 if not set)

	CurrentPrice float64 // last mark price seen by the monitor
	PnLPct       float64 // unrealized P&L ratio at CurrentPrice
}

// IsLong reports whether the position profits from rising prices.
func (p Position) IsLong() bool {
	return !strings.EqualFold(strings.TrimSpace(p.Side), "short")
}

// PnLPercent returns the unrealized P&L ratio at the given mark price,
// signed so that adverse moves are negative for both sides.
func (p Position) PnLPercent(price float64) float64 {
	if p.EntryPrice <= 0 || price <= 0 {
		return 0
	}
	if p.IsLong() {
		return (price - p.EntryPrice) / p.EntryPrice
	}
	return (p.EntryPrice - price) / p.EntryPrice
}

// CloseSide returns the order side that flattens the position.
func (p Position) CloseSide() string {
	if p.IsLong() {
		return SideSell
	}
	return SideBuy
}

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// OrderStatus is the venue-reported lifecycle state of an order.
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusExpired         OrderStatus = "expired"
	StatusRejected        OrderStatus = "rejected"
	StatusUnknown         OrderStatus = "unknown"
)

// IsTerminal reports whether the order can no longer change state.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// CloseReason maps a terminal order status to a ledger close reason.
func (s OrderStatus) CloseReason() string {
	switch s {
	case StatusFilled:
		return "bracket filled at broker"
	case StatusCanceled:
		return "order canceled at broker"
	case StatusExpired:
		return "order expired at broker"
	case StatusRejected:
		return "order rejected at broker"
	default:
		return "closed at broker"
	}
}

// OrderResult is the outcome of a submitted order.
type OrderResult struct {
	OrderID   string
	Status    OrderStatus
	FillPrice float64
	FilledQty float64
}
