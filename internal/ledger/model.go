// Package ledger is the local record of positions the engine is responsible
// for. The broker stays the source of truth for live state; the ledger is
// what survives restarts and what both the monitor and the reconciler write
// through a single idempotent close path.
package ledger

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusFlagged = "flagged" // ghost record awaiting manual cleanup
)

// PositionRecord is one tracked position.
type PositionRecord struct {
	ID uint `gorm:"primaryKey"`

	Symbol       string `gorm:"size:32;index:idx_positions_symbol"`
	Side         string `gorm:"size:8"`
	Quantity     float64
	EntryPrice   float64
	EntryVolume  float64
	EntryAt      time.Time
	EntryReason  string `gorm:"size:256"`
	EntryOrderID string `gorm:"size:64"`

	StopPrice   float64
	TargetPrice float64

	Status       string `gorm:"size:16;index:idx_positions_status"`
	CurrentPrice float64
	PnLPct       float64

	ExitPrice      float64
	ExitOrderID    string `gorm:"size:64"`
	RealizedPnL    float64
	RealizedPnLPct float64
	CloseReason    string `gorm:"size:256"`
	ClosedAt       *time.Time

	// CloseMeta holds the signal evidence / decision context captured at
	// close time, for post-mortem review.
	CloseMeta datatypes.JSON

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PositionRecord) TableName() string { return "positions" }

// IsLong reports the position direction.
func (r PositionRecord) IsLong() bool { return r.Side != "short" }
