package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when no open record exists for a symbol.
var ErrNotFound = errors.New("ledger: position not found")

// Store persists position records in sqlite via gorm.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ledger: database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewStoreFromDB(db)
}

func NewStoreFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&PositionRecord{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// OpenPosition records a new open position. At most one open record may
// exist per symbol at any time.
func (s *Store) OpenPosition(ctx context.Context, rec *PositionRecord) error {
	if rec == nil {
		return fmt.Errorf("ledger: nil record")
	}
	rec.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))
	if rec.Symbol == "" {
		return fmt.Errorf("ledger: symbol required")
	}
	rec.Status = StatusOpen
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&PositionRecord{}).
			Where("symbol = ? AND status = ?", rec.Symbol, StatusOpen).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("ledger: %s already has an open position", rec.Symbol)
		}
		return tx.Create(rec).Error
	})
}

// ListOpen returns every record still marked open, oldest first.
func (s *Store) ListOpen(ctx context.Context) ([]PositionRecord, error) {
	var recs []PositionRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusOpen).
		Order("entry_at asc").
		Find(&recs).Error
	return recs, err
}

// FindOpen returns the open record for a symbol, or ErrNotFound.
func (s *Store) FindOpen(ctx context.Context, symbol string) (*PositionRecord, error) {
	var rec PositionRecord
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND status = ?", strings.ToUpper(strings.TrimSpace(symbol)), StatusOpen).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateMark stores the latest mark price / unrealized P&L for an open record.
func (s *Store) UpdateMark(ctx context.Context, symbol string, price, pnlPct float64) error {
	return s.db.WithContext(ctx).Model(&PositionRecord{}).
		Where("symbol = ? AND status = ?", strings.ToUpper(strings.TrimSpace(symbol)), StatusOpen).
		Updates(map[string]any{"current_price": price, "pn_l_pct": pnlPct}).Error
}

// CloseDetail describes an observed exit used to close a ledger record.
type CloseDetail struct {
	ExitPrice   float64
	ExitOrderID string
	Reason      string
	At          time.Time
	Meta        map[string]any
}

// MarkClosed atomically transitions an open record to closed and computes
// realized P&L from the fill price. It is the single close path shared by
// the monitor and the reconciler: the first writer wins, every later call
// observes "already closed" and returns (false, nil) with no side effects.
func (s *Store) MarkClosed(ctx context.Context, symbol string, detail CloseDetail) (bool, *PositionRecord, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	rec, err := s.FindOpen(ctx, symbol)
	if errors.Is(err, ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}

	pnl, pnlPct := realizedPnL(rec, detail.ExitPrice)
	closedAt := detail.At
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	updates := map[string]any{
		"status":            StatusClosed,
		"exit_price":        detail.ExitPrice,
		"exit_order_id":     detail.ExitOrderID,
		"realized_pn_l":     pnl,
		"realized_pn_l_pct": pnlPct,
		"close_reason":      detail.Reason,
		"closed_at":         closedAt,
	}
	if len(detail.Meta) > 0 {
		if raw, err := json.Marshal(detail.Meta); err == nil {
			updates["close_meta"] = raw
		}
	}
	// Conditional update keyed on the open status makes the close
	// idempotent under racing writers without table locks.
	res := s.db.WithContext(ctx).Model(&PositionRecord{}).
		Where("id = ? AND status = ?", rec.ID, StatusOpen).
		Updates(updates)
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil, nil
	}
	rec.Status = StatusClosed
	rec.ExitPrice = detail.ExitPrice
	rec.ExitOrderID = detail.ExitOrderID
	rec.RealizedPnL = pnl
	rec.RealizedPnLPct = pnlPct
	rec.CloseReason = detail.Reason
	rec.ClosedAt = &closedAt
	return true, rec, nil
}

// FlagGhost marks an open record as a ghost needing manual cleanup. Ghosts
// are never deleted automatically. Returns false if the record was no longer
// open (e.g. a racing close already resolved it).
func (s *Store) FlagGhost(ctx context.Context, symbol, note string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&PositionRecord{}).
		Where("symbol = ? AND status = ?", strings.ToUpper(strings.TrimSpace(symbol)), StatusOpen).
		Updates(map[string]any{"status": StatusFlagged, "close_reason": note})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RecentClosed lists the most recently closed records, newest first.
func (s *Store) RecentClosed(ctx context.Context, limit int) ([]PositionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []PositionRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusClosed).
		Order("closed_at desc").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// realizedPnL computes absolute and relative P&L with decimal arithmetic to
// keep repeated float rounding out of the books.
func realizedPnL(rec *PositionRecord, exitPrice float64) (float64, float64) {
	if rec == nil || rec.EntryPrice <= 0 || exitPrice <= 0 {
		return 0, 0
	}
	entry := decimal.NewFromFloat(rec.EntryPrice)
	exit := decimal.NewFromFloat(exitPrice)
	qty := decimal.NewFromFloat(rec.Quantity)
	diff := exit.Sub(entry)
	if !rec.IsLong() {
		diff = entry.Sub(exit)
	}
	pnl, _ := diff.Mul(qty).Round(8).Float64()
	pct, _ := diff.Div(entry).Round(6).Float64()
	return pnl, pct
}
