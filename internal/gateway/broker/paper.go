package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperGateway simulates execution against a mutable mark price. It is used
// for dry runs and for deterministic tests; orders never touch an exchange.
type PaperGateway struct {
	mu        sync.Mutex
	opts      Options
	positions map[string]Position
	orders    map[string]OrderStatus
	marks     map[string]float64
}

func NewPaperGateway(opts Options) *PaperGateway {
	return &PaperGateway{
		opts:      opts,
		positions: make(map[string]Position),
		orders:    make(map[string]OrderStatus),
		marks:     make(map[string]float64),
	}
}

// Seed installs an open position, simulating an entry fill.
func (g *PaperGateway) Seed(pos Position) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := strings.ToUpper(strings.TrimSpace(pos.Symbol))
	g.positions[key] = pos
	if pos.CurrentPrice > 0 {
		g.marks[key] = pos.CurrentPrice
	} else if pos.EntryPrice > 0 {
		g.marks[key] = pos.EntryPrice
	}
}

// SetMark updates the simulated mark price used for fills.
func (g *PaperGateway) SetMark(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marks[strings.ToUpper(strings.TrimSpace(symbol))] = price
}

func (g *PaperGateway) OpenPositions(ctx context.Context) ([]Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Position, 0, len(g.positions))
	for key, pos := range g.positions {
		if mark, ok := g.marks[key]; ok && mark > 0 {
			pos.CurrentPrice = mark
			pos.PnLPct = pos.PnLPercent(mark)
		}
		out = append(out, pos)
	}
	return out, nil
}

func (g *PaperGateway) SubmitMarketOrder(ctx context.Context, symbol, side string, quantity float64) (OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := strings.ToUpper(strings.TrimSpace(symbol))
	pos, ok := g.positions[key]
	if !ok {
		return OrderResult{}, fmt.Errorf("paper order: no open position for %s", key)
	}
	mark := g.marks[key]
	if mark <= 0 {
		mark = pos.EntryPrice
	}
	fill := decimal.NewFromFloat(mark).Round(int32(g.opts.PriceDecimals))
	qty := decimal.NewFromFloat(quantity).RoundDown(int32(g.opts.QuantityDecimals))
	if qty.LessThanOrEqual(decimal.Zero) {
		return OrderResult{}, fmt.Errorf("paper order: quantity %.8f rounds to zero", quantity)
	}
	if !strings.EqualFold(side, pos.CloseSide()) {
		return OrderResult{}, fmt.Errorf("paper order: side %s does not flatten %s %s", side, pos.Side, key)
	}
	delete(g.positions, key)
	id := uuid.New().String()
	g.orders[id] = StatusFilled
	fillPrice, _ := fill.Float64()
	filledQty, _ := qty.Float64()
	return OrderResult{
		OrderID:   id,
		Status:    StatusFilled,
		FillPrice: fillPrice,
		FilledQty: filledQty,
	}, nil
}

func (g *PaperGateway) OrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.orders[strings.TrimSpace(orderID)]
	if !ok {
		return StatusUnknown, fmt.Errorf("paper order status: unknown order %q", orderID)
	}
	return status, nil
}
