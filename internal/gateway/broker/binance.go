package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// BinanceGateway implements Gateway on Binance USD-M futures.
type BinanceGateway struct {
	client *futures.Client
	opts   Options
}

func NewBinanceGateway(apiKey, secretKey string, opts Options) *BinanceGateway {
	return &BinanceGateway{
		client: futures.NewClient(apiKey, secretKey),
		opts:   opts,
	}
}

func (g *BinanceGateway) OpenPositions(ctx context.Context) ([]Position, error) {
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance position risk: %w", err)
	}
	var out []Position
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := "long"
		if amt < 0 {
			side = "short"
			amt = -amt
		}
		entry := parseFloat(r.EntryPrice)
		mark := parseFloat(r.MarkPrice)
		pos := Position{
			Symbol:       strings.ToUpper(strings.TrimSpace(r.Symbol)),
			Side:         side,
			Quantity:     amt,
			EntryPrice:   entry,
			CurrentPrice: mark,
		}
		if r.UpdateTime > 0 {
			pos.EntryAt = time.UnixMilli(r.UpdateTime)
		}
		pos.PnLPct = pos.PnLPercent(mark)
		out = append(out, pos)
	}
	return out, nil
}

func (g *BinanceGateway) SubmitMarketOrder(ctx context.Context, symbol, side string, quantity float64) (OrderResult, error) {
	qty := g.roundQuantity(quantity)
	if qty == "" {
		return OrderResult{}, fmt.Errorf("binance order: quantity %.8f rounds to zero", quantity)
	}
	svc := g.client.NewCreateOrderService().
		Symbol(strings.ToUpper(strings.TrimSpace(symbol))).
		Side(orderSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		ReduceOnly(true)
	resp, err := svc.Do(ctx)
	if err != nil {
		return OrderResult{}, fmt.Errorf("binance market order %s %s: %w", symbol, side, err)
	}
	return OrderResult{
		OrderID:   strconv.FormatInt(resp.OrderID, 10),
		Status:    mapOrderStatus(resp.Status),
		FillPrice: parseFloat(resp.AvgPrice),
		FilledQty: parseFloat(resp.ExecutedQuantity),
	}, nil
}

func (g *BinanceGateway) OrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(orderID), 10, 64)
	if err != nil {
		return StatusUnknown, fmt.Errorf("binance order status: invalid order id %q", orderID)
	}
	order, err := g.client.NewGetOrderService().
		Symbol(strings.ToUpper(strings.TrimSpace(symbol))).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return StatusUnknown, fmt.Errorf("binance order status %s/%s: %w", symbol, orderID, err)
	}
	return mapOrderStatus(order.Status), nil
}

func (g *BinanceGateway) roundQuantity(q float64) string {
	d := decimal.NewFromFloat(q).RoundDown(int32(g.opts.QuantityDecimals))
	if d.LessThanOrEqual(decimal.Zero) {
		return ""
	}
	return d.String()
}

func orderSide(side string) futures.SideType {
	if strings.EqualFold(strings.TrimSpace(side), SideBuy) {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func mapOrderStatus(s futures.OrderStatusType) OrderStatus {
	switch s {
	case futures.OrderStatusTypeNew:
		return StatusNew
	case futures.OrderStatusTypePartiallyFilled:
		return StatusPartiallyFilled
	case futures.OrderStatusTypeFilled:
		return StatusFilled
	case futures.OrderStatusTypeCanceled:
		return StatusCanceled
	case futures.OrderStatusTypeExpired:
		return StatusExpired
	case futures.OrderStatusTypeRejected:
		return StatusRejected
	default:
		return StatusUnknown
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
