package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"
	talib "github.com/markcheno/go-talib"
)

const (
	defaultKlineInterval = "5m"
	defaultKlineLimit    = 120

	rsiPeriod      = 14
	macdFast       = 12
	macdSlow       = 26
	macdSignal     = 9
	shortSMAPeriod = 20
)

// BinanceSource implements Source on Binance USD-M futures market data.
type BinanceSource struct {
	client   *futures.Client
	interval string
	limit    int
}

func NewBinanceSource(apiKey, secretKey, interval string, limit int) *BinanceSource {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		interval = defaultKlineInterval
	}
	if limit <= macdSlow+macdSignal {
		limit = defaultKlineLimit
	}
	return &BinanceSource{
		client:   futures.NewClient(apiKey, secretKey),
		interval: interval,
		limit:    limit,
	}
}

func (s *BinanceSource) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	stats, err := s.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("binance 24h stats %s: %w", symbol, err)
	}
	if len(stats) == 0 {
		return Quote{}, fmt.Errorf("binance 24h stats %s: empty response", symbol)
	}
	q := Quote{
		Symbol: symbol,
		Price:  parseFloat(stats[0].LastPrice),
		Volume: parseFloat(stats[0].Volume),
	}
	books, err := s.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("binance book ticker %s: %w", symbol, err)
	}
	if len(books) > 0 {
		q.Bid = parseFloat(books[0].BidPrice)
		q.Ask = parseFloat(books[0].AskPrice)
	}
	if q.Price <= 0 {
		return Quote{}, fmt.Errorf("binance quote %s: no usable price", symbol)
	}
	return q, nil
}

func (s *BinanceSource) Technicals(ctx context.Context, symbol string) (Technicals, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	klines, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(s.interval).
		Limit(s.limit).
		Do(ctx)
	if err != nil {
		return Technicals{}, fmt.Errorf("binance klines %s %s: %w", symbol, s.interval, err)
	}
	need := macdSlow + macdSignal
	if len(klines) < need {
		return Technicals{}, fmt.Errorf("binance klines %s: need %d candles, got %d", symbol, need, len(klines))
	}
	highs := make([]float64, len(klines))
	lows := make([]float64, len(klines))
	closes := make([]float64, len(klines))
	volumes := make([]float64, len(klines))
	for i, k := range klines {
		highs[i] = parseFloat(k.High)
		lows[i] = parseFloat(k.Low)
		closes[i] = parseFloat(k.Close)
		volumes[i] = parseFloat(k.Volume)
	}
	return ComputeTechnicals(highs, lows, closes, volumes)
}

// History returns the recent candle window used for technicals, exposed so
// the exit report can chart the same data the detector saw.
func (s *BinanceSource) History(ctx context.Context, symbol string) ([]Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	klines, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(s.interval).
		Limit(s.limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, s.interval, err)
	}
	out := make([]Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return out, nil
}

// ComputeTechnicals derives the indicator snapshot from raw candle series.
// Split out from the fetch path so it can be tested without a venue.
func ComputeTechnicals(highs, lows, closes, volumes []float64) (Technicals, error) {
	if len(closes) < macdSlow+macdSignal {
		return Technicals{}, fmt.Errorf("technicals: insufficient series length %d", len(closes))
	}
	rsi := talib.Rsi(closes, rsiPeriod)
	macd, signal, _ := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	sma := talib.Sma(closes, shortSMAPeriod)
	t := Technicals{
		RSI:          last(rsi),
		Trend:        last(macd),
		TrendSignal:  last(signal),
		ShortAverage: last(sma),
	}
	t.ReferenceLevel = vwap(highs, lows, closes, volumes)
	return t, nil
}

// vwap computes the volume-weighted average of typical prices over the window.
func vwap(highs, lows, closes, volumes []float64) float64 {
	var pv, vol float64
	for i := range closes {
		if volumes[i] <= 0 {
			continue
		}
		typical := (highs[i] + lows[i] + closes[i]) / 3
		pv += typical * volumes[i]
		vol += volumes[i]
	}
	if vol <= 0 {
		return 0
	}
	return pv / vol
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
