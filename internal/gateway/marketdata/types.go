// Package marketdata abstracts quote and indicator retrieval for the
// monitoring engine. Both calls may fail transiently; callers treat failures
// as a skipped cycle, never as a terminal condition.
package marketdata

import "context"

// Quote is a point-in-time market snapshot for one symbol.
type Quote struct {
	Symbol string
	Price  float64
	Bid    float64
	Ask    float64
	Volume float64 // rolling 24h base volume
}

// Technicals carries the indicator values the signal detector consumes.
type Technicals struct {
	RSI            float64 // oscillator, 0-100
	Trend          float64 // MACD line
	TrendSignal    float64 // MACD signal line
	ReferenceLevel float64 // VWAP over the sampled window
	ShortAverage   float64 // short simple moving average
}

// Candle is one OHLCV bar, times in milliseconds since epoch.
type Candle struct {
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Source provides live quotes and technicals.
type Source interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Technicals(ctx context.Context, symbol string) (Technicals, error)
}
