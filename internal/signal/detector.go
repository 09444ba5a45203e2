package signal

import (
	"time"

	"vigil/internal/gateway/broker"
	"vigil/internal/gateway/marketdata"
	"vigil/internal/session"
)

// Threshold bands. All bands are inclusive on the adverse side: a value
// exactly at a boundary yields the stronger signal.
const (
	stopLossStrongPct   = -0.03
	stopLossModeratePct = -0.02
	stopLossWeakPct     = -0.01

	profitModeratePct = 0.08
	profitWeakPct     = 0.05

	volumeStrongRatio   = 0.25
	volumeModerateRatio = 0.40
	volumeWeakRatio     = 0.60

	overboughtStrong   = 85
	overboughtModerate = 75
	overboughtWeak     = 70
	oversoldWeak       = 25

	deviationModeratePct = 0.02
	deviationWeakPct     = 0.01

	closeStrong   = 10 * time.Minute
	closeModerate = 30 * time.Minute
	closeWeak     = 60 * time.Minute

	holdModerate = 3 * time.Hour
	holdWeak     = 2 * time.Hour
)

// Detect evaluates every rule family against the snapshots and returns the
// resulting signal set. Pure and deterministic given its inputs.
//
// If the entry price is zero or unknown no detection is possible: the empty
// set is returned and the caller treats it as NONE, not as an error.
func Detect(pos broker.Position, quote marketdata.Quote, tech marketdata.Technicals, sess session.Status, now time.Time) Set {
	var set Set
	if pos.EntryPrice <= 0 || quote.Price <= 0 {
		return set
	}

	pnl := pos.PnLPercent(quote.Price)
	detectStopLoss(&set, pnl)
	detectProfitTarget(&set, pnl)
	detectVolumeDecay(&set, quote.Volume, pos.EntryVolume)
	detectOscillator(&set, tech.RSI)
	detectTrendCross(&set, tech.Trend, tech.TrendSignal)
	detectPriceDeviation(&set, quote.Price, tech.ReferenceLevel)
	detectSessionClock(&set, sess)
	detectHoldTime(&set, pos.EntryAt, now)
	return set
}

func detectStopLoss(set *Set, pnl float64) {
	switch {
	case pnl <= stopLossStrongPct:
		set.add(CategoryStopLoss, Strong, pnl, "P&L %.2f%% breached the -3%% stop band", pnl*100)
	case pnl <= stopLossModeratePct:
		set.add(CategoryStopLoss, Moderate, pnl, "P&L %.2f%% inside the -2%% warning band", pnl*100)
	case pnl <= stopLossWeakPct:
		set.add(CategoryStopLoss, Weak, pnl, "P&L %.2f%% drifting toward the stop", pnl*100)
	}
}

func detectProfitTarget(set *Set, pnl float64) {
	switch {
	case pnl >= profitModeratePct:
		set.add(CategoryProfitTarget, Moderate, pnl, "P&L +%.2f%% at take-profit consideration level", pnl*100)
	case pnl >= profitWeakPct:
		set.add(CategoryProfitTarget, Weak, pnl, "P&L +%.2f%% approaching take-profit level", pnl*100)
	}
}

func detectVolumeDecay(set *Set, current, baseline float64) {
	if baseline <= 0 {
		return
	}
	ratio := current / baseline
	switch {
	case ratio < volumeStrongRatio:
		set.add(CategoryVolumeDecay, Strong, ratio, "volume collapsed to %.0f%% of entry baseline", ratio*100)
	case ratio < volumeModerateRatio:
		set.add(CategoryVolumeDecay, Moderate, ratio, "volume decayed to %.0f%% of entry baseline", ratio*100)
	case ratio < volumeWeakRatio:
		set.add(CategoryVolumeDecay, Weak, ratio, "volume fading, %.0f%% of entry baseline", ratio*100)
	}
}

func detectOscillator(set *Set, rsi float64) {
	switch {
	case rsi > overboughtStrong:
		set.add(CategoryOverbought, Strong, rsi, "RSI %.1f extremely overbought", rsi)
	case rsi > overboughtModerate:
		set.add(CategoryOverbought, Moderate, rsi, "RSI %.1f overbought", rsi)
	case rsi > overboughtWeak:
		set.add(CategoryOverbought, Weak, rsi, "RSI %.1f nearing overbought", rsi)
	case rsi > 0 && rsi < oversoldWeak:
		// Informational only: oversold does not justify exiting a long.
		set.add(CategoryOversold, Weak, rsi, "RSI %.1f oversold", rsi)
	}
}

func detectTrendCross(set *Set, trend, signalLine float64) {
	if trend >= signalLine {
		return
	}
	if trend > 0 {
		set.add(CategoryTrendCross, Moderate, trend, "bearish crossover with trend still positive (%.4f)", trend)
	} else {
		set.add(CategoryTrendCross, Weak, trend, "bearish crossover in negative territory (%.4f)", trend)
	}
}

func detectPriceDeviation(set *Set, price, reference float64) {
	if reference <= 0 {
		return
	}
	dev := (reference - price) / reference
	switch {
	case dev >= deviationModeratePct:
		set.add(CategoryPriceDeviation, Moderate, dev, "price %.2f%% below reference level", dev*100)
	case dev >= deviationWeakPct:
		set.add(CategoryPriceDeviation, Weak, dev, "price %.2f%% below reference level", dev*100)
	}
}

func detectSessionClock(set *Set, sess session.Status) {
	if !sess.Open || !sess.HasClose {
		return
	}
	switch {
	case sess.TimeToClose < closeStrong:
		set.add(CategorySessionClose, Strong, sess.TimeToClose.Minutes(), "%.0f minutes to market close", sess.TimeToClose.Minutes())
	case sess.TimeToClose < closeModerate:
		set.add(CategorySessionClose, Moderate, sess.TimeToClose.Minutes(), "%.0f minutes to market close", sess.TimeToClose.Minutes())
	case sess.TimeToClose < closeWeak:
		set.add(CategorySessionClose, Weak, sess.TimeToClose.Minutes(), "%.0f minutes to market close", sess.TimeToClose.Minutes())
	}
	if sess.PreBreak && sess.PreBreakRemaining > 0 && sess.PreBreakWindow > 0 {
		// The pre-pause window escalates in its last quarter.
		strength := Moderate
		if sess.PreBreakRemaining <= sess.PreBreakWindow/4 {
			strength = Strong
		}
		set.add(CategorySessionPause, strength, sess.PreBreakRemaining.Minutes(),
			"%.0f minutes to mid-session pause", sess.PreBreakRemaining.Minutes())
	}
}

func detectHoldTime(set *Set, entryAt, now time.Time) {
	if entryAt.IsZero() || !now.After(entryAt) {
		return
	}
	held := now.Sub(entryAt)
	switch {
	case held > holdModerate:
		set.add(CategoryHoldTime, Moderate, held.Hours(), "position held %.1f hours", held.Hours())
	case held > holdWeak:
		set.add(CategoryHoldTime, Weak, held.Hours(), "position held %.1f hours", held.Hours())
	}
}
