// Package signal turns a position snapshot plus market snapshot into a set of
// categorized exit signals and folds that set into a deterministic decision.
// Detection is pure: no I/O, no clocks beyond the instants passed in.
package signal

import "fmt"

// Strength is the ordered severity of a signal.
type Strength int

const (
	None Strength = iota
	Weak
	Moderate
	Strong
)

func (s Strength) String() string {
	switch s {
	case Weak:
		return "weak"
	case Moderate:
		return "moderate"
	case Strong:
		return "strong"
	default:
		return "none"
	}
}

// Category identifies the rule family that produced a signal. Declaration
// order is priority order: when strengths tie, the lower ordinal wins, so
// P&L stop-loss signals outrank technical ones.
type Category int

const (
	CategoryStopLoss Category = iota
	CategoryProfitTarget
	CategoryVolumeDecay
	CategoryOverbought
	CategoryOversold
	CategoryTrendCross
	CategoryPriceDeviation
	CategorySessionClose
	CategorySessionPause
	CategoryHoldTime
)

func (c Category) String() string {
	switch c {
	case CategoryStopLoss:
		return "stop_loss"
	case CategoryProfitTarget:
		return "profit_target"
	case CategoryVolumeDecay:
		return "volume_decay"
	case CategoryOverbought:
		return "overbought"
	case CategoryOversold:
		return "oversold"
	case CategoryTrendCross:
		return "trend_cross"
	case CategoryPriceDeviation:
		return "price_deviation"
	case CategorySessionClose:
		return "session_close"
	case CategorySessionPause:
		return "session_pause"
	case CategoryHoldTime:
		return "hold_time"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Signal is one piece of categorized, strength-rated exit evidence.
// Immutable once produced; a fresh set is computed every poll cycle.
type Signal struct {
	Category Category
	Strength Strength
	Reason   string
	Evidence float64 // the numeric observation that produced the signal
}

// Set is the full signal collection for one poll cycle.
type Set struct {
	Signals []Signal
}

func (s *Set) add(cat Category, strength Strength, evidence float64, format string, args ...any) {
	if strength == None {
		return
	}
	s.Signals = append(s.Signals, Signal{
		Category: cat,
		Strength: strength,
		Reason:   fmt.Sprintf(format, args...),
		Evidence: evidence,
	})
}

// Strongest returns the maximum-strength signal, ties broken by category
// priority. ok is false for an empty set.
func (s Set) Strongest() (best Signal, ok bool) {
	for _, sig := range s.Signals {
		if !ok ||
			sig.Strength > best.Strength ||
			(sig.Strength == best.Strength && sig.Category < best.Category) {
			best = sig
			ok = true
		}
	}
	return best, ok
}

// CountAtLeast returns how many signals are at or above the given strength.
func (s Set) CountAtLeast(min Strength) int {
	n := 0
	for _, sig := range s.Signals {
		if sig.Strength >= min {
			n++
		}
	}
	return n
}

// AtLeast returns the signals at or above the given strength, in detection order.
func (s Set) AtLeast(min Strength) []Signal {
	var out []Signal
	for _, sig := range s.Signals {
		if sig.Strength >= min {
			out = append(out, sig)
		}
	}
	return out
}

// ImmediateExit reports whether the set alone justifies exiting without a consult.
func (s Set) ImmediateExit() bool {
	if best, ok := s.Strongest(); ok && best.Strength == Strong {
		return true
	}
	return s.CountAtLeast(Moderate) >= moderateExitCount
}

// NeedsAdvisorConsult reports whether the set is ambiguous enough to escalate.
func (s Set) NeedsAdvisorConsult() bool {
	best, ok := s.Strongest()
	return ok && best.Strength == Moderate && !s.ImmediateExit()
}

// NoActionNeeded reports whether nothing stronger than WEAK is present.
func (s Set) NoActionNeeded() bool {
	best, ok := s.Strongest()
	return !ok || best.Strength <= Weak
}

// Reasons returns the reason strings of the given signals.
func Reasons(signals []Signal) []string {
	out := make([]string, 0, len(signals))
	for _, sig := range signals {
		out = append(out, sig.Reason)
	}
	return out
}
