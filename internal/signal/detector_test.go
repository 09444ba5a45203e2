package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/gateway/broker"
	"vigil/internal/gateway/marketdata"
	"vigil/internal/session"
)

func basePosition(entry float64) broker.Position {
	return broker.Position{
		Symbol:     "BTCUSDT",
		Side:       "long",
		Quantity:   1,
		EntryPrice: entry,
		EntryAt:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func quoteAt(price float64) marketdata.Quote {
	return marketdata.Quote{Symbol: "BTCUSDT", Price: price}
}

func calmTechnicals() marketdata.Technicals {
	// MACD above signal so no crossover fires; RSI mid-range.
	return marketdata.Technicals{RSI: 50, Trend: 1, TrendSignal: 0.5}
}

func openSession() session.Status {
	return session.Status{Open: true}
}

func detectAt(t *testing.T, pos broker.Position, q marketdata.Quote, tech marketdata.Technicals, sess session.Status) Set {
	t.Helper()
	return Detect(pos, q, tech, sess, pos.EntryAt.Add(30*time.Minute))
}

func findCategory(set Set, cat Category) (Signal, bool) {
	for _, sig := range set.Signals {
		if sig.Category == cat {
			return sig, true
		}
	}
	return Signal{}, false
}

func TestStopLossBands(t *testing.T) {
	cases := []struct {
		name  string
		price float64
		want  Strength
	}{
		{"deep loss is strong", 96.5, Strong},
		{"exactly -3pct is strong", 97, Strong},
		{"between -3 and -2 is moderate", 97.5, Moderate},
		{"exactly -2pct is moderate", 98, Moderate},
		{"between -2 and -1 is weak", 98.5, Weak},
		{"exactly -1pct is weak", 99, Weak},
		{"inside -1pct is none", 99.5, None},
		{"flat is none", 100, None},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			set := detectAt(t, basePosition(100), quoteAt(tc.price), calmTechnicals(), openSession())
			sig, found := findCategory(set, CategoryStopLoss)
			if tc.want == None {
				assert.False(t, found, "no stop-loss signal expected at price %.2f", tc.price)
				return
			}
			require.True(t, found, "stop-loss signal expected at price %.2f", tc.price)
			assert.Equal(t, tc.want, sig.Strength)
		})
	}
}

func TestStopLossBandsShortSide(t *testing.T) {
	pos := basePosition(100)
	pos.Side = "short"
	// Price rising 3% against a short is the same adverse band.
	set := detectAt(t, pos, quoteAt(103), calmTechnicals(), openSession())
	sig, found := findCategory(set, CategoryStopLoss)
	require.True(t, found)
	assert.Equal(t, Strong, sig.Strength)
}

func TestProfitTargetBands(t *testing.T) {
	cases := []struct {
		price float64
		want  Strength
	}{
		{108.5, Moderate},
		{108, Moderate},
		{106, Weak},
		{105, Weak},
		{104, None},
	}
	for _, tc := range cases {
		set := detectAt(t, basePosition(100), quoteAt(tc.price), calmTechnicals(), openSession())
		sig, found := findCategory(set, CategoryProfitTarget)
		if tc.want == None {
			assert.False(t, found, "price %.2f", tc.price)
			continue
		}
		require.True(t, found, "price %.2f", tc.price)
		assert.Equal(t, tc.want, sig.Strength, "price %.2f", tc.price)
	}
}

func TestVolumeDecayRequiresBaseline(t *testing.T) {
	pos := basePosition(100)
	q := quoteAt(100)
	q.Volume = 10

	set := detectAt(t, pos, q, calmTechnicals(), openSession())
	_, found := findCategory(set, CategoryVolumeDecay)
	assert.False(t, found, "no baseline, no decay signal")

	pos.EntryVolume = 100
	for ratio, want := range map[float64]Strength{
		0.20: Strong,
		0.35: Moderate,
		0.55: Weak,
		0.80: None,
	} {
		q.Volume = ratio * pos.EntryVolume
		set := detectAt(t, pos, q, calmTechnicals(), openSession())
		sig, found := findCategory(set, CategoryVolumeDecay)
		if want == None {
			assert.False(t, found, "ratio %.2f", ratio)
			continue
		}
		require.True(t, found, "ratio %.2f", ratio)
		assert.Equal(t, want, sig.Strength, "ratio %.2f", ratio)
	}
}

func TestOscillatorBands(t *testing.T) {
	for rsi, want := range map[float64]Strength{
		90: Strong,
		80: Moderate,
		72: Weak,
		50: None,
	} {
		tech := calmTechnicals()
		tech.RSI = rsi
		set := detectAt(t, basePosition(100), quoteAt(100), tech, openSession())
		sig, found := findCategory(set, CategoryOverbought)
		if want == None {
			assert.False(t, found, "rsi %.0f", rsi)
			continue
		}
		require.True(t, found, "rsi %.0f", rsi)
		assert.Equal(t, want, sig.Strength, "rsi %.0f", rsi)
	}
}

func TestOversoldIsInformationalOnly(t *testing.T) {
	tech := calmTechnicals()
	tech.RSI = 20
	set := detectAt(t, basePosition(100), quoteAt(100), tech, openSession())
	sig, found := findCategory(set, CategoryOversold)
	require.True(t, found)
	assert.Equal(t, Weak, sig.Strength)

	dec := Decide(set)
	assert.Equal(t, ActionHold, dec.Action, "oversold alone never exits a long")
}

func TestTrendCross(t *testing.T) {
	tech := calmTechnicals()
	tech.Trend = 0.4
	tech.TrendSignal = 0.6
	set := detectAt(t, basePosition(100), quoteAt(100), tech, openSession())
	sig, found := findCategory(set, CategoryTrendCross)
	require.True(t, found)
	assert.Equal(t, Moderate, sig.Strength, "bearish cross with positive trend")

	tech.Trend = -0.2
	tech.TrendSignal = -0.1
	set = detectAt(t, basePosition(100), quoteAt(100), tech, openSession())
	sig, found = findCategory(set, CategoryTrendCross)
	require.True(t, found)
	assert.Equal(t, Weak, sig.Strength, "bearish cross in negative territory")
}

func TestPriceDeviationBands(t *testing.T) {
	tech := calmTechnicals()
	tech.ReferenceLevel = 100
	for price, want := range map[float64]Strength{
		97.5: Moderate,
		98:   Moderate,
		98.5: Weak,
		99.5: None,
	} {
		set := detectAt(t, basePosition(100), quoteAt(price), tech, openSession())
		sig, found := findCategory(set, CategoryPriceDeviation)
		if want == None {
			assert.False(t, found, "price %.2f", price)
			continue
		}
		require.True(t, found, "price %.2f", price)
		assert.Equal(t, want, sig.Strength, "price %.2f", price)
	}
}

func TestSessionClockBands(t *testing.T) {
	for ttc, want := range map[time.Duration]Strength{
		5 * time.Minute:  Strong,
		20 * time.Minute: Moderate,
		45 * time.Minute: Weak,
		90 * time.Minute: None,
	} {
		sess := session.Status{Open: true, HasClose: true, TimeToClose: ttc}
		set := detectAt(t, basePosition(100), quoteAt(100), calmTechnicals(), sess)
		sig, found := findCategory(set, CategorySessionClose)
		if want == None {
			assert.False(t, found, "ttc %s", ttc)
			continue
		}
		require.True(t, found, "ttc %s", ttc)
		assert.Equal(t, want, sig.Strength, "ttc %s", ttc)
	}
}

func TestPreBreakEscalatesInLastQuarter(t *testing.T) {
	sess := session.Status{
		Open: true, HasClose: true, TimeToClose: 4 * time.Hour,
		PreBreak: true, PreBreakWindow: 15 * time.Minute,
	}
	sess.PreBreakRemaining = 10 * time.Minute
	set := detectAt(t, basePosition(100), quoteAt(100), calmTechnicals(), sess)
	sig, found := findCategory(set, CategorySessionPause)
	require.True(t, found)
	assert.Equal(t, Moderate, sig.Strength)

	sess.PreBreakRemaining = 3 * time.Minute
	set = detectAt(t, basePosition(100), quoteAt(100), calmTechnicals(), sess)
	sig, found = findCategory(set, CategorySessionPause)
	require.True(t, found)
	assert.Equal(t, Strong, sig.Strength)
}

func TestHoldTimeBands(t *testing.T) {
	pos := basePosition(100)
	for held, want := range map[time.Duration]Strength{
		4 * time.Hour:            Moderate,
		2*time.Hour + time.Minute: Weak,
		time.Hour:                None,
	} {
		set := Detect(pos, quoteAt(100), calmTechnicals(), openSession(), pos.EntryAt.Add(held))
		sig, found := findCategory(set, CategoryHoldTime)
		if want == None {
			assert.False(t, found, "held %s", held)
			continue
		}
		require.True(t, found, "held %s", held)
		assert.Equal(t, want, sig.Strength, "held %s", held)
	}
}

func TestUnknownEntryPriceYieldsEmptySet(t *testing.T) {
	pos := basePosition(0)
	set := detectAt(t, pos, quoteAt(100), calmTechnicals(), openSession())
	assert.Empty(t, set.Signals)
	assert.True(t, set.NoActionNeeded())
}

func TestStrongestIsMonotonic(t *testing.T) {
	set := Set{}
	set.add(CategoryOverbought, Weak, 72, "RSI 72")
	before, ok := set.Strongest()
	require.True(t, ok)

	// Adding any signal never decreases the returned strength.
	for _, s := range []Strength{Weak, Moderate, Strong} {
		grown := Set{Signals: append([]Signal(nil), set.Signals...)}
		grown.add(CategoryVolumeDecay, s, 0.5, "added")
		after, ok := grown.Strongest()
		require.True(t, ok)
		assert.GreaterOrEqual(t, int(after.Strength), int(before.Strength))
	}
}

func TestStrongestTieBreaksByCategoryPriority(t *testing.T) {
	set := Set{}
	set.add(CategoryOverbought, Moderate, 80, "RSI 80")
	set.add(CategoryStopLoss, Moderate, -0.02, "P&L -2%%")
	best, ok := set.Strongest()
	require.True(t, ok)
	assert.Equal(t, CategoryStopLoss, best.Category, "P&L stop-loss outranks technicals on ties")
}
