package advisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/gateway/broker"
	"vigil/internal/gateway/marketdata"
	"vigil/internal/signal"
)

func TestParseRecommendationPlainObject(t *testing.T) {
	rec, err := ParseRecommendation(`{"should_exit": true, "reason": "volume collapsing into the close"}`)
	require.NoError(t, err)
	assert.True(t, rec.ShouldExit)
	assert.Equal(t, "volume collapsing into the close", rec.Reason)
}

func TestParseRecommendationInsideCodeFence(t *testing.T) {
	raw := "Based on the signals I would hold.\n```json\n{\"should_exit\": false, \"reason\": \"signals are transient\"}\n```\nLet me know if you need more."
	rec, err := ParseRecommendation(raw)
	require.NoError(t, err)
	assert.False(t, rec.ShouldExit)
	assert.Equal(t, "signals are transient", rec.Reason)
}

func TestParseRecommendationRejectsBadShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"prose only", "I think you should exit."},
		{"missing reason", `{"should_exit": true}`},
		{"wrong type", `{"should_exit": "yes", "reason": "x"}`},
		{"empty reason", `{"should_exit": true, "reason": ""}`},
		{"truncated", `{"should_exit": true, "reason": "cut`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRecommendation(tc.raw)
			assert.Error(t, err)
		})
	}
}

type stubCaller struct {
	raw string
	err error
}

func (s stubCaller) Call(context.Context, string, string) (string, error) {
	return s.raw, s.err
}

func TestConsultParsesStructuredAnswer(t *testing.T) {
	c := NewConsultant(stubCaller{raw: `{"should_exit": true, "reason": "momentum gone"}`})
	pos := broker.Position{
		Symbol: "BTCUSDT", Side: "long", Quantity: 1,
		EntryPrice: 100, EntryAt: time.Now().Add(-time.Hour),
	}
	dec := signal.Decision{
		Action: signal.ActionAskAdvisor,
		Signals: []signal.Signal{
			{Category: signal.CategoryVolumeDecay, Strength: signal.Moderate, Reason: "volume 35% of entry"},
		},
	}
	rec, err := c.Consult(context.Background(), pos, marketdata.Quote{Price: 99}, dec)
	require.NoError(t, err)
	assert.True(t, rec.ShouldExit)
}

func TestConsultMalformedOutputIsAnError(t *testing.T) {
	c := NewConsultant(stubCaller{raw: "EXIT NOW!!!"})
	_, err := c.Consult(context.Background(), broker.Position{Symbol: "BTCUSDT"}, marketdata.Quote{}, signal.Decision{})
	assert.Error(t, err, "malformed advice must surface as an error so the caller holds")
}
