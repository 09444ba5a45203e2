package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vigil/internal/gateway/broker"
	"vigil/internal/gateway/marketdata"
	"vigil/internal/signal"
)

// Caller abstracts the chat transport so tests can stub it.
type Caller interface {
	Call(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Consultant frames a position snapshot plus its warning signals as a
// question and parses the structured answer.
type Consultant struct {
	client Caller
}

func NewConsultant(client Caller) *Consultant {
	return &Consultant{client: client}
}

const systemPrompt = `You are a risk reviewer for an automated position exit engine.
You are asked only when rule-based signals are ambiguous. Answer with a single
JSON object and nothing else:
{"should_exit": <bool>, "reason": "<one sentence>"}
Do not suggest new trades. Do not change position size. Only exit or hold.`

// Consult asks whether the position should be closed given the current
// signals. Every error path is the caller's cue to hold.
func (c *Consultant) Consult(ctx context.Context, pos broker.Position, quote marketdata.Quote, dec signal.Decision) (Recommendation, error) {
	if c == nil || c.client == nil {
		return Recommendation{}, fmt.Errorf("advisor not configured")
	}
	raw, err := c.client.Call(ctx, systemPrompt, buildUserPrompt(pos, quote, dec))
	if err != nil {
		return Recommendation{}, err
	}
	return ParseRecommendation(raw)
}

func buildUserPrompt(pos broker.Position, quote marketdata.Quote, dec signal.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Position: %s %s qty=%.6f entry=%.6f\n", pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice)
	fmt.Fprintf(&b, "Held for: %s\n", time.Since(pos.EntryAt).Round(time.Minute))
	if quote.Price > 0 && pos.EntryPrice > 0 {
		fmt.Fprintf(&b, "Current price: %.6f (P&L %.2f%%)\n", quote.Price, pos.PnLPercent(quote.Price)*100)
	}
	if pos.EntryReason != "" {
		fmt.Fprintf(&b, "Entry rationale: %s\n", pos.EntryReason)
	}
	b.WriteString("Warning signals:\n")
	for _, sig := range dec.Signals {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", sig.Strength, sig.Category, sig.Reason)
	}
	b.WriteString("Should this position be exited now?")
	return b.String()
}
