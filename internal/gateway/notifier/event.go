package notifier

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders events for throttling: critical events are never dropped
// or rate limited.
type Priority int

const (
	PriorityInfo Priority = iota
	PriorityWarning
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Event is one notification produced by the engine. Events carry a trace ID
// so the audit trail can be joined back to the decision that caused them.
type Event struct {
	Type     string
	Symbol   string
	Priority Priority
	Title    string
	Body     string
	Fields   map[string]any
	Photo    []byte
	TraceID  string
	At       time.Time
}

// NewEvent fills in the trace ID and timestamp.
func NewEvent(typ, symbol string, prio Priority, title string) Event {
	return Event{
		Type:     typ,
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Priority: prio,
		Title:    title,
		TraceID:  uuid.NewString(),
		At:       time.Now().UTC(),
	}
}

// Render formats the event as a structured message for text sinks.
func (e Event) Render() string {
	msg := StructuredMessage{
		Icon:      e.icon(),
		Title:     e.Title,
		Timestamp: e.At,
	}
	var lines []string
	if e.Symbol != "" {
		lines = append(lines, "symbol: "+e.Symbol)
	}
	if e.Body != "" {
		lines = append(lines, e.Body)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %v", k, e.Fields[k]))
		}
	}
	if len(lines) > 0 {
		msg.Sections = []MessageSection{{Lines: lines}}
	}
	msg.Footer = "trace " + e.TraceID
	return msg.RenderMarkdown()
}

func (e Event) icon() string {
	switch e.Priority {
	case PriorityCritical:
		return "🚨"
	case PriorityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
