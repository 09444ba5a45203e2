// Package reconcile is the watchdog that realigns the local ledger with the
// broker's authoritative state. It runs on its own cadence, independent of
// any monitor, which is what recovers positions after a process restart.
package reconcile

import "time"

// Classification partitions every inspected record into exactly one bucket.
type Classification int

const (
	ClassInSync Classification = iota
	ClassDriftNonTerminal
	ClassDriftTerminal
	ClassGhost
)

func (c Classification) String() string {
	switch c {
	case ClassInSync:
		return "in_sync"
	case ClassDriftNonTerminal:
		return "drift_nonterminal"
	case ClassDriftTerminal:
		return "drift_terminal"
	case ClassGhost:
		return "ghost"
	default:
		return "unknown"
	}
}

// Record is the outcome of inspecting one tracked position.
type Record struct {
	Symbol       string         `json:"symbol"`
	Class        Classification `json:"-"`
	ClassName    string         `json:"class"`
	BrokerStatus string         `json:"broker_status,omitempty"`
	LocalStatus  string         `json:"local_status"`
	Note         string         `json:"note,omitempty"`
	Err          string         `json:"error,omitempty"`
}

// Summary aggregates one reconciliation pass.
type Summary struct {
	At      time.Time `json:"at"`
	Synced  int       `json:"synced"`
	Updated int       `json:"updated"`
	Closed  int       `json:"closed"`
	Ghosts  int       `json:"ghosts"`
	Errors  int       `json:"errors"`
	Records []Record  `json:"records,omitempty"`
}
