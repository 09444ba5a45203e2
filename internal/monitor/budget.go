package monitor

import "sync"

// EscalationBudget caps advisor consultations per position. It bounds cost,
// not throughput: once exhausted the policy degrades to rules-only.
type EscalationBudget struct {
	mu       sync.Mutex
	used     int
	max      int
	notified bool
}

func NewEscalationBudget(max int) *EscalationBudget {
	if max < 0 {
		max = 0
	}
	return &EscalationBudget{max: max}
}

// Consume takes one unit. Returns false without consuming when the budget
// is already exhausted.
func (b *EscalationBudget) Consume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.max {
		return false
	}
	b.used++
	return true
}

func (b *EscalationBudget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used >= b.max
}

func (b *EscalationBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

func (b *EscalationBudget) Max() int { return b.max }

// MarkExhaustionNotified returns true exactly once, so the degradation
// notice is sent a single time per position.
func (b *EscalationBudget) MarkExhaustionNotified() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notified {
		return false
	}
	b.notified = true
	return true
}
