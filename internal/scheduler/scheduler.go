// Package scheduler provides the fixed-cadence loops the engine runs on:
// monitor polling and periodic reconciliation.
package scheduler

import (
	"context"
	"time"

	"vigil/internal/logger"
)

// IntervalScheduler runs a task on a fixed wall-clock aligned cadence.
// Alignment keeps multiple instances polling at predictable instants
// instead of drifting with task duration.
type IntervalScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewIntervalScheduler(interval, offset time.Duration) *IntervalScheduler {
	return &IntervalScheduler{
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

// Start blocks running task until ctx is cancelled. The task receives the
// loop context so long-running work stops with the scheduler.
func (s *IntervalScheduler) Start(ctx context.Context, task func(context.Context)) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("scheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	logger.Infof("scheduler: started interval=%s offset=%s run_immediately=%v",
		s.Interval, s.Offset, s.RunImmediately)

	if s.RunImmediately {
		task(ctx)
	}

	for {
		now := s.nowFn().UTC()
		wakeAt := now.Truncate(s.Interval).Add(s.Interval).Add(s.Offset)
		wait := wakeAt.Sub(now)
		if wait <= 0 {
			task(ctx)
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("scheduler: ctx done, exit")
			return
		case <-timer.C:
		}
		task(ctx)
	}
}
