package notifier

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"vigil/internal/eventlog"
	"vigil/internal/logger"
)

const defaultQueueSize = 64

// Dispatcher fans engine events out to the configured sink and the audit
// log on a single goroutine. Info and warning events pass through a rate
// limiter; critical events bypass it. When the queue is full, non-critical
// events are dropped with a log line rather than blocking a monitor.
type Dispatcher struct {
	sink    TextNotifier
	log     *eventlog.Store
	limiter *rate.Limiter

	queue chan Event

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// NewDispatcher wires a sink and an optional event log. A nil sink means
// events are only persisted. ratePerMin caps non-critical deliveries.
func NewDispatcher(sink TextNotifier, log *eventlog.Store, ratePerMin int) *Dispatcher {
	if ratePerMin <= 0 {
		ratePerMin = 20
	}
	return &Dispatcher{
		sink:    sink,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), ratePerMin),
		queue:   make(chan Event, defaultQueueSize),
		done:    make(chan struct{}),
	}
}

// Publish enqueues an event. Critical events block until queued so they are
// never lost; anything else is dropped when the buffer is full.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	if ev.Priority == PriorityCritical {
		select {
		case d.queue <- ev:
		case <-ctx.Done():
		}
		return
	}
	select {
	case d.queue <- ev:
	default:
		logger.Warnf("notify queue full, dropped %s event for %s", ev.Type, ev.Symbol)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// left before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()
	defer close(d.done)

	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.queue:
					d.deliver(context.Background(), ev)
				default:
					return nil
				}
			}
		}
	}
}

// Done is closed once Run has drained and returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	d.persist(ctx, ev)
	if d.sink == nil {
		return
	}
	if ev.Priority != PriorityCritical {
		if err := d.limiter.Wait(ctx); err != nil {
			logger.Warnf("notify rate wait aborted for %s: %v", ev.Symbol, err)
			return
		}
	}
	if len(ev.Photo) > 0 {
		if ps, ok := d.sink.(PhotoNotifier); ok {
			if err := ps.SendPhoto(ev.Render(), ev.Photo); err == nil {
				return
			} else {
				logger.Warnf("photo delivery failed for %s, falling back to text: %v", ev.Symbol, err)
			}
		}
	}
	if err := d.sink.SendText(ev.Render()); err != nil {
		logger.Errorf("notify delivery failed for %s: %v", ev.Symbol, err)
	}
}

func (d *Dispatcher) persist(ctx context.Context, ev Event) {
	if d.log == nil {
		return
	}
	_, err := d.log.Append(ctx, eventlog.Record{
		TraceID:  ev.TraceID,
		TS:       ev.At.UnixMilli(),
		Type:     ev.Type,
		Symbol:   ev.Symbol,
		Priority: ev.Priority.String(),
		Title:    ev.Title,
		Body:     ev.Body,
		Fields:   ev.Fields,
	})
	if err != nil {
		logger.Warnf("event log append failed: %v", err)
	}
}

// LogSink prints events through the structured logger. Used when no
// external channel is configured.
type LogSink struct{}

func (LogSink) SendText(text string) error {
	logger.Infof("notify: %s", text)
	return nil
}
