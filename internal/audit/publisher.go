package audit

import (
	"context"
	"log/slog"
	"time"
)

// Publisher captures structured audit events. By default writes are
// synchronous; WithBuffer switches to a queue drained by Run.
type Publisher struct {
	store        Store
	logger       *slog.Logger
	queue        chan Event
	drainTimeout time.Duration
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithBuffer makes Emit enqueue instead of writing. When the queue is full
// the event is dropped and logged; Emit never blocks the request.
func WithBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = make(chan Event, size)
		}
	}
}

// WithDrainTimeout bounds the flush of queued events once Run is cancelled.
func WithDrainTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.drainTimeout = d
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if p.queue == nil {
		return p.store.Append(ctx, event)
	}
	select {
	case p.queue <- event:
	default:
		if p.logger != nil {
			p.logger.WarnContext(ctx, "audit queue full, dropping event",
				"action", string(event.Action),
				"session_id", event.SessionID,
			)
		}
	}
	return nil
}

// Run drains the buffered queue into the store until ctx is cancelled, then
// flushes what is left within the drain timeout. For synchronous publishers it
// only waits for ctx. Cancel ctx only once nothing else can Emit, or late
// events stay in the queue.
func (p *Publisher) Run(ctx context.Context) error {
	if p.queue == nil {
		<-ctx.Done()
		return nil
	}
	return NewWorker(p.store, p.queue, p.logger, p.drainTimeout).Run(ctx)
}
