package audit

import (
	"context"
	"log/slog"
	"time"
)

// DefaultDrainTimeout bounds how long queued events are flushed after the
// worker is told to stop.
const DefaultDrainTimeout = 5 * time.Second

// Worker consumes audit events from a channel and persists them.
type Worker struct {
	store        Store
	inbox        <-chan Event
	logger       *slog.Logger
	drainTimeout time.Duration
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger, drainTimeout time.Duration) *Worker {
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	return &Worker{store: store, inbox: inbox, logger: logger, drainTimeout: drainTimeout}
}

// Run persists events until ctx is cancelled or the inbox closes. Events
// still queued at cancellation are drained for at most the drain timeout.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.drainTimeout)
			defer cancel()
			w.drain(drainCtx)
			return nil
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			w.persist(ctx, event)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			if w.logger != nil && len(w.inbox) > 0 {
				w.logger.WarnContext(ctx, "audit drain timed out, dropping queued events",
					"remaining", len(w.inbox),
				)
			}
			return
		}
		select {
		case event, ok := <-w.inbox:
			if !ok {
				return
			}
			w.persist(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) persist(ctx context.Context, event Event) {
	if err := w.store.Append(ctx, event); err != nil && w.logger != nil {
		w.logger.ErrorContext(ctx, "failed to persist audit event",
			"action", string(event.Action),
			"session_id", event.SessionID,
			"error", err,
		)
	}
}
