package worker

import (
	"context"
	"log/slog"

	audit "veriface/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. A failed
// append is reported through onError and the worker moves on; audit
// persistence never stalls the pipeline that produced the event.
type Worker struct {
	store   audit.Store
	inbox   <-chan audit.Event
	logger  *slog.Logger
	onError func(audit.Event, error)
}

// Option configures a Worker.
type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithErrorHandler is called for every event the store rejects.
func WithErrorHandler(fn func(audit.Event, error)) Option {
	return func(w *Worker) {
		w.onError = fn
	}
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, opts ...Option) *Worker {
	w := &Worker{store: store, inbox: inbox}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run persists events until the inbox is closed and drained, or ctx is
// done. It returns nil after a drain and ctx.Err() on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			w.persist(ctx, event)
		}
	}
}

func (w *Worker) persist(ctx context.Context, event audit.Event) {
	err := w.store.Append(ctx, event)
	if err == nil {
		return
	}
	if w.onError != nil {
		w.onError(event, err)
	}
	if w.logger != nil {
		w.logger.ErrorContext(ctx, "audit event persistence failed",
			"action", event.Action,
			"request_id", event.RequestID,
			"error", err,
		)
	}
}
