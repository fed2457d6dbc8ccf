// Package publisher fronts an audit.Store with either synchronous writes or
// a bounded asynchronous buffer drained by a background worker.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "veriface/pkg/platform/audit"
	"veriface/pkg/platform/audit/worker"
	"veriface/pkg/platform/circuit"
)

var (
	ErrBufferFull  = errors.New("audit buffer full")
	ErrCircuitOpen = errors.New("audit store circuit open")
	ErrClosed      = errors.New("audit publisher closed")
	ErrNotListable = errors.New("audit store does not support queries")
)

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	breaker *circuit.Breaker
	sampler *Sampler

	mu     sync.RWMutex
	buffer chan audit.Event
	closed bool
	wg     sync.WaitGroup
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithAsyncBuffer makes Emit enqueue into a buffer of size n instead of
// writing through. Emit fails with ErrBufferFull when the buffer is full.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buffer = make(chan audit.Event, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithBreaker stops writes to a failing store until it recovers. Events
// emitted while the circuit is open are dropped.
func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		p.breaker = b
	}
}

// WithSampler drops a share of operations-category events before they are
// persisted.
func WithSampler(sampler *Sampler) Option {
	return func(p *Publisher) {
		p.sampler = sampler
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		w := worker.NewWorker(guardedStore{p}, p.buffer, worker.WithLogger(p.logger))
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			// Run returns nil once Close has drained the buffer.
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit records an event, stamping its ID and Timestamp when unset.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.sampler != nil && event.Category == audit.CategoryOperations && !p.sampler.Keep(event.Action) {
		p.metrics.IncSampledOut()
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if p.buffer == nil {
		return p.persist(ctx, event)
	}
	select {
	case p.buffer <- event:
		p.metrics.IncEmitted(string(event.Category))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.metrics.IncDropped()
		if p.logger != nil {
			p.logger.Warn("audit buffer full, dropping event",
				"action", event.Action,
				"request_id", event.RequestID,
			)
		}
		return ErrBufferFull
	}
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	if p.breaker != nil && !p.breaker.Allow() {
		p.metrics.IncCircuitBreakerDropped()
		return ErrCircuitOpen
	}
	err := p.store.Append(ctx, event)
	if p.breaker != nil {
		if err != nil {
			_, change := p.breaker.RecordFailure()
			if change.Opened {
				p.metrics.SetCircuitBreakerState(true)
				if p.logger != nil {
					p.logger.Error("audit store circuit opened", "error", err)
				}
			}
		} else if _, change := p.breaker.RecordSuccess(); change.Closed {
			p.metrics.SetCircuitBreakerState(false)
		}
	}
	if err != nil {
		p.metrics.IncPersistFailures()
		return err
	}
	if p.buffer == nil {
		p.metrics.IncEmitted(string(event.Category))
	}
	return nil
}

// List returns a request's events when the store supports queries.
func (p *Publisher) List(ctx context.Context, requestID string) ([]audit.Event, error) {
	l, ok := p.store.(audit.Lister)
	if !ok {
		return nil, ErrNotListable
	}
	return l.ListByRequest(ctx, requestID)
}

// Close stops accepting events and, in async mode, waits for the buffer to
// drain.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.buffer != nil {
		close(p.buffer)
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// guardedStore routes the worker's writes through the breaker.
type guardedStore struct {
	p *Publisher
}

func (g guardedStore) Append(ctx context.Context, event audit.Event) error {
	return g.p.persist(ctx, event)
}
