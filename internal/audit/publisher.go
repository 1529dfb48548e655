package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	id "clearfund/pkg/domain"
)

// Store persists audit events. Append-only; there is no update or delete.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByCase(ctx context.Context, caseID id.CaseID) ([]Event, error)
}

// Sink receives a copy of every persisted event for downstream retention
// pipelines (Kafka). Sink failures are logged, never propagated: losing a
// fanout copy must not fail the financial write that emitted the event.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Publisher captures structured audit events. It persists through the Store
// and optionally fans out to a Sink. With an async buffer configured, Emit
// enqueues and a single worker drains; Close flushes the queue.
type Publisher struct {
	store  Store
	sink   Sink
	logger *slog.Logger

	queue chan Event
	wg    sync.WaitGroup
	once  sync.Once
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithSink attaches a fanout sink.
func WithSink(sink Sink) PublisherOption {
	return func(p *Publisher) {
		p.sink = sink
	}
}

// WithPublisherLogger sets the logger used for sink and drop diagnostics.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithAsyncBuffer switches the publisher to buffered async mode with the given
// queue capacity. When the buffer is full, Emit drops the event and logs it
// rather than blocking a financial write.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = make(chan Event, size)
		}
	}
}

// NewPublisher constructs a Publisher. Without WithAsyncBuffer it writes
// synchronously within the caller's transaction context.
func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an event. In sync mode the append shares the caller's context
// (and therefore its transaction, if any); in async mode the event is queued
// and persisted outside the transaction.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if p.queue != nil {
		select {
		case p.queue <- event:
		default:
			p.logger.Warn("audit buffer full, dropping event",
				"action", event.Action, "case_id", event.CaseID.String())
		}
		return nil
	}

	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	p.fanout(ctx, event)
	return nil
}

// List returns the recorded events for a case, oldest first.
func (p *Publisher) List(ctx context.Context, caseID id.CaseID) ([]Event, error) {
	return p.store.ListByCase(ctx, caseID)
}

// Close drains the async queue. Safe to call multiple times.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.queue != nil {
			close(p.queue)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.queue {
		ctx := context.Background()
		if err := p.store.Append(ctx, event); err != nil {
			p.logger.Error("audit append failed",
				"action", event.Action, "case_id", event.CaseID.String(), "error", err)
			continue
		}
		p.fanout(ctx, event)
	}
}

func (p *Publisher) fanout(ctx context.Context, event Event) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Publish(ctx, event); err != nil {
		p.logger.Error("audit sink publish failed",
			"action", event.Action, "case_id", event.CaseID.String(), "error", err)
	}
}
