package service

import (
	"context"
	"sync"
	"time"

	dErrors "clearfund/pkg/domain-errors"
)

// defaultTxTimeout bounds how long a lifecycle transaction may run.
const defaultTxTimeout = 5 * time.Second

// inMemoryStoreTx is the coarse-lock transactional boundary used with the
// in-memory stores. It serializes all lifecycle transitions, which the unit
// tests and local development mode can afford.
type inMemoryStoreTx struct {
	mu      sync.Mutex
	timeout time.Duration
}

func newInMemoryStoreTx() *inMemoryStoreTx {
	return &inMemoryStoreTx{timeout: defaultTxTimeout}
}

// NewInMemoryStoreTx exposes the coarse-lock boundary for wiring without
// Postgres.
func NewInMemoryStoreTx() StoreTx {
	return newInMemoryStoreTx()
}

func (t *inMemoryStoreTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}
