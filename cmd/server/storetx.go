package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "clearfund/pkg/domain-errors"
	txcontext "clearfund/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// postgresStoreTx runs a callback inside one database transaction. The
// transaction rides the context, so every store the callback touches joins
// it: an obligation update, its ledger entry, and the audit event commit or
// roll back together.
type postgresStoreTx struct {
	db      *sql.DB
	opts    *sql.TxOptions
	timeout time.Duration
}

func newPostgresStoreTx(db *sql.DB, timeout time.Duration) *postgresStoreTx {
	return &postgresStoreTx{db: db, timeout: timeout}
}

// newPostgresSnapshotTx builds a read-only repeatable-read boundary. Report
// section gathering uses it so the sections of one report cannot straddle a
// concurrent funding commit.
func newPostgresSnapshotTx(db *sql.DB, timeout time.Duration) *postgresStoreTx {
	return &postgresStoreTx{
		db:      db,
		opts:    &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
		timeout: timeout,
	}
}

func (t *postgresStoreTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, t.opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit()
}
