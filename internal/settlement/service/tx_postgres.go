package service

import (
	"context"
	"database/sql"
	"time"

	dErrors "escrow/pkg/domain-errors"
	txcontext "escrow/pkg/platform/tx"
)

// PostgresTx runs settlement work in one SQL transaction. The postgres stores
// join it through the context, and row locks taken with SELECT ... FOR UPDATE
// serialize concurrent operations on the same item.
type PostgresTx struct {
	db      *sql.DB
	stores  Stores
	timeout time.Duration
}

func NewPostgresTx(db *sql.DB, stores Stores, timeout time.Duration) *PostgresTx {
	return &PostgresTx{db: db, stores: stores, timeout: timeout}
}

func (t *PostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = DefaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), t.stores); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "commit transaction")
	}
	return nil
}
