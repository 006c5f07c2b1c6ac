package db

import (
	"context"
	"database/sql"
)

// WithTx runs fn in a transaction and commits it, retrying the whole
// transaction on transient errors. fn may run more than once.
func WithTx(ctx context.Context, conn *sql.DB, cfg RetryConfig, fn func(tx *sql.Tx) error) error {
	return Retry(ctx, cfg, func() error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}
