package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// queryer is the subset of *sql.DB and *sql.Tx the repositories use.
// Every repository method resolves its queryer through q(), which
// prefers a transaction stored in the context, so the same method
// works standalone and inside a TxRunner callback.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type txKey struct{}

// TxRunner runs a callback inside one database transaction.  The
// transaction travels in the context so repositories join it without
// threading *sql.Tx through every signature.
type TxRunner struct {
	db *sql.DB
}

// NewTxRunner returns a TxRunner bound to the given database.
func NewTxRunner(db *sql.DB) *TxRunner { return &TxRunner{db: db} }

// RunInTx begins a transaction, stores it in the context and invokes
// fn.  Any error from fn rolls the whole transaction back; nothing is
// ever partially visible.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// q returns the transaction from the context when present, otherwise
// the fallback database handle.
func q(ctx context.Context, db *sql.DB) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}
