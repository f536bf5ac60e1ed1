package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

type Tx interface {
	Queryer
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction wraps sqlx.Tx. Only the call that opened it may commit or roll it back;
// nested GetTx calls reuse it and their Commit/Rollback are no-ops.
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:     tx,
		logger: logger,
	}
}

func TxFromContext(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txKey).(Tx)
	if !ok || tx == nil || !tx.IsOpen() {
		return nil, false
	}
	return tx, true
}

func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if existing, ok := TxFromContext(ctx); ok {
		return ctx, nestedTx{Tx: existing}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction")
	}

	newTx := NewTx(tx, logger)
	ctx = context.WithValue(ctx, txKey, Tx(newTx))
	return ctx, newTx, nil
}

func (t *Transaction) IsOpen() bool {
	return !t.isClosed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.isClosed {
		return nil // already committed or rolled back
	}

	if err := t.Tx.Rollback(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction")
	}

	t.isClosed = true
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction")
	}

	t.isClosed = true
	return nil
}

// nestedTx is handed out when ctx already carries an open transaction.
type nestedTx struct {
	Tx
}

func (nestedTx) Commit(context.Context) error   { return nil }
func (nestedTx) Rollback(context.Context) error { return nil }

// WithinTx runs fn inside a transaction, committing when fn returns nil.
func WithinTx(ctx context.Context, db DB, fn func(ctx context.Context) error) error {
	ctxTx, tx, err := db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctxTx)

	if err := fn(ctxTx); err != nil {
		return err
	}

	return tx.Commit(ctxTx)
}
