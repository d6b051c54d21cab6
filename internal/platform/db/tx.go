package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Beginner is satisfied by *pgxpool.Pool and pgx.Tx.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxManager runs units of work inside a single database transaction.
type TxManager struct {
	conn Beginner
	opts pgx.TxOptions
}

// NewTxManager builds a manager on top of the pool with the given isolation level.
func NewTxManager(pool *pgxpool.Pool, iso pgx.TxIsoLevel) *TxManager {
	return newTxManager(pool, iso)
}

func newTxManager(conn Beginner, iso pgx.TxIsoLevel) *TxManager {
	if iso == "" {
		iso = pgx.RepeatableRead
	}
	return &TxManager{conn: conn, opts: pgx.TxOptions{IsoLevel: iso}}
}

// WithTx begins a transaction, executes fn and commits when fn returns nil.
// Any error, panic or context cancellation rolls the transaction back.
func (m *TxManager) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) (err error) {
	if m == nil || m.conn == nil {
		return errors.New("platform/db: tx manager not configured")
	}
	tx, err := m.conn.BeginTx(ctx, m.opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			// the caller's ctx may already be cancelled
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}
	return nil
}
