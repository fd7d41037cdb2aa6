package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikolayk812/marketcore/internal/port"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every
// repository works standalone or inside a coordinator transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) port.TxRunner {
	return &txRunner{pool: pool}
}

func (r *txRunner) Repos() port.RepositorySet {
	return newRepositorySet(r.pool)
}

// WithTx runs fn with repositories bound to one transaction. A returned
// error rolls the whole unit back, so an event dedup mark can never outlive
// a failed state change.
func (r *txRunner) WithTx(ctx context.Context, fn func(repos port.RepositorySet) error) (txErr error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pool.Begin: %w", err)
	}

	defer func() {
		if txErr != nil {
			rollbackErr := tx.Rollback(ctx)
			if rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
				txErr = errors.Join(txErr, fmt.Errorf("tx.Rollback: %w", rollbackErr))
			}
		}
	}()

	if err := fn(newRepositorySet(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx.Commit: %w", err)
	}

	return nil
}

func newRepositorySet(db querier) port.RepositorySet {
	return port.RepositorySet{
		Orders:   &orderRepository{db: db},
		Payments: &paymentRepository{db: db},
		Events:   &eventRepository{db: db},
		Effects:  &effectOutbox{db: db},
	}
}
