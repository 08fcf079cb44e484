package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type TxFunc func(ctx context.Context, tx pgx.Tx) error

func (p *Postgres) WithTransaction(ctx context.Context, fn TxFunc) error {
	return p.WithTransactionOptions(ctx, pgx.TxOptions{}, fn) //nolint:exhaustruct
}

// WithTransactionOptions commits when fn returns nil and rolls back
// otherwise. A panic inside fn rolls back and is re-raised.
func (p *Postgres) WithTransactionOptions(ctx context.Context, txOptions pgx.TxOptions, fn TxFunc) error {
	if p.DBPool == nil {
		return ErrConnectionPoolNil
	}

	tx, err := p.DBPool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)

			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("postgres: transaction error: %w, rollback error: %w", err, rbErr)
		}

		return fmt.Errorf("postgres: transaction rolled back: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: failed to commit transaction: %w", err)
	}

	return nil
}

func (p *Postgres) WithReadOnlyTransaction(ctx context.Context, fn TxFunc) error {
	return p.WithTransactionOptions(ctx, pgx.TxOptions{ //nolint:exhaustruct
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadOnly,
	}, fn)
}
