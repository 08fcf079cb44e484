package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/andyle182810/tessera-sdk/postgres"
	"github.com/andyle182810/tessera-sdk/testutil"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

var errIntentional = errors.New("intentional error")

func setupTransactionTable(t *testing.T) *postgres.Postgres {
	t.Helper()
	testutil.SkipIfShort(t)

	pg := testutil.NewPostgres(t)

	_, err := pg.Exec(t.Context(), `CREATE TABLE tx_test (id SERIAL PRIMARY KEY, value TEXT NOT NULL)`)
	require.NoError(t, err)

	return pg
}

func countRows(t *testing.T, pg *postgres.Postgres) int {
	t.Helper()

	var count int
	require.NoError(t, pg.QueryRow(t.Context(), "SELECT COUNT(*) FROM tx_test").Scan(&count))

	return count
}

func TestWithTransaction_Commits(t *testing.T) {
	t.Parallel()

	pg := setupTransactionTable(t)

	err := pg.WithTransaction(t.Context(), func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO tx_test (value) VALUES ($1)", "committed")

		return err
	})

	require.NoError(t, err)
	require.Equal(t, 1, countRows(t, pg))
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	t.Parallel()

	pg := setupTransactionTable(t)

	err := pg.WithTransaction(t.Context(), func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO tx_test (value) VALUES ($1)", "discarded"); err != nil {
			return err
		}

		return errIntentional
	})

	require.ErrorIs(t, err, errIntentional)
	require.Equal(t, 0, countRows(t, pg))
}

func TestWithTransaction_RollsBackOnPanic(t *testing.T) {
	t.Parallel()

	pg := setupTransactionTable(t)

	require.Panics(t, func() {
		_ = pg.WithTransaction(t.Context(), func(ctx context.Context, tx pgx.Tx) error {
			_, _ = tx.Exec(ctx, "INSERT INTO tx_test (value) VALUES ($1)", "panicked")

			panic("boom")
		})
	})

	require.Equal(t, 0, countRows(t, pg))
}

func TestWithReadOnlyTransaction_RejectsWrites(t *testing.T) {
	t.Parallel()

	pg := setupTransactionTable(t)

	err := pg.WithReadOnlyTransaction(t.Context(), func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO tx_test (value) VALUES ($1)", "read-only")

		return err
	})

	require.Error(t, err)
}

func TestWithTransaction_NilPool(t *testing.T) {
	t.Parallel()

	pg := postgres.NewWithPool(nil)

	err := pg.WithTransaction(t.Context(), func(context.Context, pgx.Tx) error { return nil })

	require.ErrorIs(t, err, postgres.ErrConnectionPoolNil)
}
