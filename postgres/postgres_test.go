package postgres_test

import (
	"testing"

	"github.com/andyle182810/tessera-sdk/postgres"
	"github.com/andyle182810/tessera-sdk/testutil"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsMissingConfig(t *testing.T) {
	t.Parallel()

	_, err := postgres.New(t.Context(), nil)
	require.ErrorIs(t, err, postgres.ErrNilConfig)

	_, err = postgres.New(t.Context(), &postgres.Config{}) //nolint:exhaustruct
	require.ErrorIs(t, err, postgres.ErrMissingURL)
}

func TestNew_RejectsMalformedURL(t *testing.T) {
	t.Parallel()

	_, err := postgres.New(t.Context(), &postgres.Config{URL: "postgres://%zz"}) //nolint:exhaustruct
	require.ErrorContains(t, err, "failed to parse url")
}

func TestPostgres_ConnectsAndReportsHealthy(t *testing.T) {
	t.Parallel()
	testutil.SkipIfShort(t)

	pg := testutil.NewPostgres(t)

	require.NoError(t, pg.Ping(t.Context()))
	require.NoError(t, pg.HealthCheck(t.Context()))
	require.True(t, pg.IsHealthy(t.Context()))
	require.Equal(t, "postgres", pg.Name())
}

func TestHealthCheck_NilPool(t *testing.T) {
	t.Parallel()

	pg := postgres.NewWithPool(nil)

	require.ErrorIs(t, pg.HealthCheck(t.Context()), postgres.ErrConnectionPoolNil)
	require.False(t, pg.IsHealthy(t.Context()))
	require.ErrorIs(t, pg.Stop(t.Context()), postgres.ErrConnectionPoolNil)
}
