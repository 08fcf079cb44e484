package testutil

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/andyle182810/tessera-sdk/postgres"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultPostgresUser              = "testuser"
	defaultPostgresPassword          = "testpass"
	defaultPostgresDatabase          = "testdb"
	defaultPostgresImage             = "postgres:18-alpine3.22"
	defaultPostgresPort     nat.Port = "5432"
)

const (
	startupTimeout    = 60 * time.Second
	startupOccurrence = 2
)

type PostgresTestContainer struct {
	Container testcontainers.Container
	User      string
	Password  string
	Host      string
	Database  string
	Port      nat.Port
}

func (c *PostgresTestContainer) ConnectionString() string {
	hostPort := net.JoinHostPort(c.Host, c.Port.Port())

	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		c.User, c.Password, hostPort, c.Database)
}

func SetupPostgresContainer(t *testing.T) *PostgresTestContainer {
	t.Helper()

	ctx := t.Context()

	container, err := tcpostgres.Run(ctx,
		defaultPostgresImage,
		tcpostgres.WithDatabase(defaultPostgresDatabase),
		tcpostgres.WithUsername(defaultPostgresUser),
		tcpostgres.WithPassword(defaultPostgresPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(startupOccurrence).
				WithStartupTimeout(startupTimeout),
		),
	)

	t.Cleanup(func() {
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, defaultPostgresPort)
	require.NoError(t, err)

	return &PostgresTestContainer{
		Container: container,
		User:      defaultPostgresUser,
		Password:  defaultPostgresPassword,
		Host:      host,
		Database:  defaultPostgresDatabase,
		Port:      mappedPort,
	}
}

// NewPostgres starts a container, applies the given migrations and returns
// an open pool that is closed when the test ends.
func NewPostgres(t *testing.T, migrations ...postgres.Migrations) *postgres.Postgres {
	t.Helper()

	container := SetupPostgresContainer(t)
	dbURL := container.ConnectionString()

	for _, m := range migrations {
		require.NoError(t, postgres.MigrateUp(dbURL, m))
	}

	pg, err := postgres.New(t.Context(), &postgres.Config{
		URL:                   dbURL,
		MaxConnection:         5,
		MinConnection:         1,
		MaxConnectionIdleTime: time.Minute,
		HealthCheckPeriod:     10 * time.Second,
		LogLevel:              tracelog.LogLevelWarn,
	})
	require.NoError(t, err)

	t.Cleanup(pg.Close)

	return pg
}
