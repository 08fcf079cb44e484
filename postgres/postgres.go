package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxzerolog "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnectionPoolNil = errors.New("postgres: connection pool is nil")
	ErrNilConfig         = errors.New("postgres: configuration must not be nil")
	ErrMissingURL        = errors.New("postgres: url is required")
)

const (
	DefaultMaxConnection         = 10
	DefaultMinConnection         = 1
	DefaultMaxConnectionIdleTime = 5 * time.Minute
	DefaultHealthCheckPeriod     = time.Minute
)

// DBPool is the subset of *pgxpool.Pool used by this module. It also
// satisfies pgxscan.Querier.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var _ DBPool = (*pgxpool.Pool)(nil)

type Config struct {
	URL                   string
	MaxConnection         int32
	MinConnection         int32
	MaxConnectionIdleTime time.Duration
	HealthCheckPeriod     time.Duration
	LogLevel              tracelog.LogLevel
}

func (c *Config) withDefaults() *Config {
	cfg := *c

	if cfg.MaxConnection <= 0 {
		cfg.MaxConnection = DefaultMaxConnection
	}

	if cfg.MinConnection < 0 {
		cfg.MinConnection = DefaultMinConnection
	}

	if cfg.MaxConnectionIdleTime <= 0 {
		cfg.MaxConnectionIdleTime = DefaultMaxConnectionIdleTime
	}

	if cfg.HealthCheckPeriod <= 0 {
		cfg.HealthCheckPeriod = DefaultHealthCheckPeriod
	}

	return &cfg
}

type Postgres struct {
	DBPool
}

func New(ctx context.Context, cfg *Config) (*Postgres, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	if cfg.URL == "" {
		return nil, ErrMissingURL
	}

	cfg = cfg.withDefaults()

	pgConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse url: %w", err)
	}

	tracerLogger := log.Logger.With().Str("component", "pgx_tracer").Logger()
	logger := pgxzerolog.NewLogger(tracerLogger, pgxzerolog.WithoutPGXModule())

	pgConfig.MaxConns = cfg.MaxConnection
	pgConfig.MinConns = cfg.MinConnection
	pgConfig.MaxConnIdleTime = cfg.MaxConnectionIdleTime
	pgConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	pgConfig.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   logger,
		LogLevel: cfg.LogLevel,
		Config:   nil,
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}

	return &Postgres{DBPool: pool}, nil
}

// NewWithPool wraps an existing pool, mainly for tests.
func NewWithPool(pool DBPool) *Postgres {
	return &Postgres{DBPool: pool}
}

func (p *Postgres) Stop(_ context.Context) error {
	if p.DBPool == nil {
		return ErrConnectionPoolNil
	}

	log.Info().Str("service_name", p.Name()).Msg("The PostgreSQL connection pool is being closed")
	p.DBPool.Close()

	return nil
}

func (p *Postgres) Name() string {
	return "postgres"
}
