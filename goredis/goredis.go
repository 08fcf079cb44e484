// Package goredis owns the Redis connection shared by the introspection
// cache, the onboarding lock and the event streams.
package goredis

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultDialTimeout     = 5 * time.Second
	defaultIOTimeout       = 3 * time.Second
	defaultMinRetryBackoff = 8 * time.Millisecond
	defaultMaxRetryBackoff = 512 * time.Millisecond
	defaultPoolSize        = 10
	defaultMaxIdleConns    = 5
	defaultMinIdleConns    = 1
	defaultMaxRetries      = 3
	startupPingTimeout     = 5 * time.Second
	maxPort                = 65535
)

var (
	ErrConfigNil       = errors.New("goredis: configuration must not be nil")
	ErrClientClosed    = errors.New("goredis: client is closed")
	ErrInvalidHost     = errors.New("goredis: host is required")
	ErrInvalidPort     = errors.New("goredis: port must be between 1 and 65535")
	ErrInvalidDB       = errors.New("goredis: database number must be non-negative")
	ErrInvalidPoolSize = errors.New("goredis: pool size must not be negative")
	ErrInvalidCA       = errors.New("goredis: no certificate found in CA file")
	ErrNoConnections   = errors.New("goredis: pool has no open connections")
)

// Config selects the server either by URL (redis:// or rediss://) or by
// Host, Port, Password and DB. Zero durations and sizes take defaults.
type Config struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int
	// ClientName is reported by CLIENT LIST, usually the service name.
	ClientName string

	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolSize        int
	MaxIdleConns    int
	MinIdleConns    int
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration

	// TLSCAFile adds a private CA to the roots of a rediss:// connection, or
	// enables TLS on its own for Host/Port configs.
	TLSCAFile     string
	TLSSkipVerify bool
}

func (cfg *Config) validate() error {
	if cfg.PoolSize < 0 {
		return ErrInvalidPoolSize
	}

	if cfg.URL != "" {
		return nil
	}

	switch {
	case cfg.Host == "":
		return ErrInvalidHost
	case cfg.Port < 1 || cfg.Port > maxPort:
		return fmt.Errorf("%w: %d", ErrInvalidPort, cfg.Port)
	case cfg.DB < 0:
		return fmt.Errorf("%w: %d", ErrInvalidDB, cfg.DB)
	}

	return nil
}

// Redis is a runner service: Start fails when the server is unreachable and
// Stop closes the pool.
type Redis struct {
	*redis.Client
}

func New(cfg *Config) (*Redis, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt, err := options(cfg)
	if err != nil {
		return nil, err
	}

	return &Redis{Client: redis.NewClient(opt)}, nil
}

func options(cfg *Config) (*redis.Options, error) {
	opt := &redis.Options{ //nolint:exhaustruct
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("goredis: invalid url: %w", err)
		}

		opt = parsed
	}

	opt.ClientName = cfg.ClientName
	opt.DialTimeout = cmp.Or(cfg.DialTimeout, defaultDialTimeout)
	opt.ReadTimeout = cmp.Or(cfg.ReadTimeout, defaultIOTimeout)
	opt.WriteTimeout = cmp.Or(cfg.WriteTimeout, defaultIOTimeout)
	opt.PoolSize = cmp.Or(cfg.PoolSize, defaultPoolSize)
	opt.MaxIdleConns = cmp.Or(cfg.MaxIdleConns, defaultMaxIdleConns)
	opt.MinIdleConns = cmp.Or(cfg.MinIdleConns, defaultMinIdleConns)
	opt.MaxRetries = cmp.Or(cfg.MaxRetries, defaultMaxRetries)
	opt.MinRetryBackoff = cmp.Or(cfg.MinRetryBackoff, defaultMinRetryBackoff)
	opt.MaxRetryBackoff = cmp.Or(cfg.MaxRetryBackoff, defaultMaxRetryBackoff)

	if cfg.TLSCAFile == "" && !cfg.TLSSkipVerify {
		return opt, nil
	}

	if opt.TLSConfig == nil {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12} //nolint:exhaustruct
	}

	opt.TLSConfig.InsecureSkipVerify = cfg.TLSSkipVerify //nolint:gosec

	if cfg.TLSCAFile != "" {
		pem, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("goredis: failed to read CA file: %w", err)
		}

		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, ErrInvalidCA
		}

		opt.TLSConfig.RootCAs = roots
	}

	return opt, nil
}

// Start pings the server and then blocks until ctx is done.
func (rds *Redis) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()

	if err := rds.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("goredis: ping failed: %w", err)
	}

	opt := rds.Options()
	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Bool("tls", opt.TLSConfig != nil).
		Msg("Connected to Redis")

	<-ctx.Done()

	return nil
}

func (rds *Redis) Stop() error {
	if rds.Client == nil {
		return ErrClientClosed
	}

	if err := rds.Close(); err != nil {
		return fmt.Errorf("goredis: failed to close client: %w", err)
	}

	log.Info().Msg("Redis connection pool closed")

	return nil
}

func (rds *Redis) Name() string {
	return "redis"
}

// HealthCheck backs the readiness probe.
func (rds *Redis) HealthCheck(ctx context.Context) error {
	if rds.Client == nil {
		return ErrClientClosed
	}

	if err := rds.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("goredis: health check failed: %w", err)
	}

	if rds.PoolStats().TotalConns == 0 {
		return ErrNoConnections
	}

	return nil
}
