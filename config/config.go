package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrMissingOIDCAudience = errors.New("config: OIDC_API_AUDIENCE is required")

type Config struct {
	// Application
	ServiceName string `env:"SERVICE_NAME" envDefault:"onboarding-api"`
	Env         string `env:"ENV"          envDefault:"production"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`

	// HTTP Server
	HTTPServerHost         string        `env:"HTTP_SERVER_HOST"          envDefault:"0.0.0.0"`
	HTTPServerPort         int           `env:"PORT"                      envDefault:"8000"`
	HTTPEnableCORS         bool          `env:"HTTP_ENABLE_CORS"          envDefault:"false"`
	HTTPAllowOrigins       []string      `env:"HTTP_ALLOW_ORIGINS"        envSeparator:","`
	HTTPBodyLimit          string        `env:"HTTP_BODY_LIMIT"           envDefault:"10M"`
	HTTPServerReadTimeout  time.Duration `env:"HTTP_SERVER_READ_TIMEOUT"  envDefault:"30s"`
	HTTPServerWriteTimeout time.Duration `env:"HTTP_SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	GracefulShutdownPeriod time.Duration `env:"GRACEFUL_SHUTDOWN_PERIOD"  envDefault:"10s"`

	// Metrics
	MetricServerEnabled bool   `env:"METRIC_SERVER_ENABLED" envDefault:"true"`
	MetricServerHost    string `env:"METRIC_SERVER_HOST"    envDefault:"0.0.0.0"`
	MetricServerPort    int    `env:"METRIC_SERVER_PORT"    envDefault:"9090"`
	MetricNamespace     string `env:"METRIC_NAMESPACE"      envDefault:"tessera"`

	// Tessera backends
	IdentiesBaseURL       string        `env:"IDENTIES_BASE_URL"`
	QuoreBaseURL          string        `env:"QUORE_BASE_URL"`
	SendlyBaseURL         string        `env:"SENDLY_BASE_URL"`
	CustosBaseURL         string        `env:"CUSTOS_BASE_URL"`
	VaultaBaseURL         string        `env:"VAULTA_BASE_URL"`
	BaseClientTimeout     time.Duration `env:"TESSERA_BASE_CLIENT_TIMEOUT"        envDefault:"30s"`
	BaseClientMaxRetries  int           `env:"TESSERA_BASE_CLIENT_MAX_RETRIES"    envDefault:"3"`
	AuthMiddlewareTimeout time.Duration `env:"TESSERASDK_AUTH_MIDDLEWARE_TIMEOUT" envDefault:"10s"`

	// OIDC
	OIDCDomain      string   `env:"OIDC_DOMAIN"`
	OIDCAPIAudience string   `env:"OIDC_API_AUDIENCE"`
	OIDCIssuer      string   `env:"OIDC_ISSUER"`
	OIDCAlgorithms  []string `env:"OIDC_ALGORITHMS"   envDefault:"RS256" envSeparator:","`
	OIDCJWKSURLs    []string `env:"OIDC_JWKS_URLS"    envSeparator:","`

	// Service account used for Sendly and other machine-to-machine calls
	ServiceAccountClientID     string `env:"SERVICE_ACCOUNT_CLIENT_ID"`
	ServiceAccountClientSecret string `env:"SERVICE_ACCOUNT_CLIENT_SECRET"`

	// Redis
	RedisURL      string `env:"REDIS_URL"`
	RedisHost     string `env:"REDIS_HOST"     envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT"     envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0"`
	RedisTLSCA    string `env:"REDIS_TLS_CA_FILE"`

	AuthorizationCacheEnabled bool          `env:"AUTHORIZATION_CACHE_ENABLED" envDefault:"false"`
	AuthorizationCacheTTL     time.Duration `env:"AUTHORIZATION_CACHE_TTL"     envDefault:"5m"`
	OnboardingLockEnabled     bool          `env:"ONBOARDING_LOCK_ENABLED"     envDefault:"false"`

	// PostgreSQL
	PostgresHost          string        `env:"POSTGRES_HOST"                     envDefault:"localhost"`
	PostgresPort          int           `env:"POSTGRES_PORT"                     envDefault:"5432"`
	PostgresUser          string        `env:"POSTGRES_USER"                     envDefault:"postgres"`
	PostgresPassword      string        `env:"POSTGRES_PASSWORD"                 envDefault:"postgres"`
	PostgresDatabase      string        `env:"POSTGRES_DB"                       envDefault:"tessera"`
	PostgresSSLMode       string        `env:"POSTGRES_SSL_MODE"                 envDefault:"disable"`
	PostgresMaxConnection int32         `env:"POSTGRES_MAX_CONNECTION"           envDefault:"10"`
	PostgresMinConnection int32         `env:"POSTGRES_MIN_CONNECTION"           envDefault:"1"`
	PostgresMaxIdleTime   time.Duration `env:"POSTGRES_MAX_CONNECTION_IDLE_TIME" envDefault:"5m"`
	PostgresLogLevel      string        `env:"POSTGRES_LOG_LEVEL"                envDefault:"warn"`
	MigrationEnabled      bool          `env:"MIGRATION_ENABLED"                 envDefault:"true"`

	// Events
	EventsEnabled      bool   `env:"EVENTS_ENABLED"       envDefault:"false"`
	EventTypePrefix    string `env:"EVENT_TYPE_PREFIX"    envDefault:"com.tessera"`
	EventSourcePrefix  string `env:"EVENT_SOURCE_PREFIX"  envDefault:"tessera-api"`
	EventTopic         string `env:"EVENT_TOPIC"          envDefault:"tessera.events"`
	EventConsumerGroup string `env:"EVENT_CONSUMER_GROUP" envDefault:"onboarding-api"`

	// Welcome email sent through Sendly after onboarding
	WelcomeEmailFrom     string `env:"WELCOME_EMAIL_FROM"      envDefault:"welcome@tessera.dev"`
	WelcomeEmailTenantID string `env:"WELCOME_EMAIL_TENANT_ID" envDefault:"tessera"`
}

func New() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.OIDCAPIAudience == "" {
		return nil, ErrMissingOIDCAudience
	}

	return &cfg, nil
}

// PostgresURL is the pgx URL form, accepted by both the pool and the
// migrator.
func (c *Config) PostgresURL() string {
	u := url.URL{ //nolint:exhaustruct
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     net.JoinHostPort(c.PostgresHost, strconv.Itoa(c.PostgresPort)),
		Path:     "/" + c.PostgresDatabase,
		RawQuery: url.Values{"sslmode": {c.PostgresSSLMode}}.Encode(),
	}

	return u.String()
}

// OIDCIssuerURL falls back to the conventional issuer of OIDC_DOMAIN.
func (c *Config) OIDCIssuerURL() string {
	if c.OIDCIssuer != "" || c.OIDCDomain == "" {
		return c.OIDCIssuer
	}

	return "https://" + c.OIDCDomain + "/"
}
