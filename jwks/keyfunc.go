// Package jwks resolves OIDC key set URLs and verifies bearer JWTs against
// them.
package jwks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultRateLimitBurst  = 5
	DefaultRefreshTimeout  = 10 * time.Second
	DefaultRefreshInterval = 60 * time.Minute
	WellKnownPath          = "/.well-known/jwks.json"
)

var (
	ErrNoJWKSURLs   = errors.New("jwks: at least one jwks url is required")
	ErrNoStaticKeys = errors.New("jwks: at least one static key is required")
)

type KeyFunc struct {
	keyfunc.Keyfunc
}

type Config struct {
	httpClient        *http.Client
	rateLimitBurst    int
	refreshTimeout    time.Duration
	refreshInterval   time.Duration
	rateLimitWaitMax  time.Duration
	validationSkipAll bool
	logger            zerolog.Logger
}

type Option func(*Config)

// ResolveURLs returns the explicit URLs when any are given, otherwise the
// well-known key set of the OIDC domain followed by the one served by
// Identies. Duplicates and blanks are dropped, order is kept.
func ResolveURLs(explicit []string, oidcDomain, identiesBaseURL string) []string {
	candidates := make([]string, 0, len(explicit)+2) //nolint:mnd

	for _, u := range explicit {
		candidates = append(candidates, strings.TrimSpace(u))
	}

	if len(explicit) == 0 {
		if oidcDomain != "" {
			candidates = append(candidates, "https://"+strings.TrimSuffix(oidcDomain, "/")+WellKnownPath)
		}

		if identiesBaseURL != "" {
			candidates = append(candidates, strings.TrimSuffix(identiesBaseURL, "/")+WellKnownPath)
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	urls := make([]string, 0, len(candidates))

	for _, u := range candidates {
		if u == "" {
			continue
		}

		if _, ok := seen[u]; ok {
			continue
		}

		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	return urls
}

func New(ctx context.Context, urls []string, opts ...Option) (*KeyFunc, error) {
	if len(urls) == 0 {
		return nil, ErrNoJWKSURLs
	}

	cfg := &Config{
		httpClient:        nil,
		rateLimitBurst:    DefaultRateLimitBurst,
		refreshTimeout:    DefaultRefreshTimeout,
		refreshInterval:   DefaultRefreshInterval,
		rateLimitWaitMax:  0,
		validationSkipAll: false,
		logger:            log.Logger,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	rateLimiter := rate.NewLimiter(rate.Every(time.Second), cfg.rateLimitBurst)

	override := keyfunc.Override{
		Client:            cfg.httpClient,
		HTTPTimeout:       cfg.refreshTimeout,
		RefreshInterval:   cfg.refreshInterval,
		RefreshUnknownKID: rateLimiter,
		RefreshErrorHandlerFunc: func(url string) func(ctx context.Context, err error) {
			return func(_ context.Context, err error) {
				cfg.logger.Error().
					Err(err).
					Str("jwks_url", url).
					Msg("The JWKS key refresh has failed in the background goroutine")
			}
		},
		RateLimitWaitMax:  cfg.rateLimitWaitMax,
		ValidationSkipAll: cfg.validationSkipAll,
	}

	keyFunc, err := keyfunc.NewDefaultOverrideCtx(ctx, urls, override)
	if err != nil {
		cfg.logger.Error().
			Err(err).
			Strs("jwks_urls", urls).
			Msg("Failed to initialize JWKS keyfunc")

		return nil, err
	}

	cfg.logger.Info().
		Strs("jwks_urls", urls).
		Dur("refresh_interval", cfg.refreshInterval).
		Msg("The Keyfunc has been initialized successfully and the background refresh has been started")

	return &KeyFunc{Keyfunc: keyFunc}, nil
}

// StaticKey is a public key pinned in configuration instead of fetched.
type StaticKey struct {
	ID        string
	Algorithm string
	Key       any
}

// NewStatic serves keys from memory. It never refreshes, so it is meant for
// local development and air-gapped deployments.
func NewStatic(ctx context.Context, keys ...StaticKey) (*KeyFunc, error) {
	if len(keys) == 0 {
		return nil, ErrNoStaticKeys
	}

	storage := jwkset.NewMemoryStorage()

	for _, key := range keys {
		jwk, err := jwkset.NewJWKFromKey(key.Key, jwkset.JWKOptions{ //nolint:exhaustruct
			Metadata: jwkset.JWKMetadataOptions{ //nolint:exhaustruct
				ALG: jwkset.ALG(key.Algorithm),
				KID: key.ID,
				USE: jwkset.UseSig,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("jwks: invalid static key %q: %w", key.ID, err)
		}

		if err := storage.KeyWrite(ctx, jwk); err != nil {
			return nil, fmt.Errorf("jwks: failed to store static key %q: %w", key.ID, err)
		}
	}

	keyFunc, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage}) //nolint:exhaustruct
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}

	return &KeyFunc{Keyfunc: keyFunc}, nil
}
