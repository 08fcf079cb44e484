package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/andyle182810/tessera-sdk/cache"
	"github.com/andyle182810/tessera-sdk/httpclient"
	"github.com/andyle182810/tessera-sdk/identies"
	"github.com/andyle182810/tessera-sdk/jwks"
	"github.com/andyle182810/tessera-sdk/users"
	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v5"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAuthTimeout           = 10 * time.Second
	DefaultAuthMaxRetries        = 1
	DefaultIntrospectionCacheTTL = 5 * time.Minute

	jwtContextKey = "jwt"
)

const (
	msgInactiveAPIKey     = "Invalid or inactive API key"
	msgInvalidAPIKey      = "Invalid API key"
	msgAPIKeyValidation   = "API key validation error: "
	msgAuthUnavailable    = "Authentication service temporarily unavailable"
	msgInternalAuthError  = "Internal authentication error"
	msgInternalError      = "Internal server error"
	msgMissingToken       = "Missing or invalid token"
	msgInvalidToken       = "Invalid token"
	msgForbidden          = "Forbidden"
	errorResponseFieldKey = "error"
)

var (
	ErrMissingIdentiesBaseURL = errors.New(
		"middleware: identies base url must be set in the config or the IDENTIES_BASE_URL environment variable",
	)
	ErrMissingVerifier = errors.New("middleware: a jwt verifier is required")
)

// DefaultAuthSkipPaths are served without authentication.
func DefaultAuthSkipPaths() []string {
	return []string{"/health", "/openapi.json", "/docs"}
}

// APIKeyIntrospector is the part of the Identies client used to validate API
// keys.
type APIKeyIntrospector interface {
	IntrospectAPIKey(ctx context.Context, apiKey string) (*identies.IntrospectResponse, error)
}

type AuthConfig struct {
	Skipper middleware.Skipper
	// SkipPaths defaults to DefaultAuthSkipPaths when nil. An empty,
	// non-nil slice skips nothing.
	SkipPaths []string

	// IdentiesBaseURL falls back to IDENTIES_BASE_URL. Ignored when
	// Identies is set.
	IdentiesBaseURL string
	Identies        APIKeyIntrospector
	HTTPOptions     []httpclient.Option
	Timeout         time.Duration
	// MaxRetries of zero disables retries; a negative value selects
	// DefaultAuthMaxRetries.
	MaxRetries int

	Verifier    *jwks.Verifier
	UserService users.Service

	// IntrospectionCache memoizes active API keys by their SHA-256 digest.
	IntrospectionCache    *cache.Cache[identies.IntrospectResponse]
	IntrospectionCacheTTL time.Duration

	Logger *zerolog.Logger
}

func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Skipper:               middleware.DefaultSkipper,
		SkipPaths:             DefaultAuthSkipPaths(),
		IdentiesBaseURL:       "",
		Identies:              nil,
		HTTPOptions:           nil,
		Timeout:               DefaultAuthTimeout,
		MaxRetries:            DefaultAuthMaxRetries,
		Verifier:              nil,
		UserService:           nil,
		IntrospectionCache:    nil,
		IntrospectionCacheTTL: DefaultIntrospectionCacheTTL,
		Logger:                &log.Logger,
	}
}

type authenticator struct {
	config   AuthConfig
	identies APIKeyIntrospector
	logger   zerolog.Logger
}

// Authentication accepts either an X-API-Key, validated through the
// Identies introspection endpoint, or a bearer JWT verified against the
// OIDC key set. A verified bearer subject resolves to the local user, or to
// *users.NeedsOnboarding when there is none yet.
func Authentication(config AuthConfig) (echo.MiddlewareFunc, error) {
	config = withAuthDefaults(config)

	if config.Verifier == nil {
		return nil, ErrMissingVerifier
	}

	auth := &authenticator{
		config:   config,
		identies: config.Identies,
		logger:   config.Logger.With().Str("middleware", "authentication").Logger(),
	}

	if auth.identies == nil {
		client, err := newMiddlewareIdentiesClient(config)
		if err != nil {
			return nil, err
		}

		auth.identies = client
	}

	skipper := pathSkipper(config.SkipPaths, config.Skipper)
	jwtMiddleware := echojwt.WithConfig(auth.jwtConfig())

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		bearer := jwtMiddleware(auth.resolveSubject(next))

		return func(c *echo.Context) error {
			if skipper(c) {
				return next(c)
			}

			if apiKey := c.Request().Header.Get(HeaderXAPIKey); apiKey != "" {
				return auth.validateAPIKey(c, apiKey, next)
			}

			if bearerToken(c) == "" {
				return authError(c, http.StatusUnauthorized, msgMissingToken)
			}

			return bearer(c)
		}
	}, nil
}

func withAuthDefaults(config AuthConfig) AuthConfig {
	defaults := DefaultAuthConfig()

	if config.Skipper == nil {
		config.Skipper = defaults.Skipper
	}

	if config.SkipPaths == nil {
		config.SkipPaths = defaults.SkipPaths
	}

	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = defaults.MaxRetries
	}

	if config.IntrospectionCacheTTL <= 0 {
		config.IntrospectionCacheTTL = defaults.IntrospectionCacheTTL
	}

	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return config
}

func newMiddlewareIdentiesClient(config AuthConfig) (*identies.Client, error) {
	baseURL := config.IdentiesBaseURL
	if baseURL == "" {
		baseURL = os.Getenv(identiesBaseURLEnvVar)
	}

	if baseURL == "" {
		return nil, ErrMissingIdentiesBaseURL
	}

	opts := []httpclient.Option{
		httpclient.WithTimeout(config.Timeout),
		httpclient.WithMaxRetries(config.MaxRetries),
		httpclient.WithLogger(*config.Logger),
		httpclient.WithRequestIDKey(RequestIDContextKey),
	}

	client, err := identies.New(baseURL, append(opts, config.HTTPOptions...)...)
	if err != nil {
		return nil, err
	}

	config.Logger.Info().
		Str("identies_base_url", baseURL).
		Msg("The authentication middleware has been initialized")

	return client, nil
}

func (a *authenticator) validateAPIKey(c *echo.Context, apiKey string, next echo.HandlerFunc) error {
	ctx := c.Request().Context()

	resp, err := a.introspect(ctx, apiKey)
	if err != nil {
		return a.introspectionError(c, err)
	}

	if !resp.Active {
		a.logger.Warn().Msg("The API key is not active (invalid, expired, or revoked)")

		return authError(c, http.StatusUnauthorized, msgInactiveAPIKey)
	}

	event := a.logger.Debug().Str("key_id", resp.KeyID)
	if resp.UserID != nil {
		event = event.Stringer("user_id", resp.UserID)
	}

	event.Msg("The API key has been validated")

	c.Set(ContextKeyAPIKey, apiKey)
	c.Set(ContextKeyIntrospection, resp)

	if resp.User != nil {
		c.Set(ContextKeyPrincipal, resp.User)
	}

	return next(c)
}

func (a *authenticator) introspect(ctx context.Context, apiKey string) (*identies.IntrospectResponse, error) {
	digest := apiKeyDigest(apiKey)

	if a.config.IntrospectionCache != nil {
		cached, err := a.config.IntrospectionCache.Read(ctx, digest)
		if err == nil {
			return cached, nil
		}

		if !errors.Is(err, cache.ErrKeyNotFound) {
			a.logger.Warn().Err(err).Msg("The introspection cache read has failed")
		}
	}

	resp, err := a.identies.IntrospectAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	if resp.Active && a.config.IntrospectionCache != nil {
		if err := a.config.IntrospectionCache.Write(ctx, digest, resp, a.config.IntrospectionCacheTTL); err != nil {
			a.logger.Warn().Err(err).Msg("The introspection cache write has failed")
		}
	}

	return resp, nil
}

func (a *authenticator) introspectionError(c *echo.Context, err error) error {
	apiErr, ok := httpclient.AsError(err)
	if !ok {
		a.logger.Error().Err(err).Msg("An unexpected error occurred during API key validation")

		return authError(c, http.StatusInternalServerError, msgInternalError)
	}

	switch apiErr.Kind {
	case httpclient.KindAuthentication:
		a.logger.Warn().Msg("The API key authentication has failed")

		return authError(c, http.StatusUnauthorized, msgInvalidAPIKey)
	case httpclient.KindValidation:
		a.logger.Warn().Err(err).Msg("The API key has been rejected as invalid")

		return authError(c, http.StatusBadRequest, msgAPIKeyValidation+apiErr.Error())
	case httpclient.KindClient, httpclient.KindNotFound, httpclient.KindServer:
		a.logger.Error().Err(err).Msg("Identies is unable to validate the API key")

		return authError(c, http.StatusServiceUnavailable, msgAuthUnavailable)
	default:
		a.logger.Error().Err(err).Msg("An unexpected Identies error occurred during API key validation")

		return authError(c, http.StatusInternalServerError, msgInternalAuthError)
	}
}

func (a *authenticator) jwtConfig() echojwt.Config {
	return echojwt.Config{ //nolint:exhaustruct
		ContextKey: jwtContextKey,
		// Claims are checked by resolveSubject so that a rejected expiry,
		// issuer or audience answers 403 rather than 401.
		ParseTokenFunc: func(_ *echo.Context, auth string) (any, error) {
			return a.config.Verifier.ParseSignature(auth)
		},
		SuccessHandler: func(c *echo.Context) error {
			if token, ok := c.Get(jwtContextKey).(*jwt.Token); ok {
				c.Set(ContextKeyToken, token.Raw)

				if claims, ok := token.Claims.(*jwks.Claims); ok {
					c.Set(ContextKeyClaims, claims)
				}
			}

			return nil
		},
		ErrorHandler: func(c *echo.Context, err error) error {
			a.logger.Warn().Err(err).Msg("The bearer token verification has failed")

			return authError(c, http.StatusUnauthorized, msgInvalidToken)
		},
	}
}

// resolveSubject runs after the token signature has been verified.
func (a *authenticator) resolveSubject(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		claims, err := GetClaims(c)
		if err != nil {
			a.logger.Error().Err(err).Msg("The verified token claims are missing from the context")

			return authError(c, http.StatusUnauthorized, msgInvalidToken)
		}

		if err := a.config.Verifier.Validate(claims); err != nil {
			a.logger.Warn().Err(err).Msg("The bearer token claims have been rejected")

			if errors.Is(err, jwks.ErrMissingSub) {
				return authError(c, http.StatusUnauthorized, msgInvalidToken)
			}

			return authError(c, http.StatusForbidden, msgForbidden)
		}

		if a.config.UserService == nil {
			c.Set(ContextKeyPrincipal, &users.NeedsOnboarding{ExternalID: claims.Subject})

			return next(c)
		}

		user, err := a.config.UserService.GetUserByExternalID(c.Request().Context(), claims.Subject)

		switch {
		case err == nil:
			setUser(c, user)
		case errors.Is(err, users.ErrUserNotFound):
			c.Set(ContextKeyPrincipal, &users.NeedsOnboarding{ExternalID: claims.Subject})
		default:
			a.logger.Error().Err(err).Str("external_id", claims.Subject).Msg("The user lookup has failed")

			return authError(c, http.StatusInternalServerError, msgInternalError)
		}

		return next(c)
	}
}

func apiKeyDigest(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))

	return hex.EncodeToString(sum[:])
}

func authError(c *echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{errorResponseFieldKey: message})
}
