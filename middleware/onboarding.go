package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/andyle182810/tessera-sdk/events"
	"github.com/andyle182810/tessera-sdk/identies"
	"github.com/andyle182810/tessera-sdk/users"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	OnboardingEventSource = "/users"
	onboardingLockPrefix  = "onboarding:"

	msgOnboardingFailed    = "User onboarding failed. Please contact support if this issue persists."
	msgIdentityUnavailable = "Identity service temporarily unavailable. Please try again later."
	detailResponseFieldKey = "detail"
)

var ErrMissingIdentiesClient = errors.New("middleware: an identies client is required")

var (
	errIdentityUnavailable = errors.New("middleware: identity service unavailable")
	errNoUserService       = errors.New("middleware: no user service configured")
)

// NeedsOnboardingFunc decides whether principal still needs a local user and
// returns the external id to create it under.
type NeedsOnboardingFunc func(principal any) (externalID string, ok bool)

// DefaultNeedsOnboarding onboards principals left as *users.NeedsOnboarding
// by the authentication middleware.
func DefaultNeedsOnboarding(principal any) (string, bool) {
	pending, ok := principal.(*users.NeedsOnboarding)
	if !ok || pending == nil || pending.ExternalID == "" {
		return "", false
	}

	return pending.ExternalID, true
}

// UserInfoFetcher is the part of the Identies client used to load the
// profile of a new user.
type UserInfoFetcher interface {
	UserInfoForToken(ctx context.Context, token string) (*identies.UserResponse, error)
}

// Locker serializes onboarding of one external id across replicas.
// *distlock.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type OnboardingConfig struct {
	Skipper   middleware.Skipper
	SkipPaths []string

	Identies        UserInfoFetcher
	UserService     users.Service
	NeedsOnboarding NeedsOnboardingFunc

	Locker Locker

	Publisher    events.Publisher
	EventFactory *events.Factory
	EventTopic   string

	Logger *zerolog.Logger
}

func DefaultOnboardingConfig() OnboardingConfig {
	return OnboardingConfig{
		Skipper:         middleware.DefaultSkipper,
		SkipPaths:       nil,
		Identies:        nil,
		UserService:     nil,
		NeedsOnboarding: DefaultNeedsOnboarding,
		Locker:          nil,
		Publisher:       nil,
		EventFactory:    events.NewFactory("", ""),
		EventTopic:      events.DefaultTopic,
		Logger:          &log.Logger,
	}
}

type onboarder struct {
	config OnboardingConfig
	logger zerolog.Logger
}

// Onboarding creates the local user on first sight of an authenticated
// identity and attaches it to the request. It runs after Authentication;
// without a principal it resolves the bearer token through Identies itself.
func Onboarding(config OnboardingConfig) (echo.MiddlewareFunc, error) {
	if config.Identies == nil {
		return nil, ErrMissingIdentiesClient
	}

	config = withOnboardingDefaults(config)

	o := &onboarder{
		config: config,
		logger: config.Logger.With().Str("middleware", "onboarding").Logger(),
	}

	skipper := pathSkipper(config.SkipPaths, config.Skipper)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if skipper(c) {
				return next(c)
			}

			if _, ok := GetUser(c); ok {
				return next(c)
			}

			return o.handle(c, next)
		}
	}, nil
}

func withOnboardingDefaults(config OnboardingConfig) OnboardingConfig {
	defaults := DefaultOnboardingConfig()

	if config.Skipper == nil {
		config.Skipper = defaults.Skipper
	}

	if config.NeedsOnboarding == nil {
		config.NeedsOnboarding = defaults.NeedsOnboarding
	}

	if config.EventFactory == nil {
		config.EventFactory = defaults.EventFactory
	}

	if config.EventTopic == "" {
		config.EventTopic = defaults.EventTopic
	}

	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return config
}

func (o *onboarder) handle(c *echo.Context, next echo.HandlerFunc) error {
	ctx := c.Request().Context()
	token := GetToken(c)

	if token == "" {
		token = bearerToken(c)
	}

	var (
		externalID string
		profile    *identies.UserResponse
	)

	if principal := GetPrincipal(c); principal != nil {
		id, ok := o.config.NeedsOnboarding(principal)
		if !ok {
			return next(c)
		}

		externalID = id
	} else {
		if token == "" {
			return next(c)
		}

		resolved, err := o.config.Identies.UserInfoForToken(ctx, token)
		if err != nil {
			o.logger.Error().Err(err).Msg("The identity could not be resolved through Identies")

			return onboardingError(c, http.StatusServiceUnavailable, msgIdentityUnavailable)
		}

		profile = resolved
		externalID = resolved.ID.String()
	}

	user, err := o.resolve(ctx, externalID, token, profile)
	if err != nil {
		o.logger.Error().Err(err).Str("external_id", externalID).Msg("The user onboarding has failed")

		if errors.Is(err, errIdentityUnavailable) {
			return onboardingError(c, http.StatusServiceUnavailable, msgIdentityUnavailable)
		}

		return onboardingError(c, http.StatusInternalServerError, msgOnboardingFailed)
	}

	setUser(c, user)

	return next(c)
}

func (o *onboarder) resolve(
	ctx context.Context,
	externalID, token string,
	profile *identies.UserResponse,
) (*users.User, error) {
	if o.config.UserService == nil {
		return nil, errNoUserService
	}

	user, err := o.lookup(ctx, externalID)
	if err != nil || user != nil {
		return user, err
	}

	if o.config.Locker == nil {
		return o.create(ctx, externalID, token, profile)
	}

	err = o.config.Locker.WithLock(ctx, onboardingLockPrefix+externalID, func(ctx context.Context) error {
		existing, err := o.lookup(ctx, externalID)
		if err != nil {
			return err
		}

		if existing != nil {
			user = existing

			return nil
		}

		user, err = o.create(ctx, externalID, token, profile)

		return err
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

// lookup returns a nil user without error when none exists yet.
func (o *onboarder) lookup(ctx context.Context, externalID string) (*users.User, error) {
	user, err := o.config.UserService.GetUserByExternalID(ctx, externalID)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, users.ErrUserNotFound):
		return nil, nil //nolint:nilnil
	default:
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
}

func (o *onboarder) create(
	ctx context.Context,
	externalID, token string,
	profile *identies.UserResponse,
) (*users.User, error) {
	if profile == nil && token != "" {
		fetched, err := o.config.Identies.UserInfoForToken(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errIdentityUnavailable, err)
		}

		profile = fetched
	}

	if profile == nil {
		o.logger.Warn().
			Str("external_id", externalID).
			Msg("No bearer token is available to load the profile, the user is onboarded with the external id only")
	}

	user, err := o.config.UserService.OnboardUser(ctx, users.NewOnboard(externalID, profile))
	if err != nil {
		return nil, fmt.Errorf("failed to onboard user: %w", err)
	}

	o.logger.Info().
		Str("external_id", externalID).
		Stringer("user_id", user.ID).
		Msg("The user has been onboarded")

	o.publish(ctx, externalID, user)

	return user, nil
}

func (o *onboarder) publish(ctx context.Context, externalID string, user *users.User) {
	if o.config.Publisher == nil {
		return
	}

	event, err := o.config.EventFactory.New(
		events.TypeUserOnboarded,
		OnboardingEventSource,
		user,
		events.WithSubject(externalID),
		events.WithUserID(user.ID.String()),
	)
	if err != nil {
		o.logger.Error().Err(err).Msg("The user onboarded event could not be built")

		return
	}

	if err := o.config.Publisher.Publish(ctx, o.config.EventTopic, event); err != nil {
		o.logger.Error().
			Err(err).
			Str("event_id", event.ID).
			Msg("The user onboarded event could not be published")
	}
}

func onboardingError(c *echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{detailResponseFieldKey: message})
}
