// Command onboarding-api is a reference service built on the SDK: it
// authenticates callers with API keys or OIDC bearer tokens, onboards new
// users into Postgres on first sight and sends them a welcome email when the
// user.onboarded event comes back through Redis Streams.
package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/andyle182810/tessera-sdk/authtoken"
	"github.com/andyle182810/tessera-sdk/cache"
	"github.com/andyle182810/tessera-sdk/cmd/onboarding-api/internal/api"
	"github.com/andyle182810/tessera-sdk/cmd/onboarding-api/internal/welcome"
	"github.com/andyle182810/tessera-sdk/config"
	"github.com/andyle182810/tessera-sdk/custos"
	"github.com/andyle182810/tessera-sdk/distlock"
	"github.com/andyle182810/tessera-sdk/events"
	"github.com/andyle182810/tessera-sdk/goredis"
	"github.com/andyle182810/tessera-sdk/httpclient"
	"github.com/andyle182810/tessera-sdk/httpserver"
	"github.com/andyle182810/tessera-sdk/identies"
	"github.com/andyle182810/tessera-sdk/jwks"
	"github.com/andyle182810/tessera-sdk/logutil"
	"github.com/andyle182810/tessera-sdk/metricserver"
	"github.com/andyle182810/tessera-sdk/middleware"
	"github.com/andyle182810/tessera-sdk/postgres"
	"github.com/andyle182810/tessera-sdk/quore"
	"github.com/andyle182810/tessera-sdk/runner"
	"github.com/andyle182810/tessera-sdk/sendly"
	"github.com/andyle182810/tessera-sdk/users"
	"github.com/andyle182810/tessera-sdk/vaulta"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	introspectionCacheNamespace = "introspection"
	onboardingLockPrefix        = "lock:"
	deadLetterSuffix            = ".dlq"
	welcomeMaxRetries           = 3
	welcomeRetryDelay           = 2 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Application exited with an error")
	}

	log.Info().Msg("Application shutdown complete")
}

type application struct {
	cfg       *config.Config
	logger    zerolog.Logger
	db        *postgres.Postgres
	redis     *goredis.Redis
	session   *httpclient.Session
	identies  *identies.Client
	verifier  *jwks.Verifier
	publisher events.Publisher
	tokens    []httpclient.Option
	metrics   *metricserver.HTTPMetrics
	closers   []runner.Service
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app := &application{ //nolint:exhaustruct
		cfg:     cfg,
		logger:  logutil.Setup(cfg.LogLevel, cfg.Env, cfg.ServiceName),
		session: httpclient.NewSession(),
	}

	app.addCloser("http-session", app.session.Close)

	ctx := context.Background()

	if err := app.init(ctx); err != nil {
		app.closeAll()

		return err
	}

	server, err := app.newHTTPServer()
	if err != nil {
		app.closeAll()

		return err
	}

	services := []runner.Option{
		runner.WithInfrastructureService(runner.Closer("postgres", func() error { return app.db.Stop(ctx) })),
		runner.WithInfrastructureService(app.redis),
		runner.WithCoreService(server),
		runner.WithShutdownTimeout(cfg.GracefulShutdownPeriod * 2), //nolint:mnd
	}

	if app.metrics != nil {
		services = append(services, runner.WithCoreService(metricserver.New(&metricserver.Config{
			Host:         cfg.MetricServerHost,
			Port:         cfg.MetricServerPort,
			ReadTimeout:  cfg.HTTPServerReadTimeout,
			WriteTimeout: cfg.HTTPServerWriteTimeout,
			GracePeriod:  cfg.GracefulShutdownPeriod,
		}, app.metrics)))
	}

	if cfg.EventsEnabled {
		subscriber, subErr := app.newWelcomeSubscriber()
		if subErr != nil {
			app.closeAll()

			return subErr
		}

		if subscriber != nil {
			services = append(services, runner.WithCoreService(subscriber))
		}
	}

	// Backend clients are registered last: they exist only once the server
	// and subscriber are built.
	for _, closer := range app.closers {
		services = append(services, runner.WithInfrastructureService(closer))
	}

	return runner.New(services...).Run(ctx)
}

func (app *application) init(ctx context.Context) error {
	if err := app.initPostgres(ctx); err != nil {
		return err
	}

	if err := app.initRedis(); err != nil {
		return err
	}

	if err := app.initIdentities(ctx); err != nil {
		return err
	}

	return app.initPublisher()
}

// closeAll releases what init managed to open when startup fails before the
// runner takes ownership.
func (app *application) closeAll() {
	for _, closer := range app.closers {
		_ = closer.Stop()
	}

	if app.redis != nil {
		_ = app.redis.Stop()
	}

	if app.db != nil {
		_ = app.db.Stop(context.Background())
	}
}

// clientOptions are shared by every backend client: one connection pool, the
// configured timeout and retries, and request id forwarding.
func (app *application) clientOptions(extra ...httpclient.Option) []httpclient.Option {
	return slices.Concat([]httpclient.Option{
		httpclient.WithSession(app.session),
		httpclient.WithTimeout(app.cfg.BaseClientTimeout),
		httpclient.WithMaxRetries(app.cfg.BaseClientMaxRetries),
		httpclient.WithRequestIDKey(middleware.RequestIDContextKey),
		httpclient.WithLogger(app.logger),
	}, extra)
}

func (app *application) initPostgres(ctx context.Context) error {
	if app.cfg.MigrationEnabled {
		log.Info().Msg("Starting database migration process")

		if err := postgres.MigrateUp(app.cfg.PostgresURL(), users.Migrations()); err != nil {
			return fmt.Errorf("postgresql migration failed: %w", err)
		}
	}

	db, err := postgres.New(ctx, &postgres.Config{
		URL:                   app.cfg.PostgresURL(),
		MaxConnection:         app.cfg.PostgresMaxConnection,
		MinConnection:         app.cfg.PostgresMinConnection,
		MaxConnectionIdleTime: app.cfg.PostgresMaxIdleTime,
		HealthCheckPeriod:     0,
		LogLevel:              logutil.ParsePostgresLogLevel(app.cfg.PostgresLogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize postgres: %w", err)
	}

	app.db = db

	log.Info().Msg("PostgreSQL client initialized successfully")

	return nil
}

func (app *application) initRedis() error {
	rds, err := goredis.New(&goredis.Config{ //nolint:exhaustruct
		URL:        app.cfg.RedisURL,
		Host:       app.cfg.RedisHost,
		Port:       app.cfg.RedisPort,
		Password:   app.cfg.RedisPassword,
		DB:         app.cfg.RedisDB,
		ClientName: app.cfg.ServiceName,
		TLSCAFile:  app.cfg.RedisTLSCA,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}

	app.redis = rds

	log.Info().Msg("Redis client initialized successfully")

	return nil
}

func (app *application) initIdentities(ctx context.Context) error {
	client, err := identies.New(app.cfg.IdentiesBaseURL, app.clientOptions(
		httpclient.WithTimeout(app.cfg.AuthMiddlewareTimeout),
		httpclient.WithMaxRetries(middleware.DefaultAuthMaxRetries),
	)...)
	if err != nil {
		return fmt.Errorf("failed to initialize identies client: %w", err)
	}

	app.identies = client
	app.addCloser(identies.ServiceName, client.Close)

	urls := jwks.ResolveURLs(app.cfg.OIDCJWKSURLs, app.cfg.OIDCDomain, app.cfg.IdentiesBaseURL)

	keyFunc, err := jwks.New(ctx, urls,
		jwks.WithHTTPClient(app.session.HTTPClient()),
		jwks.WithLogger(app.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize jwks: %w", err)
	}

	app.verifier = jwks.NewVerifier(keyFunc.Keyfunc.Keyfunc, jwks.VerifierConfig{ //nolint:exhaustruct
		Issuer:     app.cfg.OIDCIssuerURL(),
		Audience:   app.cfg.OIDCAPIAudience,
		Algorithms: app.cfg.OIDCAlgorithms,
	})

	return nil
}

func (app *application) initPublisher() error {
	if !app.cfg.EventsEnabled {
		app.publisher = events.NopPublisher{Logger: app.logger}

		return nil
	}

	publisher, err := events.NewPublisher(app.redis.Client, events.Options{ //nolint:exhaustruct
		Logger: &app.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize event publisher: %w", err)
	}

	app.publisher = publisher
	app.closers = append(app.closers, runner.Closer("events-publisher", publisher.Close))

	return nil
}

func (app *application) addCloser(name string, closeFn func()) {
	app.closers = append(app.closers, runner.Closer(name, func() error {
		closeFn()

		return nil
	}))
}

func (app *application) newHTTPServer() (*httpserver.Server, error) {
	server := httpserver.New(&httpserver.Config{
		Host:                  app.cfg.HTTPServerHost,
		Port:                  app.cfg.HTTPServerPort,
		EnableCors:            app.cfg.HTTPEnableCORS,
		AllowOrigins:          app.cfg.HTTPAllowOrigins,
		BodyLimit:             app.cfg.HTTPBodyLimit,
		ReadTimeout:           app.cfg.HTTPServerReadTimeout,
		WriteTimeout:          app.cfg.HTTPServerWriteTimeout,
		GracePeriod:           app.cfg.GracefulShutdownPeriod,
		IncludeInternalErrors: app.cfg.Env == logutil.EnvDevelopment,
	})

	if app.cfg.MetricServerEnabled {
		app.metrics = metricserver.NewHTTPMetrics(app.cfg.MetricNamespace)
		server.Echo.Use(app.metrics.Middleware())
	}

	repository := users.NewRepository(app.db)

	authConfig := middleware.DefaultAuthConfig()
	authConfig.Identies = app.identies
	authConfig.Verifier = app.verifier
	authConfig.UserService = repository
	authConfig.Logger = &app.logger

	if app.cfg.AuthorizationCacheEnabled {
		authConfig.IntrospectionCache = cache.New[identies.IntrospectResponse](
			app.redis.Client,
			introspectionCacheNamespace,
			cache.WithTTL(app.cfg.AuthorizationCacheTTL),
			cache.WithLogger(app.logger),
		)
		authConfig.IntrospectionCacheTTL = app.cfg.AuthorizationCacheTTL
	}

	authentication, err := middleware.Authentication(authConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build authentication middleware: %w", err)
	}

	onboardingConfig := middleware.DefaultOnboardingConfig()
	onboardingConfig.Identies = app.identies
	onboardingConfig.UserService = repository
	onboardingConfig.Publisher = app.publisher
	onboardingConfig.EventFactory = events.NewFactory(app.cfg.EventTypePrefix, app.cfg.EventSourcePrefix)
	onboardingConfig.EventTopic = app.cfg.EventTopic
	onboardingConfig.Logger = &app.logger

	if app.cfg.OnboardingLockEnabled {
		onboardingConfig.Locker = distlock.New(app.redis.Client, distlock.WithPrefix(onboardingLockPrefix))
	}

	onboarding, err := middleware.Onboarding(onboardingConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build onboarding middleware: %w", err)
	}

	opts, err := app.backendRoutes()
	if err != nil {
		return nil, err
	}

	opts = append(opts, api.WithUserDirectory(repository))

	handler := api.New(map[string]api.Check{
		"postgres": func(ctx context.Context) error { return app.db.HealthCheck(ctx) },
		"redis":    app.redis.HealthCheck,
	}, opts...)

	handler.Register(server.Root, server.Root.Group("/v1", authentication, onboarding))

	return server, nil
}

// backendRoutes enables the routes of every backend with a configured base
// URL. Calls are made with the service account token.
func (app *application) backendRoutes() ([]api.Option, error) {
	var opts []api.Option

	tokens := app.serviceAccountTokens()

	if app.cfg.CustosBaseURL != "" {
		client, err := custos.New(app.cfg.CustosBaseURL, app.clientOptions(tokens...)...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize custos client: %w", err)
		}

		app.addCloser(custos.ServiceName, client.Close)
		opts = append(opts, api.WithAuthorizer(client))
	}

	if app.cfg.VaultaBaseURL != "" {
		client, err := vaulta.New(app.cfg.VaultaBaseURL, app.clientOptions(tokens...)...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vaulta client: %w", err)
		}

		app.addCloser(vaulta.ServiceName, client.Close)
		opts = append(opts, api.WithAssetStore(client))
	}

	if app.cfg.QuoreBaseURL != "" {
		client, err := quore.New(app.cfg.QuoreBaseURL, app.clientOptions(tokens...)...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize quore client: %w", err)
		}

		app.addCloser(quore.ServiceName, client.Close)
		opts = append(opts, api.WithSummarizer(client))
	}

	return opts, nil
}

// serviceAccountTokens returns the client-credentials token provider option,
// shared by every backend client, or nothing when no service account is set.
func (app *application) serviceAccountTokens() []httpclient.Option {
	if app.tokens != nil || app.cfg.ServiceAccountClientID == "" || app.cfg.OIDCDomain == "" {
		return app.tokens
	}

	tokens := authtoken.NewFromDomain(
		app.cfg.OIDCDomain,
		app.cfg.ServiceAccountClientID,
		app.cfg.ServiceAccountClientSecret,
		authtoken.WithAudience(app.cfg.OIDCAPIAudience),
		authtoken.WithHTTPOptions(httpclient.WithSession(app.session)),
	)

	app.tokens = []httpclient.Option{httpclient.WithTokenProvider(tokens)}
	app.addCloser("authtoken", tokens.Close)

	return app.tokens
}

func (app *application) newWelcomeSubscriber() (*events.Subscriber, error) {
	if app.cfg.SendlyBaseURL == "" {
		log.Warn().Msg("SENDLY_BASE_URL is not set, welcome emails are disabled")

		return nil, nil //nolint:nilnil
	}

	mailer, err := sendly.New(app.cfg.SendlyBaseURL, app.clientOptions(app.serviceAccountTokens()...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sendly client: %w", err)
	}

	app.addCloser(sendly.ServiceName, mailer.Close)

	sender := welcome.New(mailer, welcome.Config{
		FromEmail: app.cfg.WelcomeEmailFrom,
		TenantID:  app.cfg.WelcomeEmailTenantID,
	}, app.logger)

	factory := events.NewFactory(app.cfg.EventTypePrefix, app.cfg.EventSourcePrefix)
	router := events.NewRouter(app.logger).Handle(factory.Type(events.TypeUserOnboarded), sender.Handle)

	subscriber, err := events.NewSubscriber(
		app.redis.Client,
		app.cfg.EventConsumerGroup,
		app.cfg.EventTopic,
		router.Dispatch,
		events.WithRetry(welcomeMaxRetries, welcomeRetryDelay, app.cfg.EventTopic+deadLetterSuffix),
		events.WithSubscriberLogger(app.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event subscriber: %w", err)
	}

	return subscriber, nil
}
