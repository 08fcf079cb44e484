package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/andyle182810/tessera-sdk/middleware"
	"github.com/andyle182810/tessera-sdk/validator"
	"github.com/labstack/echo/v5"
	echomiddleware "github.com/labstack/echo/v5/middleware"
	"github.com/rs/zerolog/log"
)

const (
	kilobyte           = 1 << 10
	megabyte           = 1 << 20
	gigabyte           = 1 << 30
	defaultBodyLimit   = 10 * megabyte
	defaultGracePeriod = 10 * time.Second
)

var ErrServerNotRunning = errors.New("httpserver: server is not running")

type Config struct {
	Host         string
	Port         int
	EnableCors   bool
	AllowOrigins []string
	BodyLimit    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	GracePeriod  time.Duration
	// IncludeInternalErrors exposes the wrapped error of 5xx responses.
	IncludeInternalErrors bool
}

type Server struct {
	address      string
	gracePeriod  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	Echo         *echo.Echo
	Root         *echo.Group
	httpServer   *http.Server
	listener     net.Listener
}

// New builds an echo server carrying the SDK error handler, request ids and
// request logging. Authentication and onboarding are mounted by the caller on
// Root since they need service clients.
func New(cfg *Config) *Server {
	e := echo.New()
	e.Validator = validator.DefaultRestValidator()
	e.HTTPErrorHandler = middleware.ErrorHandler(nil, &middleware.ErrorHandlerConfig{
		Logger:                &log.Logger,
		IncludeInternalErrors: cfg.IncludeInternalErrors,
	})

	e.Pre(echomiddleware.BodyLimit(parseBodyLimit(cfg.BodyLimit)))
	e.Use(middleware.RequestID(nil))
	e.Use(middleware.RequestLogger(log.Logger, PrincipalLogFieldsExtractor))

	if cfg.EnableCors {
		e.Use(echomiddleware.CORS(cfg.AllowOrigins...))
	}

	gracePeriod := cfg.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = defaultGracePeriod
	}

	return &Server{ //nolint:exhaustruct
		gracePeriod:  gracePeriod,
		address:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Echo:         e,
		Root:         e.Group(""),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

func parseBodyLimit(limit string) int64 {
	if limit == "" {
		return defaultBodyLimit
	}

	multiplier := int64(1)
	unit := limit[len(limit)-1:]

	switch unit {
	case "K", "k":
		multiplier = kilobyte
		limit = limit[:len(limit)-1]
	case "M", "m":
		multiplier = megabyte
		limit = limit[:len(limit)-1]
	case "G", "g":
		multiplier = gigabyte
		limit = limit[:len(limit)-1]
	}

	size, err := strconv.ParseInt(limit, 10, 64)
	if err != nil {
		return defaultBodyLimit
	}

	return size * multiplier
}

// Start binds the listener synchronously so a taken port fails the runner,
// then serves in the background.
func (s *Server) Start(ctx context.Context) error {
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.address) //nolint:exhaustruct
	if err != nil {
		return fmt.Errorf("httpserver: failed to listen on %s: %w", s.address, err)
	}

	s.listener = listener
	s.httpServer = &http.Server{ //nolint:exhaustruct
		Handler:      s.Echo,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	log.Info().
		Str("address", listener.Addr().String()).
		Msg("The HTTP server is being started")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped unexpectedly")
		}
	}()

	return nil
}

// Addr reports the bound address once Start has returned.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.address
	}

	return s.listener.Addr().String()
}

func (s *Server) Stop() error {
	log.Info().
		Msg("The graceful shutdown of HTTP server is being initiated")

	if s.httpServer == nil {
		return ErrServerNotRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.gracePeriod)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to gracefully stop HTTP server")

		return fmt.Errorf("httpserver: failed to stop: %w", err)
	}

	log.Info().
		Msg("The HTTP server shutdown has been completed successfully")

	return nil
}

func (s *Server) Name() string {
	return "http"
}

// PrincipalLogFieldsExtractor logs how the caller authenticated, never the
// credential itself.
func PrincipalLogFieldsExtractor(ctx *echo.Context) map[string]any {
	fields := make(map[string]any)

	switch {
	case middleware.GetAPIKey(ctx) != "":
		fields["auth_method"] = "api_key"
	case middleware.GetToken(ctx) != "":
		fields["auth_method"] = "bearer"
	default:
		fields["auth_method"] = "none"
	}

	if principal := middleware.GetPrincipal(ctx); principal != nil {
		fields["principal_type"] = fmt.Sprintf("%T", principal)
	}

	return fields
}
