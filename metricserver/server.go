package metricserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	metricsPath        = "/metrics"
	statusPath         = "/status"
	defaultGracePeriod = 5 * time.Second
)

var ErrServerNotRunning = errors.New("metricserver: server is not running")

type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	GracePeriod  time.Duration
}

// Server exposes a Prometheus registry on its own port, away from the
// public API.
type Server struct {
	gracePeriod time.Duration
	address     string
	echo        *echo.Echo
	registry    *prometheus.Registry
	httpServer  *http.Server
	listener    net.Listener
}

func New(cfg *Config, cs ...prometheus.Collector) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), //nolint:exhaustruct
	)
	registry.MustRegister(cs...)

	ech := echo.New()

	ech.GET(statusPath, func(ctx *echo.Context) error {
		return ctx.JSON(http.StatusOK, map[string]any{"status": "ok"})
	})

	metrics := promhttp.HandlerFor(registry, promhttp.HandlerOpts{}) //nolint:exhaustruct
	ech.GET(metricsPath, func(ctx *echo.Context) error {
		metrics.ServeHTTP(ctx.Response(), ctx.Request())

		return nil
	})

	gracePeriod := cfg.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = defaultGracePeriod
	}

	return &Server{ //nolint:exhaustruct
		gracePeriod: gracePeriod,
		address:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		echo:        ech,
		registry:    registry,
		httpServer: &http.Server{ //nolint:exhaustruct
			Handler:      ech,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(ctx context.Context) error {
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.address) //nolint:exhaustruct
	if err != nil {
		return fmt.Errorf("metricserver: failed to listen on %s: %w", s.address, err)
	}

	s.listener = listener

	log.Info().Str("address", listener.Addr().String()).Msg("Starting metrics server")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server encountered a fatal error")
		}
	}()

	return nil
}

func (s *Server) Stop() error {
	if s.listener == nil {
		return ErrServerNotRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.gracePeriod)
	defer cancel()

	log.Info().Msg("Initiating graceful shutdown of metrics server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to gracefully shut down metrics server")

		return fmt.Errorf("metricserver: failed to stop: %w", err)
	}

	log.Info().Msg("Metrics server shutdown complete")

	return nil
}

func (s *Server) Name() string {
	return "metric"
}
