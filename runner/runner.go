package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultShutdownTimeout = 30 * time.Second

var (
	ErrServicePanic   = errors.New("runner: service panicked")
	ErrServiceFailed  = errors.New("runner: service failed to start")
	ErrShutdownTimout = errors.New("runner: shutdown timeout exceeded")
)

type Service interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Closer wraps a resource that only needs releasing on shutdown, such as an
// httpclient.Session or an SDK client, as a Service.
func Closer(name string, closeFn func() error) Service {
	return &closer{name: name, closeFn: closeFn}
}

type closer struct {
	name    string
	closeFn func() error
}

func (c *closer) Start(context.Context) error { return nil }

func (c *closer) Stop() error { return c.closeFn() }

func (c *closer) Name() string { return c.name }

type Runner struct {
	coreServices           []Service
	infrastructureServices []Service
	shutdownTimeout        time.Duration
}

type Option func(*Runner)

func New(opts ...Option) *Runner {
	runner := &Runner{
		coreServices:           make([]Service, 0),
		infrastructureServices: make([]Service, 0),
		shutdownTimeout:        defaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(runner)
	}

	return runner
}

func WithCoreService(svc Service) Option {
	return func(r *Runner) {
		r.coreServices = append(r.coreServices, svc)
		log.Info().
			Str("service_type", "core").
			Str("service_name", svc.Name()).
			Msg("Core service registered")
	}
}

func WithInfrastructureService(svc Service) Option {
	return func(r *Runner) {
		r.infrastructureServices = append(r.infrastructureServices, svc)
		log.Info().
			Str("service_type", "infrastructure").
			Str("service_name", svc.Name()).
			Msg("Infrastructure service registered")
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.shutdownTimeout = d
	}
}

// Run starts infrastructure then core services and blocks until ctx is
// cancelled or SIGINT/SIGTERM arrives. Services are stopped in reverse order:
// core first, infrastructure last.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("Starting infrastructure services")

	if err := r.startServices(ctx, r.infrastructureServices); err != nil {
		log.Error().Err(err).Msg("Infrastructure services failed to start")

		return errors.Join(err, r.shutdownWithTimeout(r.infrastructureServices))
	}

	log.Info().Msg("Starting core services")

	if err := r.startServices(ctx, r.coreServices); err != nil {
		log.Error().Err(err).Msg("Core services failed to start")

		return errors.Join(
			err,
			r.shutdownWithTimeout(r.coreServices),
			r.shutdownWithTimeout(r.infrastructureServices),
		)
	}

	log.Info().
		Int("pid", os.Getpid()).
		Int("core_services", len(r.coreServices)).
		Int("infra_services", len(r.infrastructureServices)).
		Msg("All services started, waiting for shutdown signal")

	<-ctx.Done()
	log.Warn().Msg("Shutdown signal received")

	err := errors.Join(
		r.shutdownWithTimeout(r.coreServices),
		r.shutdownWithTimeout(r.infrastructureServices),
	)

	log.Info().Msg("Graceful shutdown completed")

	return err
}

func (r *Runner) startServices(ctx context.Context, services []Service) error {
	if len(services) == 0 {
		return nil
	}

	errCh := make(chan error, len(services))

	for _, svc := range services {
		go func(service Service) {
			defer func() {
				if rec := recover(); rec != nil {
					errCh <- fmt.Errorf("%w: %s: %v", ErrServicePanic, service.Name(), rec)
				}
			}()

			log.Info().Str("service_name", service.Name()).Msg("Starting service")

			if err := service.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%w: %s: %w", ErrServiceFailed, service.Name(), err)
			}
		}(svc)
	}

	// Only catches services that fail synchronously.
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(startupGrace):
		return nil
	}
}

// startupGrace gives services a moment to fail fast, e.g. a listener that
// cannot bind its port.
const startupGrace = 50 * time.Millisecond

func (r *Runner) shutdownWithTimeout(services []Service) error {
	if len(services) == 0 {
		return nil
	}

	done := make(chan error, 1)

	go func() {
		done <- r.concurrentStop(services)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.shutdownTimeout):
		log.Error().
			Dur("timeout", r.shutdownTimeout).
			Msg("Shutdown timeout exceeded, some services may not have stopped cleanly")

		return ErrShutdownTimout
	}
}

func (r *Runner) concurrentStop(services []Service) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, svc := range services {
		wg.Go(func() {
			log.Info().Str("service_name", svc.Name()).Msg("Stopping service")

			if err := svc.Stop(); err != nil {
				log.Error().
					Err(err).
					Str("service_name", svc.Name()).
					Msg("Service failed to stop")

				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", svc.Name(), err))
				mu.Unlock()

				return
			}

			log.Info().
				Str("service_name", svc.Name()).
				Msg("Service stopped")
		})
	}

	wg.Wait()

	return errors.Join(errs...)
}
