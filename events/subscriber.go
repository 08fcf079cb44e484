package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	defaultExecTimeout     = 30 * time.Second
)

var (
	ErrEmptyConsumerGroup = errors.New("events: consumer group name cannot be empty")
	ErrEmptyTopicName     = errors.New("events: topic name cannot be empty")
	ErrNilHandler         = errors.New("events: handler cannot be nil")
	ErrMaxRetriesExceeded = errors.New("events: max retries exceeded")
	ErrExecTimeout        = errors.New("events: handler execution timed out")
	ErrAlreadyRunning     = errors.New("events: subscriber already running")
	ErrMalformedEvent     = errors.New("events: malformed event payload")
)

type Handler func(ctx context.Context, event *Event) error

type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	// DLQTopic receives events that still fail after MaxRetries. Empty
	// disables the dead letter stream.
	DLQTopic string
}

type SubscriberConfig struct {
	BlockTime       time.Duration
	ClaimInterval   time.Duration
	MaxIdleTime     time.Duration
	ShutdownTimeout time.Duration
	ExecTimeout     time.Duration
	Retry           *RetryConfig
	Logger          zerolog.Logger
}

type SubscriberOption func(*SubscriberConfig)

func WithBlockTime(d time.Duration) SubscriberOption {
	return func(c *SubscriberConfig) {
		c.BlockTime = d
	}
}

func WithClaimInterval(d time.Duration) SubscriberOption {
	return func(c *SubscriberConfig) {
		c.ClaimInterval = d
	}
}

func WithMaxIdleTime(d time.Duration) SubscriberOption {
	return func(c *SubscriberConfig) {
		c.MaxIdleTime = d
	}
}

func WithRetry(maxRetries int, retryDelay time.Duration, dlqTopic string) SubscriberOption {
	return func(c *SubscriberConfig) {
		c.Retry = &RetryConfig{
			MaxRetries: maxRetries,
			RetryDelay: retryDelay,
			DLQTopic:   dlqTopic,
		}
	}
}

func WithShutdownTimeout(d time.Duration) SubscriberOption {
	return func(c *SubscriberConfig) {
		c.ShutdownTimeout = d
	}
}

func WithExecTimeout(d time.Duration) SubscriberOption {
	return func(c *SubscriberConfig) {
		c.ExecTimeout = d
	}
}

func WithSubscriberLogger(logger zerolog.Logger) SubscriberOption {
	return func(c *SubscriberConfig) {
		c.Logger = logger
	}
}

// Subscriber consumes events from one stream as a member of a consumer group.
type Subscriber struct {
	subscriber     *redisstream.Subscriber
	name           string
	topic          string
	consumerGroup  string
	shutdownSignal chan struct{}
	stoppedSignal  chan struct{}
	handler        Handler
	config         SubscriberConfig
	healthy        atomic.Bool
	running        atomic.Bool
	redisClient    goredis.UniversalClient
}

func NewSubscriber(
	redisClient goredis.UniversalClient,
	consumerGroup,
	topic string,
	handler Handler,
	opts ...SubscriberOption,
) (*Subscriber, error) {
	if redisClient == nil {
		return nil, ErrNilRedisClient
	}

	if consumerGroup == "" {
		return nil, ErrEmptyConsumerGroup
	}

	if topic == "" {
		return nil, ErrEmptyTopicName
	}

	if handler == nil {
		return nil, ErrNilHandler
	}

	config := SubscriberConfig{ //nolint:exhaustruct
		ShutdownTimeout: defaultShutdownTimeout,
		ExecTimeout:     defaultExecTimeout,
		Logger:          log.Logger,
	}

	for _, opt := range opts {
		opt(&config)
	}

	redisSubscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{ //nolint:exhaustruct
			Client:        redisClient,
			Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
			ConsumerGroup: consumerGroup,
			BlockTime:     config.BlockTime,
			ClaimInterval: config.ClaimInterval,
			MaxIdleTime:   config.MaxIdleTime,
		},
		NewLoggerAdapter(config.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("events: failed to create redis subscriber: %w", err)
	}

	config.Logger = config.Logger.With().
		Str("topic", topic).
		Str("consumer_group", consumerGroup).
		Logger()

	return &Subscriber{ //nolint:exhaustruct
		subscriber:     redisSubscriber,
		name:           fmt.Sprintf("events-%s-%s", consumerGroup, topic),
		topic:          topic,
		consumerGroup:  consumerGroup,
		shutdownSignal: make(chan struct{}),
		stoppedSignal:  make(chan struct{}),
		handler:        handler,
		config:         config,
		redisClient:    redisClient,
	}, nil
}

func (s *Subscriber) Name() string {
	return s.name
}

func (s *Subscriber) Topic() string {
	return s.topic
}

func (s *Subscriber) IsHealthy() bool {
	return s.healthy.Load()
}

// Start blocks until ctx is cancelled or Stop is called.
func (s *Subscriber) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	defer close(s.stoppedSignal)

	s.config.Logger.Info().Msg("The subscription is being started")

	msgChan, err := s.subscriber.Subscribe(ctx, s.topic)
	if err != nil {
		return fmt.Errorf("events: subscription to topic %s failed: %w", s.topic, err)
	}

	s.healthy.Store(true)

	for {
		select {
		case <-ctx.Done():
			s.healthy.Store(false)
			s.config.Logger.Info().Msg("The subscription has been stopped due to context cancellation")

			return ctx.Err()
		case <-s.shutdownSignal:
			s.healthy.Store(false)
			s.config.Logger.Info().Msg("The subscription has been stopped")

			return nil
		case msg, ok := <-msgChan:
			if !ok {
				s.healthy.Store(false)

				return nil
			}

			if msg == nil || msg.UUID == "" {
				continue
			}

			if err := s.handleMessage(ctx, msg); err != nil {
				s.config.Logger.Error().
					Err(err).
					Str("message_id", msg.UUID).
					Msg("The message processing has failed")
			}
		}
	}
}

func (s *Subscriber) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.healthy.Store(false)
	close(s.shutdownSignal)

	select {
	case <-s.stoppedSignal:
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Error().
			Dur("timeout", s.config.ShutdownTimeout).
			Msg("Timeout waiting for subscriber to stop")
	}

	return s.subscriber.Close()
}

func (s *Subscriber) handleMessage(ctx context.Context, msg *message.Message) error {
	var event Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// Redelivering an undecodable payload cannot succeed.
		msg.Ack()

		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	if err := s.processWithRetry(ctx, &event); err != nil {
		s.handleFailedMessage(ctx, msg, err)

		return fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err)
	}

	msg.Ack()

	return nil
}

func (s *Subscriber) processWithRetry(ctx context.Context, event *Event) error {
	maxAttempts := 1
	if s.config.Retry != nil && s.config.Retry.MaxRetries > 0 {
		maxAttempts = s.config.Retry.MaxRetries + 1
	}

	var processingErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		processingErr = s.executeWithTimeout(ctx, event)
		if processingErr == nil {
			return nil
		}

		if attempt < maxAttempts {
			s.config.Logger.Warn().
				Err(processingErr).
				Str("event_id", event.ID).
				Int("attempt", attempt).
				Int("max_attempts", maxAttempts).
				Msg("Event processing failed, retrying")

			if err := s.waitForRetry(ctx); err != nil {
				return err
			}
		}
	}

	return processingErr
}

func (s *Subscriber) executeWithTimeout(ctx context.Context, event *Event) error {
	if s.config.ExecTimeout <= 0 {
		return s.handler(ctx, event)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.config.ExecTimeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- s.handler(execCtx, event)
	}()

	select {
	case err := <-done:
		return err
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: exceeded %v", ErrExecTimeout, s.config.ExecTimeout)
		}

		return execCtx.Err()
	}
}

func (s *Subscriber) waitForRetry(ctx context.Context) error {
	if s.config.Retry == nil || s.config.Retry.RetryDelay <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.config.Retry.RetryDelay):
		return nil
	}
}

// handleFailedMessage acks messages parked on the dead letter stream and
// nacks the rest for redelivery.
func (s *Subscriber) handleFailedMessage(ctx context.Context, msg *message.Message, processingErr error) {
	if s.config.Retry == nil || s.config.Retry.DLQTopic == "" {
		msg.Nack()

		return
	}

	//nolint:exhaustruct
	err := s.redisClient.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.config.Retry.DLQTopic,
		Values: map[string]any{
			"uuid":           msg.UUID,
			"payload":        string(msg.Payload),
			"original_topic": s.topic,
			"consumer_group": s.consumerGroup,
			"error":          processingErr.Error(),
			"failed_at":      time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		s.config.Logger.Error().
			Err(err).
			Str("message_id", msg.UUID).
			Msg("Failed to send message to DLQ")
		msg.Nack()

		return
	}

	msg.Ack()
}

// Router dispatches events to handlers registered for their type. Events
// without a handler are acknowledged and ignored.
type Router struct {
	handlers map[string]Handler
	logger   zerolog.Logger
}

func NewRouter(logger zerolog.Logger) *Router {
	return &Router{handlers: make(map[string]Handler), logger: logger}
}

func (r *Router) Handle(eventType string, handler Handler) *Router {
	r.handlers[eventType] = handler

	return r
}

func (r *Router) Dispatch(ctx context.Context, event *Event) error {
	handler, ok := r.handlers[event.Type]
	if !ok {
		r.logger.Debug().
			Str("event_type", event.Type).
			Msg("No handler is registered for the event type")

		return nil
	}

	return handler(ctx, event)
}
