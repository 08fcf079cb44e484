package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTopic          = "tessera.events"
	defaultPublishTimeout = 5 * time.Second

	MetadataType        = "ce_type"
	MetadataSource      = "ce_source"
	MetadataContentType = "content_type"
)

var (
	ErrPublisherInitialization = errors.New("events: failed to initialize redis stream publisher")
	ErrPublishFailed           = errors.New("events: failed to publish events")
	ErrNilRedisClient          = errors.New("events: redis client is required")
	ErrInvalidMaxStreamEntries = errors.New("events: max stream entries cannot be negative")
	ErrNilEvent                = errors.New("events: event must not be nil")
)

type Publisher interface {
	Publish(ctx context.Context, topic string, events ...*Event) error
	Close() error
}

type Options struct {
	MaxStreamEntries int64
	Timeout          time.Duration
	Logger           *zerolog.Logger
}

type RedisPublisher struct {
	publisher *redisstream.Publisher
	timeout   time.Duration
	logger    zerolog.Logger
}

var _ Publisher = (*RedisPublisher)(nil)

func NewPublisher(redisClient goredis.UniversalClient, opts Options) (*RedisPublisher, error) {
	if redisClient == nil {
		return nil, ErrNilRedisClient
	}

	if opts.MaxStreamEntries < 0 {
		return nil, ErrInvalidMaxStreamEntries
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{ //nolint:exhaustruct
			Client:        redisClient,
			Marshaller:    redisstream.DefaultMarshallerUnmarshaller{},
			Maxlens:       map[string]int64{},
			DefaultMaxlen: opts.MaxStreamEntries,
		},
		NewLoggerAdapter(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPublisherInitialization, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	return &RedisPublisher{
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, events ...*Event) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	messages := make([]*message.Message, 0, len(events))

	for _, event := range events {
		msg, err := newMessage(ctx, event)
		if err != nil {
			return err
		}

		messages = append(messages, msg)
	}

	if err := p.publisher.Publish(topic, messages...); err != nil {
		return fmt.Errorf("%w to topic %s: %w", ErrPublishFailed, topic, err)
	}

	for _, event := range events {
		p.logger.Info().
			Str("topic", topic).
			Str("event_id", event.ID).
			Str("event_type", event.Type).
			Msg("The event has been published")
	}

	return nil
}

func newMessage(ctx context.Context, event *Event) (*message.Message, error) {
	if event == nil {
		return nil, ErrNilEvent
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeData, err)
	}

	msg := message.NewMessageWithContext(ctx, event.ID, payload)
	msg.Metadata.Set(MetadataType, event.Type)
	msg.Metadata.Set(MetadataSource, event.Source)
	msg.Metadata.Set(MetadataContentType, DefaultDataContentType)

	return msg, nil
}

func (p *RedisPublisher) Close() error {
	return p.publisher.Close()
}

// NopPublisher drops events. It stands in when publishing is disabled.
type NopPublisher struct {
	Logger zerolog.Logger
}

var _ Publisher = NopPublisher{} //nolint:exhaustruct

func (n NopPublisher) Publish(_ context.Context, topic string, events ...*Event) error {
	for _, event := range events {
		if event == nil {
			continue
		}

		n.Logger.Debug().
			Str("topic", topic).
			Str("event_type", event.Type).
			Msg("The event publishing is disabled, skipping event")
	}

	return nil
}

func (NopPublisher) Close() error {
	return nil
}
