// Package events publishes and consumes CloudEvents v1.0 envelopes over
// Redis Streams.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SpecVersion            = "1.0"
	DefaultDataContentType = "application/json"
	DefaultTypePrefix      = "com.tessera"
	DefaultSourcePrefix    = "tessera-api"

	TypeUserOnboarded = "user.onboarded"
)

var (
	ErrMissingSource      = errors.New("events: source must be a non-empty string")
	ErrMissingType        = errors.New("events: type must be a non-empty string")
	ErrUnsupportedVersion = errors.New("events: only specversion 1.0 is supported")
	ErrEncodeData         = errors.New("events: failed to encode data")
	ErrDecodeData         = errors.New("events: failed to decode data")
)

//nolint:tagliatelle
type Event struct {
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	SpecVersion     string          `json:"specversion"`
	Type            string          `json:"type"`
	DataContentType string          `json:"datacontenttype,omitempty"`
	DataSchema      string          `json:"dataschema,omitempty"`
	Subject         string          `json:"subject,omitempty"`
	Time            time.Time       `json:"time"`
	Data            json.RawMessage `json:"data,omitempty"`
	UserID          string          `json:"userid,omitempty"`
	Labels          map[string]any  `json:"labels,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	ProjectID       *uuid.UUID      `json:"projectid,omitempty"`
}

func (e *Event) Validate() error {
	if strings.TrimSpace(e.Source) == "" {
		return ErrMissingSource
	}

	if strings.TrimSpace(e.Type) == "" {
		return ErrMissingType
	}

	if e.SpecVersion != SpecVersion {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, e.SpecVersion)
	}

	return nil
}

// DecodeData unmarshals the payload into dest.
func (e *Event) DecodeData(dest any) error {
	if err := json.Unmarshal(e.Data, dest); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodeData, err)
	}

	return nil
}

type EventOption func(*Event)

func WithSubject(subject string) EventOption {
	return func(e *Event) {
		e.Subject = subject
	}
}

func WithUserID(userID string) EventOption {
	return func(e *Event) {
		e.UserID = userID
	}
}

func WithLabels(labels map[string]any) EventOption {
	return func(e *Event) {
		e.Labels = labels
	}
}

func WithTags(tags ...string) EventOption {
	return func(e *Event) {
		e.Tags = tags
	}
}

func WithProjectID(projectID uuid.UUID) EventOption {
	return func(e *Event) {
		e.ProjectID = &projectID
	}
}

func WithTime(t time.Time) EventOption {
	return func(e *Event) {
		e.Time = t.UTC()
	}
}

// Factory builds events whose type and source carry the service prefixes,
// e.g. "com.tessera.user.onboarded" from "/tessera-api/users".
type Factory struct {
	typePrefix   string
	sourcePrefix string
}

func NewFactory(typePrefix, sourcePrefix string) *Factory {
	if typePrefix == "" {
		typePrefix = DefaultTypePrefix
	}

	if sourcePrefix == "" {
		sourcePrefix = DefaultSourcePrefix
	}

	return &Factory{typePrefix: typePrefix, sourcePrefix: sourcePrefix}
}

func (f *Factory) Type(eventType string) string {
	return f.typePrefix + "." + eventType
}

func (f *Factory) Source(source string) string {
	return "/" + f.sourcePrefix + source
}

func (f *Factory) New(eventType, source string, data any, opts ...EventOption) (*Event, error) {
	//nolint:exhaustruct
	event := &Event{
		ID:              uuid.NewString(),
		Source:          f.Source(source),
		SpecVersion:     SpecVersion,
		Type:            f.Type(eventType),
		DataContentType: DefaultDataContentType,
		Time:            time.Now().UTC(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncodeData, err)
		}

		event.Data = raw
	}

	for _, opt := range opts {
		opt(event)
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}

	return event, nil
}
