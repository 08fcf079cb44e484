package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andyle182810/tessera-sdk/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type onboarded struct {
	UserID string `json:"user_id"`
}

func TestFactory_PrefixesTypeAndSource(t *testing.T) {
	t.Parallel()

	factory := events.NewFactory("com.example", "accounts-api")
	projectID := uuid.New()

	event, err := factory.New(events.TypeUserOnboarded, "/users/42", onboarded{UserID: "42"},
		events.WithSubject("42"),
		events.WithUserID("ext-42"),
		events.WithTags("onboarding"),
		events.WithProjectID(projectID),
	)

	require.NoError(t, err)
	require.Equal(t, "com.example.user.onboarded", event.Type)
	require.Equal(t, "/accounts-api/users/42", event.Source)
	require.Equal(t, events.SpecVersion, event.SpecVersion)
	require.Equal(t, events.DefaultDataContentType, event.DataContentType)
	require.Equal(t, "ext-42", event.UserID)
	require.Equal(t, []string{"onboarding"}, event.Tags)
	require.Equal(t, projectID, *event.ProjectID)
	require.NoError(t, uuid.Validate(event.ID))
	require.WithinDuration(t, time.Now(), event.Time, time.Minute)

	var data onboarded
	require.NoError(t, event.DecodeData(&data))
	require.Equal(t, "42", data.UserID)
}

func TestFactory_Defaults(t *testing.T) {
	t.Parallel()

	factory := events.NewFactory("", "")

	require.Equal(t, events.DefaultTypePrefix+".x", factory.Type("x"))
	require.Equal(t, "/"+events.DefaultSourcePrefix, factory.Source(""))
}

func TestFactory_RejectsUnencodableData(t *testing.T) {
	t.Parallel()

	_, err := events.NewFactory("", "").New("x", "", make(chan int))

	require.ErrorIs(t, err, events.ErrEncodeData)
}

func TestEvent_Validate(t *testing.T) {
	t.Parallel()

	valid := events.Event{Source: "/s", Type: "t", SpecVersion: "1.0"} //nolint:exhaustruct
	require.NoError(t, valid.Validate())

	missingSource := valid
	missingSource.Source = " "
	require.ErrorIs(t, missingSource.Validate(), events.ErrMissingSource)

	missingType := valid
	missingType.Type = ""
	require.ErrorIs(t, missingType.Validate(), events.ErrMissingType)

	wrongVersion := valid
	wrongVersion.SpecVersion = "0.3"
	require.ErrorIs(t, wrongVersion.Validate(), events.ErrUnsupportedVersion)
}

func TestRouter_DispatchesByType(t *testing.T) {
	t.Parallel()

	errHandled := errors.New("handled")
	router := events.NewRouter(zerolog.Nop()).
		Handle("a", func(context.Context, *events.Event) error { return errHandled })

	require.ErrorIs(t, router.Dispatch(t.Context(), &events.Event{Type: "a"}), errHandled) //nolint:exhaustruct
	require.NoError(t, router.Dispatch(t.Context(), &events.Event{Type: "b"}))             //nolint:exhaustruct
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	publisher := events.NopPublisher{Logger: zerolog.Nop()}

	require.NoError(t, publisher.Publish(t.Context(), "topic", &events.Event{Type: "x"}, nil)) //nolint:exhaustruct
	require.NoError(t, publisher.Close())
}
