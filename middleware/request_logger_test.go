package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andyle182810/tessera-sdk/middleware"
	"github.com/andyle182810/tessera-sdk/testutil"
	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger_LogsRequestAndUser(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	user := newUser("auth0|ada")
	logger := zerolog.New(&buf)

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set(middleware.HeaderXRequestID, "0b7f6e1c-2f0a-4c36-9a53-9b9a3a8f6b11")

	rec := testutil.Serve(t, req, func(c *echo.Context) error {
		return c.NoContent(http.StatusAccepted)
	},
		middleware.RequestID(nil),
		middleware.RequestLogger(logger, func(*echo.Context) map[string]any {
			return map[string]any{"tenant": "acme"}
		}),
		withPrincipal(user),
	)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "info", entry["level"])
	require.InDelta(t, http.StatusAccepted, entry["status"], 0)
	require.Equal(t, "0b7f6e1c-2f0a-4c36-9a53-9b9a3a8f6b11", entry["request_id"])
	require.Equal(t, user.ID.String(), entry["user_id"])
	require.Equal(t, "acme", entry["tenant"])
	require.Equal(t, "GET /projects", entry["request"])
}

func TestRequestLogger_LogsFailedRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		level  string
	}{
		{name: "client error", err: echo.NewHTTPError(http.StatusUnauthorized, "Invalid token"), status: 401, level: "warn"},
		{name: "unknown error", err: errDatabaseDown, status: 500, level: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer

			req := httptest.NewRequest(http.MethodGet, "/projects", nil)
			rec := testutil.Serve(t, req, func(*echo.Context) error {
				return tt.err
			}, middleware.RequestLogger(zerolog.New(&buf)))

			require.Equal(t, tt.status, rec.Code)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			require.Equal(t, tt.level, entry["level"])
			require.InDelta(t, tt.status, entry["status"], 0)
			require.NotEmpty(t, entry["error"])
		})
	}
}
