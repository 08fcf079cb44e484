package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func MustParseJSONResponse(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()

	require.Contains(t, rec.Header().Get("Content-Type"), "application/json",
		"Response Content-Type should be application/json")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), target), "Failed to parse JSON response")
}

// AssertJSONError checks the status and the single-field error body written
// by the SDK middleware, e.g. {"error": "Invalid token"}.
func AssertJSONError(t *testing.T, rec *httptest.ResponseRecorder, status int, field, message string) {
	t.Helper()

	require.Equal(t, status, rec.Code, "Response status code mismatch: %s", rec.Body.String())

	var body map[string]any

	MustParseJSONResponse(t, rec, &body)
	require.Equal(t, message, body[field])
}

// WriteJSON is a handler helper for fake backends.
func WriteJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if body == nil {
		return
	}

	raw, err := json.Marshal(body)
	if err != nil {
		t.Errorf("failed to marshal fake response: %v", err)

		return
	}

	_, _ = w.Write(raw)
}
