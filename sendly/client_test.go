package sendly_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/andyle182810/tessera-sdk/httpclient"
	"github.com/andyle182810/tessera-sdk/sendly"
	"github.com/andyle182810/tessera-sdk/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func welcomeEmail() *sendly.SendEmailRequest {
	return &sendly.SendEmailRequest{
		Name:              "welcome",
		TenantID:          "tenant-123",
		FromEmail:         "noreply@example.com",
		Subject:           "Welcome!",
		HTML:              "<p>Hello ${name}!</p>",
		To:                []string{"ada@example.com"},
		TemplateVariables: nil,
	}
}

func TestSendEmail_ReturnsTypedResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/emails/send", r.URL.Path)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tenant-123", body["tenant_id"])
		assert.Equal(t, []any{"ada@example.com"}, body["to"])
		assert.Equal(t, map[string]any{}, body["template_variables"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "email-1",
			"from_email": "noreply@example.com",
			"to_email": "ada@example.com",
			"subject": "Welcome!",
			"body": "<p>Hello Ada!</p>",
			"status": "sent",
			"provider_id": "ses",
			"provider_message_id": "msg-9",
			"tenant_id": "tenant-123",
			"sent_at": "2024-01-01T00:00:00Z",
			"created_at": "2024-01-01T00:00:00Z",
			"updated_at": "2024-01-01T00:00:01Z"
		}`))
	}))
	defer server.Close()

	client, err := sendly.New(server.URL)
	require.NoError(t, err)

	resp, err := client.SendEmail(t.Context(), welcomeEmail())

	require.NoError(t, err)
	require.Equal(t, "email-1", resp.ID)
	require.Equal(t, "ada@example.com", resp.ToEmail)
	require.Equal(t, "<p>Hello Ada!</p>", resp.Body)
	require.Equal(t, "sent", resp.Status)
	require.Equal(t, "ses", resp.ProviderID)
	require.Equal(t, "msg-9", resp.ProviderMessageID)
	require.Equal(t, "tenant-123", resp.TenantID)
	require.NotNil(t, resp.SentAt)
	require.NotNil(t, resp.UpdatedAt)
	require.Empty(t, resp.ErrorMessage)
}

func TestSendEmail_RejectsInvalidRequestsWithoutCallingAPI(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := sendly.New(server.URL)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*sendly.SendEmailRequest)
		message string
	}{
		{"no recipients", func(r *sendly.SendEmailRequest) { r.To = nil }, "to must contain at least 1 item(s)"},
		{"bad recipient", func(r *sendly.SendEmailRequest) { r.To = []string{"nope"} }, "to[0] must be a valid email"},
		{"bad sender", func(r *sendly.SendEmailRequest) { r.FromEmail = "nope" }, "from_email must be a valid email"},
		{"blank tenant", func(r *sendly.SendEmailRequest) { r.TenantID = "" }, "tenant_id is required"},
		{"blank subject", func(r *sendly.SendEmailRequest) { r.Subject = "  " }, "subject is required"},
	}

	for _, tt := range tests {
		req := welcomeEmail()
		tt.mutate(req)

		_, err := client.SendEmail(t.Context(), req)

		require.ErrorIs(t, err, validator.ErrInvalidRequest, tt.name)
		require.ErrorContains(t, err, tt.message, tt.name)
	}

	_, err = client.SendEmail(t.Context(), nil)
	require.ErrorIs(t, err, sendly.ErrNilRequest)

	require.Zero(t, hits.Load())
}

func TestSendEmail_MapsValidationResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"unknown tenant"}`))
	}))
	defer server.Close()

	client, err := sendly.New(server.URL)
	require.NoError(t, err)

	_, err = client.SendEmail(t.Context(), welcomeEmail())

	require.ErrorIs(t, err, httpclient.ErrValidation)

	apiErr, ok := httpclient.AsError(err)
	require.True(t, ok)
	require.Equal(t, "unknown tenant", apiErr.Message)
	require.Equal(t, sendly.ServiceName, apiErr.Service)
}

func TestSendEmail_PreservesOtherClientErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))
	defer server.Close()

	client, err := sendly.New(server.URL)
	require.NoError(t, err)

	_, err = client.SendEmail(t.Context(), welcomeEmail())

	require.ErrorIs(t, err, httpclient.ErrClient)
	require.Equal(t, http.StatusPaymentRequired, httpclient.StatusCode(err))
}
