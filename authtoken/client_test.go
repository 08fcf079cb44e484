package authtoken_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andyle182810/tessera-sdk/authtoken"
	"github.com/andyle182810/tessera-sdk/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, calls *atomic.Int32, expiresIn int) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		count := calls.Add(1)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("token-%d", count),
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
	t.Cleanup(server.Close)

	return server
}

func TestClient_PostsClientCredentialsAsJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/oauth/token", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req authtoken.TokenRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "client_credentials", req.GrantType)
		assert.Equal(t, "test-client", req.ClientID)
		assert.Equal(t, "test-secret", req.ClientSecret)
		assert.Equal(t, "https://api.tessera.dev", req.Audience)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "m2m-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"scope":        "read:users",
		})
	}))
	defer server.Close()

	client := authtoken.New(server.URL, "test-client", "test-secret",
		authtoken.WithAudience("https://api.tessera.dev"))

	resp, err := client.Token(t.Context())

	require.NoError(t, err)
	require.Equal(t, "m2m-access-token", resp.AccessToken)
	require.Equal(t, "read:users", resp.Scope)
	require.Equal(t, 3600, resp.ExpiresIn)
}

func TestClient_ReturnsCachedToken(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := tokenServer(t, &calls, 3600)
	client := authtoken.New(server.URL, "test-client", "test-secret")

	token1, err := client.GetToken(t.Context())
	require.NoError(t, err)

	token2, err := client.GetToken(t.Context())
	require.NoError(t, err)

	require.Equal(t, token1, token2)
	require.Equal(t, int32(1), calls.Load())
}

func TestClient_RefreshesTokenInsideExpiryBuffer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	// Expiry inside the refresh buffer makes every token stale on arrival.
	server := tokenServer(t, &calls, 1)
	client := authtoken.New(server.URL, "test-client", "test-secret")

	token1, err := client.GetToken(t.Context())
	require.NoError(t, err)

	token2, err := client.GetToken(t.Context())
	require.NoError(t, err)

	require.NotEqual(t, token1, token2)
	require.Equal(t, int32(2), calls.Load())
}

func TestClient_InvalidateTokenClearsCache(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := tokenServer(t, &calls, 3600)
	client := authtoken.New(server.URL, "test-client", "test-secret")

	token1, err := client.GetToken(t.Context())
	require.NoError(t, err)

	client.InvalidateToken()

	token2, err := client.GetToken(t.Context())
	require.NoError(t, err)

	require.NotEqual(t, token1, token2)
	require.Equal(t, int32(2), calls.Load())
}

func TestClient_ConcurrentRequestsShareToken(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "concurrent-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	client := authtoken.New(server.URL, "test-client", "test-secret")

	var wg sync.WaitGroup

	tokens := make([]string, 10)
	errs := make([]error, 10)

	for idx := range 10 {
		wg.Go(func() {
			tokens[idx], errs[idx] = client.GetToken(t.Context())
		})
	}

	wg.Wait()

	for idx := range 10 {
		require.NoError(t, errs[idx], "goroutine %d", idx)
		require.Equal(t, "concurrent-token", tokens[idx], "goroutine %d", idx)
	}

	require.Equal(t, int32(1), calls.Load())
}

func TestClient_HandlesTokenRequestFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := authtoken.New(server.URL, "test-client", "wrong-secret")

	_, err := client.GetToken(t.Context())

	require.ErrorIs(t, err, authtoken.ErrTokenRequestFailed)
	require.ErrorIs(t, err, httpclient.ErrAuthentication)
}

func TestClient_RetriesProviderOutage(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := authtoken.New(server.URL, "test-client", "test-secret",
		authtoken.WithMaxRetries(1),
		authtoken.WithHTTPOptions(httpclient.WithRetryWaitTime(time.Millisecond, 2*time.Millisecond)),
	)

	_, err := client.GetToken(t.Context())

	require.ErrorIs(t, err, httpclient.ErrServer)
	require.Equal(t, int32(2), calls.Load())
}

func TestClient_HandlesEmptyAccessToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	client := authtoken.New(server.URL, "test-client", "test-secret")

	_, err := client.GetToken(t.Context())

	require.ErrorIs(t, err, authtoken.ErrNoAccessToken)
}

func TestClient_RequiresTokenTypeAndExpiry(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "abc"})
	}))
	defer server.Close()

	client := authtoken.New(server.URL, "test-client", "test-secret")

	_, err := client.GetToken(t.Context())

	require.ErrorIs(t, err, authtoken.ErrInvalidTokenResponse)
}

func TestClient_RequiresCredentials(t *testing.T) {
	t.Parallel()

	client := authtoken.New("https://auth.example.com", "", "secret")

	_, err := client.GetToken(t.Context())

	require.ErrorIs(t, err, authtoken.ErrMissingCredentials)
}

func TestClient_PlugsIntoBaseClient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	tokens := tokenServer(t, &calls, 3600)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	provider := authtoken.New(tokens.URL, "svc", "secret")
	defer provider.Close()

	client := httpclient.New(api.URL, httpclient.WithTokenProvider(provider))

	require.NoError(t, client.Get(t.Context(), "/a", nil))
	require.NoError(t, client.Get(t.Context(), "/b", nil))
	require.Equal(t, int32(1), calls.Load())
}
