package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andyle182810/tessera-sdk/cache"
	"github.com/andyle182810/tessera-sdk/httpclient"
	"github.com/andyle182810/tessera-sdk/identies"
	"github.com/andyle182810/tessera-sdk/middleware"
	"github.com/andyle182810/tessera-sdk/testutil"
	"github.com/andyle182810/tessera-sdk/users"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	principal any
	user      *users.User
	apiKey    string
	claims    string
}

func capture(dst *captured) echo.HandlerFunc {
	return func(c *echo.Context) error {
		dst.principal = middleware.GetPrincipal(c)
		dst.user, _ = middleware.GetUser(c)
		dst.apiKey = middleware.GetAPIKey(c)

		if claims, err := middleware.GetClaims(c); err == nil {
			dst.claims = claims.Email
		}

		return c.NoContent(http.StatusOK)
	}
}

func newAuthentication(
	t *testing.T,
	identiesClient middleware.APIKeyIntrospector,
	svc users.Service,
	s *signer,
) echo.MiddlewareFunc {
	t.Helper()

	config := middleware.DefaultAuthConfig()
	config.Identies = identiesClient
	config.UserService = svc
	config.Verifier = s.verifier

	mw, err := middleware.Authentication(config)
	require.NoError(t, err)

	return mw
}

func introspectHandler(t *testing.T, calls *atomic.Int32, status int, body any) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api-keys/introspect", r.URL.Path)
		assert.Equal(t, "tk_live_123", r.Header.Get(middleware.HeaderXAPIKey))
		testutil.WriteJSON(t, w, status, body)
	}
}

func TestAuthentication_SkipsConfiguredPaths(t *testing.T) {
	t.Parallel()

	client, _ := newIdenties(t, func(http.ResponseWriter, *http.Request) {
		t.Error("identies must not be called for skipped paths")
	})
	mw := newAuthentication(t, client, newFakeUserService(), newSigner(t))

	for _, path := range middleware.DefaultAuthSkipPaths() {
		var got captured

		rec := testutil.Serve(t, httptest.NewRequest(http.MethodGet, path, nil), capture(&got), mw)

		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Nil(t, got.principal)
	}
}

func TestAuthentication_MissingCredentials(t *testing.T) {
	t.Parallel()

	client, _ := newIdenties(t, func(http.ResponseWriter, *http.Request) {})
	mw := newAuthentication(t, client, newFakeUserService(), newSigner(t))

	for _, header := range []string{"", "Basic Zm9vOmJhcg==", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/projects", nil)
		if header != "" {
			req.Header.Set(middleware.HeaderAuthorization, header)
		}

		rec := testutil.Serve(t, req, capture(&captured{}), mw) //nolint:exhaustruct

		testutil.AssertJSONError(t, rec, http.StatusUnauthorized, "error", "Missing or invalid token")
	}
}

func TestAuthentication_ActiveAPIKey(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	userID := uuid.New()
	client, _ := newIdenties(t, introspectHandler(t, &calls, http.StatusOK, map[string]any{
		"active":  true,
		"user_id": userID.String(),
		"key_id":  "key-1",
		"scopes":  []string{"projects:read"},
		"user":    userInfoBody(userID),
	}))
	mw := newAuthentication(t, client, newFakeUserService(), newSigner(t))

	var got captured

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set(middleware.HeaderXAPIKey, "tk_live_123")

	rec := testutil.Serve(t, req, capture(&got), mw)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "tk_live_123", got.apiKey)

	principal, ok := got.principal.(*identies.UserResponse)
	require.True(t, ok, "principal should be the key owner")
	require.Equal(t, userID, principal.ID)
	require.Nil(t, got.user)
	require.Equal(t, int32(1), calls.Load())
}

func TestAuthentication_ActiveAPIKeyWithoutUser(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	client, _ := newIdenties(t, introspectHandler(t, &calls, http.StatusOK, map[string]any{
		"active": true,
		"key_id": "service-key",
	}))
	mw := newAuthentication(t, client, newFakeUserService(), newSigner(t))

	var got captured

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set(middleware.HeaderXAPIKey, "tk_live_123")

	rec := testutil.Serve(t, req, capture(&got), mw)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "tk_live_123", got.apiKey)
	require.True(t, got.principal == nil, "a key without an owner leaves no principal")
}

func TestAuthentication_APIKeyFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		status       int
		body         any
		wantStatus   int
		wantMessage  string
		wantAttempts int32
	}{
		{
			name:         "inactive key",
			status:       http.StatusOK,
			body:         map[string]any{"active": false},
			wantStatus:   http.StatusUnauthorized,
			wantMessage:  "Invalid or inactive API key",
			wantAttempts: 1,
		},
		{
			name:         "identies rejects the key",
			status:       http.StatusUnauthorized,
			body:         map[string]any{"detail": "bad key"},
			wantStatus:   http.StatusUnauthorized,
			wantMessage:  "Invalid API key",
			wantAttempts: 1,
		},
		{
			name:         "identies reports a client error",
			status:       http.StatusForbidden,
			body:         map[string]any{"detail": "forbidden"},
			wantStatus:   http.StatusServiceUnavailable,
			wantMessage:  "Authentication service temporarily unavailable",
			wantAttempts: 1,
		},
		{
			name:         "identies is down",
			status:       http.StatusBadGateway,
			body:         nil,
			wantStatus:   http.StatusServiceUnavailable,
			wantMessage:  "Authentication service temporarily unavailable",
			wantAttempts: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32

			client, _ := newIdenties(t, introspectHandler(t, &calls, tt.status, tt.body))
			mw := newAuthentication(t, client, newFakeUserService(), newSigner(t))

			req := httptest.NewRequest(http.MethodGet, "/projects", nil)
			req.Header.Set(middleware.HeaderXAPIKey, "tk_live_123")

			rec := testutil.Serve(t, req, capture(&captured{}), mw) //nolint:exhaustruct

			testutil.AssertJSONError(t, rec, tt.wantStatus, "error", tt.wantMessage)
			require.Equal(t, tt.wantAttempts, calls.Load())
		})
	}
}

func TestAuthentication_MaxRetries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		maxRetries   int
		wantAttempts int32
	}{
		{name: "retries disabled", maxRetries: 0, wantAttempts: 1},
		{name: "negative selects the default", maxRetries: -1, wantAttempts: middleware.DefaultAuthMaxRetries + 1},
		{name: "explicit retries", maxRetries: 2, wantAttempts: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32

			server := httptest.NewServer(introspectHandler(t, &calls, http.StatusBadGateway, nil))
			t.Cleanup(server.Close)

			config := middleware.DefaultAuthConfig()
			config.IdentiesBaseURL = server.URL
			config.MaxRetries = tt.maxRetries
			config.HTTPOptions = []httpclient.Option{httpclient.WithRetryWaitTime(time.Millisecond, 5*time.Millisecond)}
			config.Verifier = newSigner(t).verifier

			mw, err := middleware.Authentication(config)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/projects", nil)
			req.Header.Set(middleware.HeaderXAPIKey, "tk_live_123")

			rec := testutil.Serve(t, req, capture(&captured{}), mw) //nolint:exhaustruct

			require.Equal(t, http.StatusServiceUnavailable, rec.Code)
			require.Equal(t, tt.wantAttempts, calls.Load())
		})
	}
}

func TestAuthentication_APIKeyValidationError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	client, _ := newIdenties(t, introspectHandler(t, &calls, http.StatusBadRequest,
		map[string]any{"detail": "malformed key"}))
	mw := newAuthentication(t, client, newFakeUserService(), newSigner(t))

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set(middleware.HeaderXAPIKey, "tk_live_123")

	rec := testutil.Serve(t, req, capture(&captured{}), mw) //nolint:exhaustruct

	require.Equal(t, http.StatusBadRequest, rec.Code)
	testutil.MustParseJSONResponse(t, rec, &map[string]any{})
	require.Contains(t, rec.Body.String(), "API key validation error: ")
	require.Contains(t, rec.Body.String(), "malformed key")
}

func TestAuthentication_BearerKnownUser(t *testing.T) {
	t.Parallel()

	s := newSigner(t)
	existing := newUser("auth0|ada")
	svc := newFakeUserService(existing)
	client, _ := newIdenties(t, func(http.ResponseWriter, *http.Request) {})
	mw := newAuthentication(t, client, svc, s)

	var got captured

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set(middleware.HeaderAuthorization, "Bearer "+s.token(t, "auth0|ada", nil))

	rec := testutil.Serve(t, req, capture(&got), mw)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Same(t, existing, got.user)
	require.Same(t, existing, got.principal)
	require.Equal(t, "ada@example.com", got.claims)
}

func TestAuthentication_BearerUnknownUserNeedsOnboarding(t *testing.T) {
	t.Parallel()

	s := newSigner(t)
	client, _ := newIdenties(t, func(http.ResponseWriter, *http.Request) {})
	mw := newAuthentication(t, client, newFakeUserService(), s)

	var got captured

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set(middleware.HeaderAuthorization, "Bearer "+s.token(t, "auth0|new", nil))

	rec := testutil.Serve(t, req, capture(&got), mw)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, got.user)
	require.Equal(t, &users.NeedsOnboarding{ExternalID: "auth0|new"}, got.principal)
}

func TestAuthentication_BearerRejected(t *testing.T) {
	t.Parallel()

	s := newSigner(t)
	other := newSigner(t)

	tests := []struct {
		name        string
		token       string
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "signed by an unknown key",
			token:       other.token(t, "auth0|ada", nil),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Invalid token",
		},
		{
			name:        "not a jwt",
			token:       "definitely-not-a-jwt",
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Invalid token",
		},
		{
			name:        "wrong audience",
			token:       s.token(t, "auth0|ada", jwt.MapClaims{"aud": "https://other.test"}),
			wantStatus:  http.StatusForbidden,
			wantMessage: "Forbidden",
		},
		{
			name:        "wrong issuer",
			token:       s.token(t, "auth0|ada", jwt.MapClaims{"iss": "https://evil.test/"}),
			wantStatus:  http.StatusForbidden,
			wantMessage: "Forbidden",
		},
		{
			name:        "expired",
			token:       s.token(t, "auth0|ada", jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()}),
			wantStatus:  http.StatusForbidden,
			wantMessage: "Forbidden",
		},
		{
			name:        "not valid yet",
			token:       s.token(t, "auth0|ada", jwt.MapClaims{"nbf": time.Now().Add(time.Hour).Unix()}),
			wantStatus:  http.StatusForbidden,
			wantMessage: "Forbidden",
		},
		{
			name:        "no subject",
			token:       s.token(t, "", nil),
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "Invalid token",
		},
	}

	client, _ := newIdenties(t, func(http.ResponseWriter, *http.Request) {})
	mw := newAuthentication(t, client, newFakeUserService(), s)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/projects", nil)
			req.Header.Set(middleware.HeaderAuthorization, "Bearer "+tt.token)

			rec := testutil.Serve(t, req, capture(&captured{}), mw) //nolint:exhaustruct

			testutil.AssertJSONError(t, rec, tt.wantStatus, "error", tt.wantMessage)
		})
	}
}

func TestAuthentication_UserLookupFailure(t *testing.T) {
	t.Parallel()

	s := newSigner(t)
	svc := newFakeUserService()
	svc.lookupErr = errDatabaseDown

	client, _ := newIdenties(t, func(http.ResponseWriter, *http.Request) {})
	mw := newAuthentication(t, client, svc, s)

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set(middleware.HeaderAuthorization, "Bearer "+s.token(t, "auth0|ada", nil))

	rec := testutil.Serve(t, req, capture(&captured{}), mw) //nolint:exhaustruct

	testutil.AssertJSONError(t, rec, http.StatusInternalServerError, "error", "Internal server error")
}

func TestAuthentication_RequiresVerifier(t *testing.T) {
	t.Parallel()

	config := middleware.DefaultAuthConfig()
	config.IdentiesBaseURL = "https://identies.test"

	_, err := middleware.Authentication(config)

	require.ErrorIs(t, err, middleware.ErrMissingVerifier)
}

func TestAuthentication_RequiresIdentiesBaseURL(t *testing.T) {
	t.Setenv("IDENTIES_BASE_URL", "")

	config := middleware.DefaultAuthConfig()
	config.Verifier = newSigner(t).verifier

	_, err := middleware.Authentication(config)

	require.ErrorIs(t, err, middleware.ErrMissingIdentiesBaseURL)
}

func TestAuthentication_IdentiesBaseURLFromEnvironment(t *testing.T) {
	var calls atomic.Int32

	_, baseURL := newIdenties(t, introspectHandler(t, &calls, http.StatusOK, map[string]any{"active": true}))
	t.Setenv("IDENTIES_BASE_URL", baseURL)

	config := middleware.DefaultAuthConfig()
	config.Verifier = newSigner(t).verifier

	mw, err := middleware.Authentication(config)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set(middleware.HeaderXAPIKey, "tk_live_123")

	rec := testutil.Serve(t, req, capture(&captured{}), mw) //nolint:exhaustruct

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int32(1), calls.Load())
}

func TestAuthentication_IntrospectionCache(t *testing.T) {
	t.Parallel()
	testutil.SkipIfShort(t)

	var calls atomic.Int32

	client, _ := newIdenties(t, introspectHandler(t, &calls, http.StatusOK, map[string]any{
		"active": true,
		"key_id": "key-1",
	}))

	introspections := cache.New[identies.IntrospectResponse](
		testutil.NewRedisClient(t), "auth-"+testutil.RandomString(8))

	config := middleware.DefaultAuthConfig()
	config.Identies = client
	config.Verifier = newSigner(t).verifier
	config.IntrospectionCache = introspections

	mw, err := middleware.Authentication(config)
	require.NoError(t, err)

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/projects", nil)
		req.Header.Set(middleware.HeaderXAPIKey, "tk_live_123")

		rec := testutil.Serve(t, req, capture(&captured{}), mw) //nolint:exhaustruct
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.Equal(t, int32(1), calls.Load())

	keys, err := introspections.ClearAll(t.Context())
	require.NoError(t, err)
	require.Equal(t, int64(1), keys)
}
