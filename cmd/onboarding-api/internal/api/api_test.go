package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andyle182810/tessera-sdk/cmd/onboarding-api/internal/api"
	"github.com/andyle182810/tessera-sdk/custos"
	"github.com/andyle182810/tessera-sdk/httpclient"
	"github.com/andyle182810/tessera-sdk/identies"
	"github.com/andyle182810/tessera-sdk/middleware"
	"github.com/andyle182810/tessera-sdk/pagination"
	"github.com/andyle182810/tessera-sdk/quore"
	"github.com/andyle182810/tessera-sdk/testutil"
	"github.com/andyle182810/tessera-sdk/users"
	"github.com/andyle182810/tessera-sdk/vaulta"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	ctx, rec, _ := testutil.SetupEchoContext(t, &testutil.Options{Method: http.MethodGet, Path: "/health"}) //nolint:exhaustruct
	require.NoError(t, api.New(nil).Health(ctx))

	var body api.HealthResponse
	testutil.MustParseJSONResponse(t, rec, &body)
	require.Equal(t, "healthy", body.Status)
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checks     map[string]api.Check
		wantStatus int
		wantBody   string
	}{
		{
			name: "all dependencies ready",
			checks: map[string]api.Check{
				"postgres": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return nil },
			},
			wantStatus: http.StatusOK,
			wantBody:   "ready",
		},
		{
			name: "one dependency down",
			checks: map[string]api.Check{
				"postgres": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return errors.New("connection refused") }, //nolint:err113
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, rec, _ := testutil.SetupEchoContext(t, &testutil.Options{Method: http.MethodGet, Path: "/ready"}) //nolint:exhaustruct
			require.NoError(t, api.New(tt.checks).Readiness(ctx))
			require.Equal(t, tt.wantStatus, rec.Code)

			var body api.ReadinessResponse
			testutil.MustParseJSONResponse(t, rec, &body)
			require.Equal(t, tt.wantBody, body.Status)
			require.Len(t, body.Services, len(tt.checks))
		})
	}
}

func TestMe_User(t *testing.T) {
	t.Parallel()

	user := &users.User{ID: uuid.New(), ExternalID: "auth0|ada", FirstName: "Ada"} //nolint:exhaustruct

	ctx, rec, _ := testutil.SetupEchoContext(t, &testutil.Options{Method: http.MethodGet, Path: "/v1/me"}) //nolint:exhaustruct
	ctx.Set(middleware.ContextKeyUser, user)

	require.NoError(t, api.New(nil).Me(ctx))
	require.Equal(t, http.StatusOK, rec.Code)

	var body api.MeResponse
	testutil.MustParseJSONResponse(t, rec, &body)
	require.NotNil(t, body.User)
	require.Equal(t, user.ID, body.User.ID)
	require.Nil(t, body.Key)
}

func TestMe_APIKey(t *testing.T) {
	t.Parallel()

	ctx, rec, _ := testutil.SetupEchoContext(t, &testutil.Options{Method: http.MethodGet, Path: "/v1/me"}) //nolint:exhaustruct
	ctx.Set(middleware.ContextKeyIntrospection, &identies.IntrospectResponse{Active: true, KeyID: "key-1"}) //nolint:exhaustruct

	require.NoError(t, api.New(nil).Me(ctx))
	require.Equal(t, http.StatusOK, rec.Code)

	var body api.MeResponse
	testutil.MustParseJSONResponse(t, rec, &body)
	require.NotNil(t, body.Key)
	require.Equal(t, "key-1", body.Key.KeyID)
}

func TestMe_Anonymous(t *testing.T) {
	t.Parallel()

	ctx, _, _ := testutil.SetupEchoContext(t, &testutil.Options{Method: http.MethodGet, Path: "/v1/me"}) //nolint:exhaustruct

	var httpErr *echo.HTTPError

	require.ErrorAs(t, api.New(nil).Me(ctx), &httpErr)
	require.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

type fakeAuthorizer struct {
	userID, action, resource, domain string
}

func (f *fakeAuthorizer) Authorize(
	_ context.Context,
	userID, action, resource, domain string,
) (*custos.AuthorizeResponse, error) {
	f.userID, f.action, f.resource, f.domain = userID, action, resource, domain

	return &custos.AuthorizeResponse{ //nolint:exhaustruct
		Allowed:  true,
		UserID:   userID,
		Action:   action,
		Resource: resource,
		Domain:   domain,
	}, nil
}

type fakeSummarizer struct {
	projectID, promptID, text string
}

func (f *fakeSummarizer) Summarize(
	_ context.Context,
	projectID, promptID, text string,
	_ ...quore.SummarizeOption,
) (*quore.SummarizeResponse, error) {
	f.projectID, f.promptID, f.text = projectID, promptID, text

	return &quore.SummarizeResponse{Summary: "short"}, nil //nolint:exhaustruct
}

type fakeDirectory struct {
	limit, offset int
	total         int
}

func (f *fakeDirectory) ListUsers(_ context.Context, limit, offset int) ([]*users.User, int, error) {
	f.limit, f.offset = limit, offset

	return []*users.User{{ID: uuid.New(), ExternalID: "auth0|ada"}}, f.total, nil //nolint:exhaustruct
}

func withUser(user *users.User) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if user != nil {
				c.Set(middleware.ContextKeyUser, user)
			}

			return next(c)
		}
	}
}

func newRouter(h *api.Handler, user *users.User) *echo.Echo {
	e := testutil.NewEcho()
	h.Register(e.Group(""), e.Group("/v1", withUser(user)))

	return e
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	return rec
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	user := &users.User{ID: uuid.New(), ExternalID: "auth0|ada"} //nolint:exhaustruct
	authorizer := &fakeAuthorizer{}                              //nolint:exhaustruct
	e := newRouter(api.New(nil, api.WithAuthorizer(authorizer)), user)

	rec := serve(e, httptest.NewRequest(http.MethodGet,
		"/v1/me/authorize?action=create&resource=account&domain=account:1234", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body custos.AuthorizeResponse
	testutil.MustParseJSONResponse(t, rec, &body)
	require.True(t, body.Allowed)
	require.Equal(t, user.ID.String(), authorizer.userID)
	require.Equal(t, "create", authorizer.action)
	require.Equal(t, "account:1234", authorizer.domain)
}

func TestAuthorize_Rejections(t *testing.T) {
	t.Parallel()

	user := &users.User{ID: uuid.New()} //nolint:exhaustruct
	h := api.New(nil, api.WithAuthorizer(&fakeAuthorizer{}))

	rec := serve(newRouter(h, user), httptest.NewRequest(http.MethodGet, "/v1/me/authorize?action=create", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(newRouter(h, nil), httptest.NewRequest(http.MethodGet,
		"/v1/me/authorize?action=create&resource=account&domain=d", nil))
	testutil.AssertJSONError(t, rec, http.StatusForbidden, "detail", "Only onboarded users can be authorized")
}

func TestGetAsset_MapsBackendErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/assets/a-1" {
			testutil.WriteJSON(t, w, http.StatusOK, map[string]any{"id": "a-1", "name": "report", "state": "COMPLETED"})

			return
		}

		testutil.WriteJSON(t, w, http.StatusNotFound, map[string]string{"detail": "Asset not found"})
	}))
	t.Cleanup(server.Close)

	store, err := vaulta.New(server.URL, httpclient.WithMaxRetries(0))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	e := newRouter(api.New(nil, api.WithAssetStore(store)), nil)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/v1/assets/a-1", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var asset vaulta.AssetResponse
	testutil.MustParseJSONResponse(t, rec, &asset)
	require.Equal(t, vaulta.AssetStateCompleted, asset.State)

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/v1/assets/missing", nil))
	testutil.AssertJSONError(t, rec, http.StatusNotFound, "detail", "Resource not found")
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	summarizer := &fakeSummarizer{} //nolint:exhaustruct
	e := newRouter(api.New(nil, api.WithSummarizer(summarizer)), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/projects/p-1/summaries",
		strings.NewReader(`{"prompt_id":"tldr","text":"a long story"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := serve(e, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "p-1", summarizer.projectID)
	require.Equal(t, "tldr", summarizer.promptID)
	require.Equal(t, "a long story", summarizer.text)
}

func TestRegister_SkipsUnconfiguredRoutes(t *testing.T) {
	t.Parallel()

	e := newRouter(api.New(nil), nil)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/v1/assets/a-1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListUsers(t *testing.T) {
	t.Parallel()

	directory := &fakeDirectory{total: 45} //nolint:exhaustruct
	h := api.New(nil, api.WithUserDirectory(directory))
	user := &users.User{ID: uuid.New()} //nolint:exhaustruct

	rec := serve(newRouter(h, user), httptest.NewRequest(http.MethodGet, "/v1/users?page=3&page_size=10", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body api.ListUsersResponse
	testutil.MustParseJSONResponse(t, rec, &body)
	require.Len(t, body.Users, 1)
	require.Equal(t, pagination.Meta{Page: 3, PageSize: 10, TotalCount: 45, TotalPages: 5}, body.Pagination)
	require.Equal(t, 10, directory.limit)
	require.Equal(t, 20, directory.offset)

	rec = serve(newRouter(h, user), httptest.NewRequest(http.MethodGet, "/v1/users?page=-1", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(newRouter(h, nil), httptest.NewRequest(http.MethodGet, "/v1/users", nil))
	testutil.AssertJSONError(t, rec, http.StatusForbidden, "detail", "Only onboarded users can list users")
}
