// Package api holds the HTTP handlers of the onboarding service.
package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/andyle182810/tessera-sdk/custos"
	"github.com/andyle182810/tessera-sdk/httpserver"
	"github.com/andyle182810/tessera-sdk/identies"
	"github.com/andyle182810/tessera-sdk/middleware"
	"github.com/andyle182810/tessera-sdk/pagination"
	"github.com/andyle182810/tessera-sdk/quore"
	"github.com/andyle182810/tessera-sdk/users"
	"github.com/andyle182810/tessera-sdk/vaulta"
	"github.com/labstack/echo/v5"
)

const (
	statusHealthy  = "healthy"
	statusReady    = "ready"
	statusNotReady = "not_ready"
)

// Check reports whether a dependency can serve traffic.
type Check func(ctx context.Context) error

type Authorizer interface {
	Authorize(ctx context.Context, userID, action, resource, domain string) (*custos.AuthorizeResponse, error)
}

type AssetStore interface {
	GetAsset(ctx context.Context, assetID string) (*vaulta.AssetResponse, error)
}

type Summarizer interface {
	Summarize(
		ctx context.Context,
		projectID, promptID, text string,
		opts ...quore.SummarizeOption,
	) (*quore.SummarizeResponse, error)
}

type UserDirectory interface {
	ListUsers(ctx context.Context, limit, offset int) ([]*users.User, int, error)
}

type Handler struct {
	checks     map[string]Check
	directory  UserDirectory
	authorizer Authorizer
	assets     AssetStore
	summarizer Summarizer
}

type Option func(*Handler)

func WithAuthorizer(a Authorizer) Option {
	return func(h *Handler) { h.authorizer = a }
}

func WithAssetStore(s AssetStore) Option {
	return func(h *Handler) { h.assets = s }
}

func WithUserDirectory(d UserDirectory) Option {
	return func(h *Handler) { h.directory = d }
}

func WithSummarizer(s Summarizer) Option {
	return func(h *Handler) { h.summarizer = s }
}

func New(checks map[string]Check, opts ...Option) *Handler {
	h := &Handler{checks: checks} //nolint:exhaustruct

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Register mounts the public probes on root and the authenticated routes on
// v1. Routes backed by an unconfigured service are not mounted.
func (h *Handler) Register(root, v1 *echo.Group) {
	root.GET("/health", h.Health)
	root.GET("/ready", h.Readiness)

	v1.GET("/me", h.Me)

	if h.directory != nil {
		v1.GET("/users", httpserver.Wrapper(h.ListUsers))
	}

	if h.authorizer != nil {
		v1.GET("/me/authorize", httpserver.Wrapper(h.Authorize))
	}

	if h.assets != nil {
		v1.GET("/assets/:assetId", httpserver.Wrapper(h.GetAsset))
	}

	if h.summarizer != nil {
		v1.POST("/projects/:projectId/summaries", httpserver.Wrapper(h.Summarize))
	}
}

type HealthResponse struct {
	Status string `json:"status"`
}

type DependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type ReadinessResponse struct {
	Status   string                      `json:"status"`
	Services map[string]DependencyStatus `json:"services"`
}

// MeResponse describes the caller. User is set for bearer tokens, Key for
// API keys.
type MeResponse struct {
	User *users.User                  `json:"user,omitempty"`
	Key  *identies.IntrospectResponse `json:"key,omitempty"`
}

func (h *Handler) Health(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: statusHealthy})
}

func (h *Handler) Readiness(c *echo.Context) error {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}

	sort.Strings(names)

	resp := ReadinessResponse{Status: statusReady, Services: make(map[string]DependencyStatus, len(names))}

	for _, name := range names {
		if err := h.checks[name](c.Request().Context()); err != nil {
			resp.Status = statusNotReady
			resp.Services[name] = DependencyStatus{Status: statusNotReady, Error: err.Error()}

			continue
		}

		resp.Services[name] = DependencyStatus{Status: statusReady} //nolint:exhaustruct
	}

	if resp.Status != statusReady {
		return c.JSON(http.StatusServiceUnavailable, resp)
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Me(c *echo.Context) error {
	if user, ok := middleware.GetUser(c); ok {
		return c.JSON(http.StatusOK, MeResponse{User: user}) //nolint:exhaustruct
	}

	if key := middleware.GetIntrospection(c); key != nil {
		return c.JSON(http.StatusOK, MeResponse{Key: key}) //nolint:exhaustruct
	}

	return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
}

type ListUsersResponse struct {
	Users      []*users.User   `json:"users"`
	Pagination pagination.Meta `json:"pagination"`
}

// ListUsers pages through onboarded users. API keys are rejected: the
// directory is only visible to onboarded users.
func (h *Handler) ListUsers(c *echo.Context, req *pagination.Query) (*ListUsersResponse, error) {
	if _, ok := middleware.GetUser(c); !ok {
		return nil, echo.NewHTTPError(http.StatusForbidden, "Only onboarded users can list users")
	}

	window := req.Normalize()

	list, total, err := h.directory.ListUsers(c.Request().Context(), window.PageSize, window.Offset)
	if err != nil {
		return nil, err
	}

	return &ListUsersResponse{Users: list, Pagination: pagination.NewMeta(window, total)}, nil
}

type AuthorizeRequest struct {
	Action   string `query:"action"   validate:"notblank"`
	Resource string `query:"resource" validate:"notblank"`
	Domain   string `query:"domain"   validate:"notblank"`
}

// Authorize asks Custos whether the onboarded caller may perform an action.
func (h *Handler) Authorize(c *echo.Context, req *AuthorizeRequest) (*custos.AuthorizeResponse, error) {
	user, ok := middleware.GetUser(c)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusForbidden, "Only onboarded users can be authorized")
	}

	return h.authorizer.Authorize(c.Request().Context(), user.ID.String(), req.Action, req.Resource, req.Domain)
}

type GetAssetRequest struct {
	AssetID string `param:"assetId" validate:"notblank"`
}

func (h *Handler) GetAsset(c *echo.Context, req *GetAssetRequest) (*vaulta.AssetResponse, error) {
	return h.assets.GetAsset(c.Request().Context(), req.AssetID)
}

//nolint:tagliatelle
type SummarizeRequest struct {
	ProjectID string         `param:"projectId" validate:"notblank"`
	PromptID  string         `json:"prompt_id"  validate:"notblank"`
	Text      string         `json:"text"       validate:"notblank"`
	Query     string         `json:"query"`
	Labels    map[string]any `json:"labels"`
}

func (h *Handler) Summarize(c *echo.Context, req *SummarizeRequest) (*quore.SummarizeResponse, error) {
	opts := []quore.SummarizeOption{quore.WithLabels(req.Labels)}
	if req.Query != "" {
		opts = append(opts, quore.WithQuery(req.Query))
	}

	return h.summarizer.Summarize(c.Request().Context(), req.ProjectID, req.PromptID, req.Text, opts...)
}
