// Package custos is a client for the Custos authorization API.
package custos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/andyle182810/tessera-sdk/httpclient"
	"github.com/andyle182810/tessera-sdk/validator"
)

const (
	ServiceName    = "custos"
	DefaultTimeout = 30 * time.Second

	pathAuthorize = "/authorization/authorize"
)

var (
	ErrMissingBaseURL = errors.New("custos: base url is required")
	ErrMissingRole    = errors.New("custos: role identifier is required")
)

//nolint:tagliatelle
type AuthorizeRequest struct {
	UserID   string `json:"user_id"  validate:"notblank"`
	Action   string `json:"action"   validate:"notblank"`
	Resource string `json:"resource" validate:"notblank"`
	Domain   string `json:"domain"   validate:"notblank"`
}

//nolint:tagliatelle
type AuthorizeResponse struct {
	Allowed  bool   `json:"allowed"`
	UserID   string `json:"user_id"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Domain   string `json:"domain"`
	Reason   string `json:"reason,omitempty"`
}

//nolint:tagliatelle
type CreateBindingRequest struct {
	UserID         string         `json:"user_id"         validate:"notblank"`
	Domain         string         `json:"domain"          validate:"notblank"`
	DomainMetadata map[string]any `json:"domain_metadata"`
}

//nolint:tagliatelle
type DeleteBindingRequest struct {
	UserID string `json:"user_id" validate:"notblank"`
	Domain string `json:"domain"  validate:"notblank"`
}

//nolint:tagliatelle
type BindingResponse struct {
	BindingID      string         `json:"binding_id,omitempty"`
	RoleID         string         `json:"role_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	SubjectID      string         `json:"subject_id,omitempty"`
	Resource       string         `json:"resource,omitempty"`
	Domain         string         `json:"domain,omitempty"`
	DomainMetadata map[string]any `json:"domain_metadata,omitempty"`
	CreatedAt      string         `json:"created_at,omitempty"`
}

type Client struct {
	http httpclient.Requester
}

func New(baseURL string, opts ...httpclient.Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}

	defaults := []httpclient.Option{
		httpclient.WithServiceName(ServiceName),
		httpclient.WithTimeout(DefaultTimeout),
	}

	return NewWithRequester(httpclient.New(baseURL, append(defaults, opts...)...)), nil
}

func NewWithRequester(requester httpclient.Requester) *Client {
	return &Client{http: requester}
}

// Authorize asks whether userID may perform action on resource within
// domain, e.g. ("4321", "create", "account", "account:1234").
func (c *Client) Authorize(ctx context.Context, userID, action, resource, domain string) (*AuthorizeResponse, error) {
	req := AuthorizeRequest{
		UserID:   userID,
		Action:   action,
		Resource: resource,
		Domain:   domain,
	}

	if err := validator.Struct(req); err != nil {
		return nil, fmt.Errorf("custos: %w", err)
	}

	resp, err := httpclient.PostJSON[AuthorizeResponse](ctx, c.http, pathAuthorize, req)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// CreateBinding binds userID to the role identified by a UUID or slug.
func (c *Client) CreateBinding(
	ctx context.Context,
	role string,
	userID string,
	domain string,
	metadata map[string]any,
) (*BindingResponse, error) {
	if role == "" {
		return nil, ErrMissingRole
	}

	if metadata == nil {
		metadata = map[string]any{}
	}

	req := CreateBindingRequest{
		UserID:         userID,
		Domain:         domain,
		DomainMetadata: metadata,
	}

	if err := validator.Struct(req); err != nil {
		return nil, fmt.Errorf("custos: %w", err)
	}

	resp, err := httpclient.PostJSON[BindingResponse](ctx, c.http, bindingsPath(role), req)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) DeleteBinding(ctx context.Context, role, userID, domain string) error {
	if role == "" {
		return ErrMissingRole
	}

	req := DeleteBindingRequest{
		UserID: userID,
		Domain: domain,
	}

	if err := validator.Struct(req); err != nil {
		return fmt.Errorf("custos: %w", err)
	}

	return c.http.Do(ctx, http.MethodDelete, bindingsPath(role), req, nil)
}

func (c *Client) Close() {
	if closer, ok := c.http.(interface{ Close() }); ok {
		closer.Close()
	}
}

func bindingsPath(role string) string {
	return fmt.Sprintf("/roles/%s/bindings", url.PathEscape(role))
}
