// Package identies is a client for the Identies identity API.
package identies

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/andyle182810/tessera-sdk/httpclient"
)

const (
	ServiceName    = "identies"
	DefaultTimeout = 30 * time.Second

	pathUserInfo   = "/userinfo"
	pathUser       = "/user"
	pathIntrospect = "/api-keys/introspect"
)

var (
	ErrMissingBaseURL = errors.New("identies: base url is required")
	ErrMissingToken   = errors.New("identies: bearer token is required")
	ErrMissingAPIKey  = errors.New("identies: api key is required")
)

type Client struct {
	http httpclient.Requester
}

// New builds a client with its own base client. Options are applied after
// the Identies defaults.
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

// UserInfo returns the profile of the user the request is authorized as.
func (c *Client) UserInfo(ctx context.Context, opts ...httpclient.RequestOption) (*UserResponse, error) {
	user, err := httpclient.GetJSON[UserResponse](ctx, c.http, pathUserInfo, opts...)
	if err != nil {
		return nil, err
	}

	return normalizeUser(&user), nil
}

// UserInfoForToken is UserInfo authorized with the given end-user token.
func (c *Client) UserInfoForToken(ctx context.Context, token string) (*UserResponse, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	return c.UserInfo(ctx, httpclient.WithBearerToken(token))
}

func (c *Client) GetUser(ctx context.Context, opts ...httpclient.RequestOption) (*UserResponse, error) {
	user, err := httpclient.GetJSON[UserResponse](ctx, c.http, pathUser, opts...)
	if err != nil {
		return nil, err
	}

	return normalizeUser(&user), nil
}

// Introspect reports whether the API key carried by the request options is
// active and which user it belongs to.
func (c *Client) Introspect(ctx context.Context, opts ...httpclient.RequestOption) (*IntrospectResponse, error) {
	resp, err := httpclient.DoJSON[IntrospectResponse](ctx, c.http, http.MethodPost, pathIntrospect, nil, opts...)
	if err != nil {
		return nil, err
	}

	if resp.User != nil {
		normalizeUser(resp.User)
	}

	return &resp, nil
}

// IntrospectAPIKey is Introspect for an explicit key.
func (c *Client) IntrospectAPIKey(ctx context.Context, apiKey string) (*IntrospectResponse, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	return c.Introspect(ctx, httpclient.WithAPIKey(apiKey))
}

// Close releases the client's connection pool when it owns one.
func (c *Client) Close() {
	if closer, ok := c.http.(interface{ Close() }); ok {
		closer.Close()
	}
}

func normalizeUser(user *UserResponse) *UserResponse {
	if user.ThemePreference == "" {
		user.ThemePreference = DefaultThemePreference
	}

	return user
}
