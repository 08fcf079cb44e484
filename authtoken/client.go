// Package authtoken obtains machine-to-machine access tokens with the OAuth
// client-credentials grant and caches them until shortly before they expire.
package authtoken

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andyle182810/tessera-sdk/httpclient"
)

var (
	ErrTokenRequestFailed   = errors.New("authtoken: token request failed")
	ErrNoAccessToken        = errors.New("authtoken: no access token in response")
	ErrInvalidTokenResponse = errors.New("authtoken: invalid token response")
	ErrMissingCredentials   = errors.New("authtoken: client id and client secret are required")
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultTokenPath     = "/oauth/token"
	DefaultMaxRetries    = 3
	tokenExpiryBuffer    = 30 * time.Second
	grantTypeCredentials = "client_credentials"
	serviceName          = "m2m-token"
)

//nolint:tagliatelle
type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Audience     string `json:"audience"`
	GrantType    string `json:"grant_type"`
}

//nolint:tagliatelle
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// Client implements httpclient.TokenProvider.
type Client struct {
	clientID     string
	clientSecret string
	audience     string
	tokenPath    string
	timeout      time.Duration
	maxRetries   int
	httpOpts     []httpclient.Option
	http         *httpclient.Client

	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
}

var _ httpclient.TokenProvider = (*Client)(nil)

// New creates a token client for the provider at providerURL, for example
// "https://tenant.auth0.com".
func New(providerURL, clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		audience:     "",
		tokenPath:    DefaultTokenPath,
		timeout:      DefaultTimeout,
		maxRetries:   DefaultMaxRetries,
		httpOpts:     nil,
		http:         nil,
		mu:           sync.RWMutex{},
		accessToken:  "",
		expiresAt:    time.Time{},
	}

	for _, opt := range opts {
		opt(c)
	}

	httpOpts := []httpclient.Option{
		httpclient.WithServiceName(serviceName),
		httpclient.WithTimeout(c.timeout),
		httpclient.WithMaxRetries(c.maxRetries),
	}
	httpOpts = append(httpOpts, c.httpOpts...)

	c.http = httpclient.New(providerURL, httpOpts...)

	return c
}

// NewFromDomain is New for a bare provider domain such as "tenant.auth0.com".
func NewFromDomain(domain, clientID, clientSecret string, opts ...Option) *Client {
	return New("https://"+domain, clientID, clientSecret, opts...)
}

func (c *Client) GetToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.accessToken != "" && time.Now().Before(c.expiresAt) {
		token := c.accessToken
		c.mu.RUnlock()

		return token, nil
	}
	c.mu.RUnlock()

	return c.refreshToken(ctx)
}

func (c *Client) refreshToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if c.accessToken != "" && time.Now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	resp, err := c.Token(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = resp.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - tokenExpiryBuffer)

	return c.accessToken, nil
}

// Token requests a fresh token from the provider, bypassing the cache.
func (c *Client) Token(ctx context.Context) (*TokenResponse, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return nil, ErrMissingCredentials
	}

	req := TokenRequest{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Audience:     c.audience,
		GrantType:    grantTypeCredentials,
	}

	var resp TokenResponse
	if err := c.http.Post(ctx, c.tokenPath, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenRequestFailed, err)
	}

	if resp.AccessToken == "" {
		return nil, ErrNoAccessToken
	}

	if resp.TokenType == "" || resp.ExpiresIn <= 0 {
		return nil, fmt.Errorf("%w: token_type and expires_in are required", ErrInvalidTokenResponse)
	}

	return &resp, nil
}

func (c *Client) InvalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accessToken = ""
	c.expiresAt = time.Time{}
}

func (c *Client) Close() {
	c.http.Close()
}
