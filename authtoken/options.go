package authtoken

import (
	"time"

	"github.com/andyle182810/tessera-sdk/httpclient"
)

type Option func(*Client)

func WithAudience(audience string) Option {
	return func(c *Client) {
		c.audience = audience
	}
}

func WithTokenPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.tokenPath = path
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithMaxRetries(maxRetries int) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
	}
}

// WithHTTPOptions forwards options to the underlying base client, e.g. a
// shared httpclient.Session.
func WithHTTPOptions(opts ...httpclient.Option) Option {
	return func(c *Client) {
		c.httpOpts = append(c.httpOpts, opts...)
	}
}
