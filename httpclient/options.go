package httpclient

import (
	"maps"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxRetries       = 3
	DefaultRetryWaitTime    = 1 * time.Second
	DefaultRetryMaxWaitTime = 8 * time.Second
	Version                 = "0.1.0"

	HeaderContentType   = "Content-Type"
	HeaderAccept        = "Accept"
	HeaderUserAgent     = "User-Agent"
	HeaderXRequestID    = "X-Request-ID"
	HeaderAuthorization = "Authorization"
	HeaderXAPIKey       = "X-API-Key"
	ContentTypeJSON     = "application/json"
)

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout bounds every single attempt. Retries get a fresh timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithMaxRetries sets how many times a transient failure is retried. Zero
// disables retries.
func WithMaxRetries(maxRetries int) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
	}
}

func WithRetryWaitTime(minWait, maxWait time.Duration) Option {
	return func(c *Client) {
		c.retryWaitTime = minWait
		c.retryMaxWaitTime = maxWait
	}
}

func WithRetryPolicy(policy func(*resty.Response, error) bool) Option {
	return func(c *Client) {
		if policy != nil {
			c.retryPolicy = policy
		}
	}
}

// WithSession makes the client use a connection pool owned by the caller.
// Closing the client leaves a shared session open.
func WithSession(session *Session) Option {
	return func(c *Client) {
		if session != nil {
			c.session = session
			c.ownsSession = false
		}
	}
}

// WithServiceName sets the backend name used in errors, logs and the
// User-Agent header.
func WithServiceName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.serviceName = name
		}
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

func WithRequestIDKey(key any) Option {
	return func(c *Client) {
		c.requestIDKey = key
	}
}

func WithDefaultHeaders(headers map[string]string) Option {
	return func(c *Client) {
		maps.Copy(c.defaultHeaders, headers)
	}
}

// WithTokenProvider sets a source of bearer tokens, consulted before every
// request. It takes precedence over WithToken.
func WithTokenProvider(provider TokenProvider) Option {
	return func(c *Client) {
		c.tokenProvider = provider
	}
}

func WithMaxResponseSize(size int64) Option {
	return func(c *Client) {
		c.maxResponseSize = size
	}
}

// WithRateLimit limits outgoing logical requests to r per second with the
// given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

type RequestOption func(*requestConfig)

type requestConfig struct {
	headers   map[string]string
	query     map[string]string
	timeout   time.Duration
	requestID string
}

func WithRequestHeader(key, value string) RequestOption {
	return func(rc *requestConfig) {
		if rc.headers == nil {
			rc.headers = make(map[string]string)
		}

		rc.headers[key] = value
	}
}

// WithBearerToken authorizes a single request with token, overriding the
// client's token.
func WithBearerToken(token string) RequestOption {
	return WithRequestHeader(HeaderAuthorization, "Bearer "+token)
}

// WithAPIKey sends key in the X-API-Key header of a single request.
func WithAPIKey(key string) RequestOption {
	return WithRequestHeader(HeaderXAPIKey, key)
}

// WithRequestTimeout bounds the whole call, retries included.
func WithRequestTimeout(timeout time.Duration) RequestOption {
	return func(rc *requestConfig) {
		rc.timeout = timeout
	}
}

func WithRequestID(requestID string) RequestOption {
	return func(rc *requestConfig) {
		rc.requestID = requestID
	}
}

func WithQuery(key, value string) RequestOption {
	return func(rc *requestConfig) {
		if rc.query == nil {
			rc.query = make(map[string]string)
		}

		rc.query[key] = value
	}
}

func WithQueryParams(params map[string]string) RequestOption {
	return func(rc *requestConfig) {
		if rc.query == nil {
			rc.query = make(map[string]string)
		}

		maps.Copy(rc.query, params)
	}
}
