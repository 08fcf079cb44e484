package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
	InvalidateToken()
}

// Requester is the capability the backend clients are built on.
type Requester interface {
	Do(ctx context.Context, method, path string, body, response any, opts ...RequestOption) error
}

var _ Requester = (*Client)(nil)

type Client struct {
	baseURL          string
	token            string
	serviceName      string
	userAgent        string
	timeout          time.Duration
	maxRetries       int
	retryWaitTime    time.Duration
	retryMaxWaitTime time.Duration
	retryPolicy      func(*resty.Response, error) bool
	session          *Session
	ownsSession      bool
	requestIDKey     any
	defaultHeaders   map[string]string
	tokenProvider    TokenProvider
	maxResponseSize  int64 // 0 means no limit
	limiter          *rate.Limiter
	logger           zerolog.Logger

	rc     *resty.Client
	closed atomic.Bool
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		token:            "",
		serviceName:      "tessera",
		userAgent:        "",
		timeout:          DefaultTimeout,
		maxRetries:       DefaultMaxRetries,
		retryWaitTime:    DefaultRetryWaitTime,
		retryMaxWaitTime: DefaultRetryMaxWaitTime,
		retryPolicy:      DefaultRetryPolicy,
		session:          nil,
		ownsSession:      true,
		requestIDKey:     nil,
		defaultHeaders: map[string]string{
			HeaderContentType: ContentTypeJSON,
			HeaderAccept:      ContentTypeJSON,
		},
		tokenProvider:   nil,
		maxResponseSize: 0,
		limiter:         nil,
		logger:          log.Logger,
		rc:              nil,
		closed:          atomic.Bool{},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.session == nil {
		c.session = NewSession()
		c.ownsSession = true
	}

	if c.userAgent == "" {
		c.userAgent = fmt.Sprintf("%s-client/%s", c.serviceName, Version)
	}

	c.logger = c.logger.With().Str("service", c.serviceName).Logger()

	// The copy shares the session's transport, so the pool stays shared
	// while the timeout is per client.
	httpClient := *c.session.HTTPClient()
	httpClient.Timeout = c.timeout

	c.rc = resty.NewWithClient(&httpClient).
		SetBaseURL(c.baseURL).
		SetLogger(restyLogger{logger: c.logger}).
		SetRetryCount(c.maxRetries).
		SetRetryWaitTime(c.retryWaitTime).
		SetRetryMaxWaitTime(c.retryMaxWaitTime).
		SetRetryAfter(retryAfter).
		AddRetryCondition(c.retryPolicy).
		AddRetryHook(c.logRetry)

	return c
}

func (c *Client) Get(
	ctx context.Context,
	path string,
	response any,
	opts ...RequestOption,
) error {
	return c.do(ctx, http.MethodGet, path, nil, response, opts...)
}

func (c *Client) Post(
	ctx context.Context,
	path string,
	body any,
	response any,
	opts ...RequestOption,
) error {
	return c.do(ctx, http.MethodPost, path, body, response, opts...)
}

func (c *Client) Put(
	ctx context.Context,
	path string,
	body any,
	response any,
	opts ...RequestOption,
) error {
	return c.do(ctx, http.MethodPut, path, body, response, opts...)
}

func (c *Client) Patch(
	ctx context.Context,
	path string,
	body any,
	response any,
	opts ...RequestOption,
) error {
	return c.do(ctx, http.MethodPatch, path, body, response, opts...)
}

func (c *Client) Delete(
	ctx context.Context,
	path string,
	response any,
	opts ...RequestOption,
) error {
	return c.do(ctx, http.MethodDelete, path, nil, response, opts...)
}

func (c *Client) Do(
	ctx context.Context,
	method string,
	path string,
	body any,
	response any,
	opts ...RequestOption,
) error {
	return c.do(ctx, method, path, body, response, opts...)
}

// Close releases the connection pool if the client created it. Later calls
// fail with ErrClientClosed.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	if c.ownsSession {
		c.session.Close()
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) ServiceName() string {
	return c.serviceName
}

func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body any,
	response any,
	opts ...RequestOption,
) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	cfg := c.buildRequestConfig(ctx, opts...)

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrRateLimitWait, err)
		}
	}

	req, err := c.buildRequest(ctx, body, cfg)
	if err != nil {
		return err
	}

	started := time.Now()

	resp, err := req.Execute(method, buildPath(path))
	if err != nil {
		return c.handleTransportError(ctx, err, cfg.requestID)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status_code", resp.StatusCode()).
		Dur("duration", time.Since(started)).
		Str("request_id", cfg.requestID).
		Msg("The request has been completed")

	return c.handleResponse(resp, response, cfg.requestID)
}

func (c *Client) buildRequestConfig(ctx context.Context, opts ...RequestOption) *requestConfig {
	cfg := &requestConfig{
		headers:   make(map[string]string),
		query:     nil,
		timeout:   0,
		requestID: "",
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.requestID == "" {
		cfg.requestID = c.extractRequestID(ctx)
	}

	return cfg
}

func (c *Client) extractRequestID(ctx context.Context) string {
	if c.requestIDKey != nil {
		if id, ok := ctx.Value(c.requestIDKey).(string); ok && id != "" {
			return id
		}
	}

	return uuid.New().String()
}

func (c *Client) buildRequest(ctx context.Context, body any, cfg *requestConfig) (*resty.Request, error) {
	req := c.rc.R().SetContext(ctx)

	for k, v := range c.defaultHeaders {
		req.SetHeader(k, v)
	}

	req.SetHeader(HeaderUserAgent, c.userAgent)
	req.SetHeader(HeaderXRequestID, cfg.requestID)

	if _, overridden := cfg.headers[HeaderAuthorization]; !overridden {
		token, err := c.bearerToken(ctx)
		if err != nil {
			return nil, err
		}

		if token != "" {
			req.SetHeader(HeaderAuthorization, "Bearer "+token)
		}
	}

	for k, v := range cfg.headers {
		req.SetHeader(k, v)
	}

	if len(cfg.query) > 0 {
		req.SetQueryParams(cfg.query)
	}

	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncodeBody, err)
		}

		req.SetBody(bodyBytes)
	}

	return req, nil
}

func (c *Client) bearerToken(ctx context.Context) (string, error) {
	if c.tokenProvider == nil {
		return c.token, nil
	}

	token, err := c.tokenProvider.GetToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	return token, nil
}

func (c *Client) handleResponse(resp *resty.Response, response any, requestID string) error {
	respRequestID := resp.Header().Get(HeaderXRequestID)
	if respRequestID == "" {
		respRequestID = requestID
	}

	if !resp.IsSuccess() {
		return c.handleErrorResponse(resp, respRequestID)
	}

	if response == nil {
		return nil
	}

	body := resp.Body()

	if c.maxResponseSize > 0 && int64(len(body)) > c.maxResponseSize {
		return ErrResponseTooLarge
	}

	if len(body) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, response); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodeResponse, err)
	}

	return nil
}

func (c *Client) handleErrorResponse(resp *resty.Response, requestID string) error {
	statusCode := resp.StatusCode()

	if statusCode == http.StatusUnauthorized && c.tokenProvider != nil {
		c.tokenProvider.InvalidateToken()
	}

	apiErr := newStatusError(c.serviceName, statusCode, resp.Body(), requestID)

	event := c.logger.Debug()
	if apiErr.Kind == KindServer {
		event = c.logger.Warn()
	}

	event.
		Int("status_code", statusCode).
		Str("request_id", requestID).
		Str("kind", apiErr.Kind.String()).
		Msg("The request has failed")

	return apiErr
}

func (c *Client) handleTransportError(ctx context.Context, err error, requestID string) error {
	if ctx.Err() != nil {
		return newCanceledError(c.serviceName, err, requestID)
	}

	c.logger.Warn().
		Err(err).
		Str("request_id", requestID).
		Msg("The request could not be completed")

	return newTransportError(c.serviceName, err, requestID)
}

func (c *Client) logRetry(resp *resty.Response, err error) {
	event := c.logger.Debug()

	if err != nil {
		event = event.Err(err)
	}

	if resp != nil {
		event = event.Int("status_code", resp.StatusCode()).Int("attempt", resp.Request.Attempt)
	}

	event.Msg("A transient failure has been received, retrying")
}

func buildPath(path string) string {
	if path != "" && !strings.HasPrefix(path, "/") {
		return "/" + path
	}

	return path
}

type restyLogger struct {
	logger zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Trace().Msgf(strings.TrimSpace(format), v...)
}
