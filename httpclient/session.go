package httpclient

import (
	"net/http"
	"sync"
	"time"
)

const (
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second
)

// Session owns a pooled *http.Client. A Session passed to several clients
// with WithSession is shared by them and released only by its owner.
type Session struct {
	httpClient *http.Client
	closeOnce  sync.Once
}

type SessionOption func(*http.Transport)

func WithMaxIdleConnsPerHost(n int) SessionOption {
	return func(t *http.Transport) {
		if n > 0 {
			t.MaxIdleConnsPerHost = n
		}
	}
}

func WithIdleConnTimeout(timeout time.Duration) SessionOption {
	return func(t *http.Transport) {
		if timeout > 0 {
			t.IdleConnTimeout = timeout
		}
	}
}

func NewSession(opts ...SessionOption) *Session {
	transport, _ := http.DefaultTransport.(*http.Transport)
	transport = transport.Clone()
	transport.MaxIdleConns = DefaultMaxIdleConns
	transport.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	transport.IdleConnTimeout = DefaultIdleConnTimeout

	for _, opt := range opts {
		opt(transport)
	}

	return &Session{
		httpClient: &http.Client{ //nolint:exhaustruct
			Transport: transport,
		},
		closeOnce: sync.Once{},
	}
}

// NewSessionFromClient wraps an existing *http.Client, e.g. one with a
// custom transport.
func NewSessionFromClient(httpClient *http.Client) *Session {
	return &Session{
		httpClient: httpClient,
		closeOnce:  sync.Once{},
	}
}

func (s *Session) HTTPClient() *http.Client {
	return s.httpClient
}

// Close releases the idle connections held by the pool. It is safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.httpClient.CloseIdleConnections()
	})
}
