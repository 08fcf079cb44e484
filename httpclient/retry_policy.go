package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultRetryPolicy retries on HTTP 429 and 5xx responses and on transport
// errors, per-attempt timeouts included. Nothing is retried once the caller's
// context is done, and DNS failures are not retried.
func DefaultRetryPolicy(r *resty.Response, err error) bool {
	if err != nil {
		if r == nil || r.Request == nil || r.Request.Context().Err() != nil {
			return false
		}

		if errors.Is(err, context.Canceled) {
			return false
		}

		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return false
		}

		return true
	}

	if r == nil {
		return false
	}

	return IsTransientStatus(r.StatusCode())
}

// IsTransientStatus reports whether a status code is eligible for retry.
func IsTransientStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError
}

// retryAfter honours a Retry-After header expressed in seconds. A zero
// duration falls back to resty's jittered backoff.
func retryAfter(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
	if resp == nil {
		return 0, nil
	}

	value := resp.Header().Get("Retry-After")
	if value == "" {
		return 0, nil
	}

	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0, nil //nolint:nilerr
	}

	return time.Duration(seconds) * time.Second, nil
}
