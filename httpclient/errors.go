package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

const maxBodyExcerpt = 512

var (
	ErrTessera        = errors.New("httpclient: tessera error")
	ErrClient         = errors.New("httpclient: client error")
	ErrServer         = errors.New("httpclient: server error")
	ErrAuthentication = errors.New("httpclient: authentication failed")
	ErrNotFound       = errors.New("httpclient: resource not found")
	ErrValidation     = errors.New("httpclient: validation error")

	ErrDecodeResponse   = errors.New("httpclient: failed to decode response")
	ErrEncodeBody       = errors.New("httpclient: failed to encode request body")
	ErrAuthFailed       = errors.New("httpclient: failed to obtain access token")
	ErrResponseTooLarge = errors.New("httpclient: response body too large")
	ErrRateLimitWait    = errors.New("httpclient: rate limiter wait failed")
	ErrClientClosed     = errors.New("httpclient: client is closed")
)

// Kind tags an Error with the class of failure it represents.
type Kind int

const (
	KindTessera Kind = iota
	KindClient
	KindServer
	KindAuthentication
	KindNotFound
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client error"
	case KindServer:
		return "server error"
	case KindAuthentication:
		return "authentication error"
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "validation error"
	case KindTessera:
		return "error"
	default:
		return "error"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindClient:
		return ErrClient
	case KindServer:
		return ErrServer
	case KindAuthentication:
		return ErrAuthentication
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrValidation
	case KindTessera:
		return ErrTessera
	default:
		return ErrTessera
	}
}

// Error is returned for every failed call to a Tessera backend. Service names
// the backend the call was made to; StatusCode is zero when no response was
// received.
type Error struct {
	Service    string
	Kind       Kind
	StatusCode int
	Message    string
	Body       string
	RequestID  string
	Err        error
}

func (e *Error) Error() string {
	prefix := e.Service
	if prefix == "" {
		prefix = "tessera"
	}

	msg := fmt.Sprintf("%s: %s", prefix, e.Message)

	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}

	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

// Is matches ErrTessera for every Error and the sentinel of its own Kind.
func (e *Error) Is(target error) bool {
	if target == ErrTessera { //nolint:errorlint
		return true
	}

	return target == e.Kind.sentinel() //nolint:errorlint
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}

	return nil, false
}

// StatusCode returns the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	if apiErr, ok := AsError(err); ok {
		return apiErr.StatusCode
	}

	return 0
}

func newStatusError(service string, statusCode int, body []byte, requestID string) *Error {
	apiErr := &Error{
		Service:    service,
		Kind:       KindTessera,
		StatusCode: statusCode,
		Message:    "",
		Body:       excerpt(body),
		RequestID:  requestID,
		Err:        nil,
	}

	switch {
	case statusCode == http.StatusUnauthorized:
		apiErr.Kind = KindAuthentication
		apiErr.Message = "Authentication failed"
	case statusCode == http.StatusNotFound:
		apiErr.Kind = KindNotFound
		apiErr.Message = "Resource not found"
	case statusCode == http.StatusBadRequest:
		apiErr.Kind = KindValidation
		apiErr.Message = "Bad request"

		if detail := parseErrorDetail(body); detail != "" {
			apiErr.Message = detail
		}
	case statusCode == http.StatusTooManyRequests:
		apiErr.Kind = KindServer
		apiErr.Message = "Too many requests"
	case statusCode >= 400 && statusCode < 500:
		apiErr.Kind = KindClient
		apiErr.Message = fmt.Sprintf("Client error: %d", statusCode)
	case statusCode >= 500:
		apiErr.Kind = KindServer
		apiErr.Message = fmt.Sprintf("Server error: %d", statusCode)
	default:
		apiErr.Message = fmt.Sprintf("Unexpected status: %d", statusCode)
	}

	return apiErr
}

func newTransportError(service string, err error, requestID string) *Error {
	return &Error{
		Service:    service,
		Kind:       KindServer,
		StatusCode: 0,
		Message:    "Request failed",
		Body:       "",
		RequestID:  requestID,
		Err:        err,
	}
}

func newCanceledError(service string, err error, requestID string) *Error {
	return &Error{
		Service:    service,
		Kind:       KindTessera,
		StatusCode: 0,
		Message:    "Request canceled",
		Body:       "",
		RequestID:  requestID,
		Err:        err,
	}
}

func excerpt(body []byte) string {
	if len(body) > maxBodyExcerpt {
		return string(body[:maxBodyExcerpt]) + "..."
	}

	return string(body)
}
