package testutil

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/andyle182810/tessera-sdk/middleware"
	"github.com/andyle182810/tessera-sdk/validator"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
)

type Options struct {
	Method        string            // HTTP method (GET, POST, etc.)
	Path          string            // Request path
	Body          []byte            // Request body
	Headers       map[string]string // Custom headers
	QueryParams   map[string]string // Query parameters
	PathParams    map[string]string // Path parameters (e.g., :id)
	ContentType   string            // Content-Type header (defaults to application/json)
	SkipRequestID bool              // Skip auto-generating X-Request-ID header
}

// NewEcho returns an echo instance wired like the services built on the SDK:
// the shared validator and the SDK error handler.
func NewEcho() *echo.Echo {
	iecho := echo.New()
	iecho.Validator = validator.Default()
	iecho.HTTPErrorHandler = middleware.ErrorHandler(nil)

	return iecho
}

// Serve runs req through handler wrapped by mws on a fresh NewEcho instance.
func Serve(
	t *testing.T,
	req *http.Request,
	handler echo.HandlerFunc,
	mws ...echo.MiddlewareFunc,
) *httptest.ResponseRecorder {
	t.Helper()

	iecho := NewEcho()
	iecho.Use(mws...)
	iecho.Any(req.URL.Path, handler)

	rec := httptest.NewRecorder()
	iecho.ServeHTTP(rec, req)

	return rec
}

func SetupEchoContext(
	t *testing.T,
	opts *Options,
) (*echo.Context, *httptest.ResponseRecorder, *http.Request) {
	t.Helper()

	iecho := NewEcho()

	requestPath := opts.Path

	if len(opts.QueryParams) > 0 {
		query := url.Values{}
		for key, value := range opts.QueryParams {
			query.Add(key, value)
		}

		requestPath = fmt.Sprintf("%s?%s", opts.Path, query.Encode())
	}

	req := httptest.NewRequest(opts.Method, requestPath, bytes.NewBuffer(opts.Body))

	if !opts.SkipRequestID {
		requestID := uuid.New().String()
		req.Header.Set(middleware.HeaderXRequestID, requestID)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	req.Header.Set("Content-Type", contentType)

	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	ctx := iecho.NewContext(req, rec)

	if len(opts.PathParams) > 0 {
		pathValues := make([]echo.PathValue, 0, len(opts.PathParams))

		for name, value := range opts.PathParams {
			pathValues = append(pathValues, echo.PathValue{
				Name:  name,
				Value: value,
			})
		}

		ctx.SetPathValues(pathValues)
	}

	return ctx, rec, req
}
