package middleware

import (
	"errors"
	"net/http"

	"github.com/andyle182810/tessera-sdk/httpclient"
	"github.com/andyle182810/tessera-sdk/users"
	"github.com/andyle182810/tessera-sdk/validator"
	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog"
)

type ErrorHandlerConfig struct {
	Logger *zerolog.Logger
	// IncludeInternalErrors adds the wrapped error text to the response.
	IncludeInternalErrors bool
}

// ErrorHandler renders handler errors as {"detail": ...}. Echo HTTP errors
// keep their status; SDK errors are mapped by kind. Anything else is passed
// to next, or rendered as a 500 when next is nil.
func ErrorHandler(next echo.HTTPErrorHandler, config ...*ErrorHandlerConfig) echo.HTTPErrorHandler {
	cfg := &ErrorHandlerConfig{} //nolint:exhaustruct
	if len(config) > 0 && config[0] != nil {
		cfg = config[0]
	}

	return func(ectx *echo.Context, err error) {
		res, unwrapErr := echo.UnwrapResponse(ectx.Response())
		if unwrapErr == nil && res.Committed {
			return
		}

		status, message, known := classify(err)
		if !known && next != nil {
			logError(ectx, cfg.Logger, status, err)
			next(ectx, err)

			return
		}

		logError(ectx, cfg.Logger, status, err)

		response := map[string]any{detailResponseFieldKey: message}

		if id := GetRequestID(ectx); id != "" {
			response["request_id"] = id
		}

		if cfg.IncludeInternalErrors && status >= http.StatusInternalServerError {
			response["internal"] = err.Error()
		}

		_ = ectx.JSON(status, response)
	}
}

// ErrorStatus is the status ErrorHandler responds with for err.
func ErrorStatus(err error) int {
	status, _, _ := classify(err)

	return status
}

func classify(err error) (int, any, bool) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, httpErr.Message, true
	}

	var statusErr echo.HTTPStatusCoder
	if errors.As(err, &statusErr) && statusErr.StatusCode() != 0 {
		return statusErr.StatusCode(), http.StatusText(statusErr.StatusCode()), true
	}

	switch {
	case errors.Is(err, validator.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error(), true
	case errors.Is(err, users.ErrUserNotFound):
		return http.StatusNotFound, "User not found", true
	case errors.Is(err, users.ErrEmailTaken):
		return http.StatusConflict, "Email is already in use", true
	}

	if apiErr, ok := httpclient.AsError(err); ok {
		switch apiErr.Kind {
		case httpclient.KindNotFound:
			return http.StatusNotFound, apiErr.Message, true
		case httpclient.KindValidation:
			return http.StatusBadRequest, apiErr.Message, true
		case httpclient.KindServer:
			return http.StatusServiceUnavailable, apiErr.Service + " is temporarily unavailable", true
		case httpclient.KindAuthentication, httpclient.KindClient, httpclient.KindTessera:
			return http.StatusBadGateway, apiErr.Service + " rejected the request", true
		}
	}

	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), false
}

func logError(ectx *echo.Context, logger *zerolog.Logger, status int, err error) {
	if logger == nil {
		return
	}

	event := logger.Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}

	event = event.
		Err(err).
		Int("status_code", status).
		Str("path", ectx.Request().URL.Path).
		Str("method", ectx.Request().Method)

	if id := GetRequestID(ectx); id != "" {
		event = event.Str("request_id", id)
	}

	if handler := GetHandler(ectx); handler != "" {
		event = event.Str("handler", handler)
	}

	event.Msg("The request has failed")
}
