package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog"
)

// LogFieldExtractor adds service specific fields to the access log entry.
type LogFieldExtractor func(*echo.Context) map[string]any

// RequestLogger writes one access log entry per request, carrying the request
// id and, once onboarding has run, the local user id. Failed requests are
// logged with the status ErrorHandler will render for the error.
func RequestLogger(logger zerolog.Logger, extractors ...LogFieldExtractor) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx *echo.Context) error {
			start := time.Now()

			err := next(ctx)

			status, size := http.StatusOK, int64(0)
			if res, unwrapErr := echo.UnwrapResponse(ctx.Response()); unwrapErr == nil {
				status, size = res.Status, res.Size
			}

			if err != nil {
				status, _, _ = classify(err)
			}

			req := ctx.Request()

			event := levelFor(logger, status).
				Err(err).
				Int("status", status).
				Int64("size", size).
				Dur("latency", time.Since(start)).
				Str("request", req.Method+" "+req.URL.String()).
				Str("host", req.Host).
				Str("remote_ip", ctx.RealIP()).
				Str("user_agent", req.UserAgent())

			if id := GetRequestID(ctx); id != "" {
				event = event.Str("request_id", id)
			}

			if user, ok := GetUser(ctx); ok {
				event = event.Str("user_id", user.ID.String())
			}

			for _, extract := range extractors {
				event = event.Fields(extract(ctx))
			}

			event.Msg("Request completed")

			return err
		}
	}
}

func levelFor(logger zerolog.Logger, status int) *zerolog.Event {
	switch {
	case status >= http.StatusInternalServerError:
		return logger.Error()
	case status >= http.StatusBadRequest:
		return logger.Warn()
	default:
		return logger.Info()
	}
}
