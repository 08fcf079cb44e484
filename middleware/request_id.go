package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

type RequestIDConfig struct {
	Skipper   middleware.Skipper
	Generator func() string
	// Require rejects requests without an X-Request-ID instead of generating
	// one.
	Require   bool
	Validator func(string) error
}

func DefaultRequestIDConfig() RequestIDConfig {
	return RequestIDConfig{
		Skipper:   middleware.DefaultSkipper,
		Generator: uuid.NewString,
		Require:   false,
		Validator: uuid.Validate,
	}
}

func RequestID(skipper middleware.Skipper) echo.MiddlewareFunc {
	config := DefaultRequestIDConfig()
	config.Skipper = skipper

	return RequestIDWithConfig(config)
}

// RequestIDWithConfig echoes or generates X-Request-ID and stores it both on
// the echo context and on the request context under RequestIDContextKey, so
// SDK clients built with httpclient.WithRequestIDKey forward it.
func RequestIDWithConfig(config RequestIDConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = middleware.DefaultSkipper
	}

	if config.Generator == nil {
		config.Generator = uuid.NewString
	}

	if config.Validator == nil {
		config.Validator = uuid.Validate
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx *echo.Context) error {
			if config.Skipper(ctx) {
				return next(ctx)
			}

			req := ctx.Request()
			rid := strings.TrimSpace(req.Header.Get(HeaderXRequestID))

			switch {
			case rid == "" && config.Require:
				return echo.NewHTTPError(http.StatusBadRequest, "missing required header: "+HeaderXRequestID)
			case rid == "":
				rid = config.Generator()
				req.Header.Set(HeaderXRequestID, rid)
			case config.Validator(rid) != nil:
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+HeaderXRequestID+": must be a valid UUID")
			}

			ctx.Response().Header().Set(HeaderXRequestID, rid)
			ctx.Set(ContextKeyRequestID, rid)
			ctx.SetRequest(req.WithContext(context.WithValue(req.Context(), RequestIDContextKey, rid)))

			return next(ctx)
		}
	}
}
