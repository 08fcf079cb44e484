package httpserver

import (
	"net/http"
	"reflect"
	"runtime"
	"strings"

	"github.com/andyle182810/tessera-sdk/middleware"
	"github.com/andyle182810/tessera-sdk/validator"
	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Wrapper binds and validates TREQ, records the handler name for the error
// handler and renders the result as JSON with status 200. Errors are returned
// untouched so ErrorHandler can map SDK errors by kind.
func Wrapper[TREQ, TRES any](wrapped func(*echo.Context, *TREQ) (*TRES, error)) echo.HandlerFunc {
	handlerName := shortName(runtime.FuncForPC(reflect.ValueOf(wrapped).Pointer()).Name())

	return func(ectx *echo.Context) error {
		ectx.Set(middleware.ContextKeyHandler, handlerName)

		logger := log.With().
			Str("request_id", middleware.GetRequestID(ectx)).
			Str("handler", handlerName).
			Logger()

		req, err := bindAndValidate[TREQ](ectx, &logger)
		if err != nil {
			return err
		}

		res, err := wrapped(ectx, req)
		if err != nil {
			return err
		}

		return ectx.JSON(http.StatusOK, res)
	}
}

func bindAndValidate[TREQ any](ectx *echo.Context, logger *zerolog.Logger) (*TREQ, error) {
	var req TREQ

	if err := ectx.Bind(&req); err != nil {
		logger.Warn().Err(err).Msg("The request could not be bound to the expected structure")

		return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	if err := validator.Struct(&req); err != nil {
		logger.Warn().Err(err).Msg("The request has failed validation")

		return nil, err
	}

	return &req, nil
}

func shortName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	return strings.TrimSuffix(name, "-fm")
}
