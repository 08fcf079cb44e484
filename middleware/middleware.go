// Package middleware holds the Echo middleware of the SDK: API key and
// bearer authentication against Identies, first-sight user onboarding,
// request ids, request logging and error rendering.
package middleware

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/andyle182810/tessera-sdk/identies"
	"github.com/andyle182810/tessera-sdk/jwks"
	"github.com/andyle182810/tessera-sdk/users"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

const (
	ContextKeyAPIKey        string = "apiKey"
	ContextKeyRequestID     string = "requestID"
	ContextKeyToken         string = "token"
	ContextKeyClaims        string = "claims"
	ContextKeyIntrospection string = "introspection"
	ContextKeyPrincipal     string = "principal"
	ContextKeyUser          string = "user"
	ContextKeyHandler       string = "handler"
)

const (
	HeaderXAPIKey         = "X-API-Key" //nolint:gosec
	HeaderXRequestID      = "X-Request-ID"
	HeaderAuthorization   = "Authorization"
	authSchemeBearer      = "Bearer "
	identiesBaseURLEnvVar = "IDENTIES_BASE_URL"
)

var (
	ErrClaimsNotFound            = errors.New("jwt claims: not found in context")
	ErrClaimsTypeAssertionFailed = errors.New("jwt claims: type assertion failed")
)

type requestIDContextKey struct{}

// RequestIDContextKey carries the request id on the request context. Pass it
// to httpclient.WithRequestIDKey to forward ids to backend services.
var RequestIDContextKey = requestIDContextKey{} //nolint:gochecknoglobals

func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDContextKey).(string); ok {
		return id
	}

	return ""
}

func GetAPIKey(c *echo.Context) string {
	if apiKey, ok := c.Get(ContextKeyAPIKey).(string); ok {
		return apiKey
	}

	return ""
}

func GetRequestID(c *echo.Context) string {
	if requestID, ok := c.Get(ContextKeyRequestID).(string); ok {
		return requestID
	}

	return ""
}

func GetToken(c *echo.Context) string {
	if token, ok := c.Get(ContextKeyToken).(string); ok {
		return token
	}

	return ""
}

func GetClaims(c *echo.Context) (*jwks.Claims, error) {
	claimsValue := c.Get(ContextKeyClaims)

	if claimsValue == nil {
		return nil, ErrClaimsNotFound
	}

	claims, ok := claimsValue.(*jwks.Claims)
	if !ok {
		return nil, ErrClaimsTypeAssertionFailed
	}

	return claims, nil
}

func GetIntrospection(c *echo.Context) *identies.IntrospectResponse {
	if resp, ok := c.Get(ContextKeyIntrospection).(*identies.IntrospectResponse); ok {
		return resp
	}

	return nil
}

// GetPrincipal returns what authentication resolved the caller to: a
// *users.User, a *users.NeedsOnboarding or, for API keys, the
// *identies.UserResponse owning the key.
func GetPrincipal(c *echo.Context) any {
	return c.Get(ContextKeyPrincipal)
}

// GetUser returns the local user once authentication or onboarding has
// attached one.
func GetUser(c *echo.Context) (*users.User, bool) {
	user, ok := c.Get(ContextKeyUser).(*users.User)

	return user, ok && user != nil
}

func GetHandler(c *echo.Context) string {
	if handler, ok := c.Get(ContextKeyHandler).(string); ok {
		return handler
	}

	return ""
}

func setUser(c *echo.Context, user *users.User) {
	c.Set(ContextKeyUser, user)
	c.Set(ContextKeyPrincipal, user)
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(c *echo.Context) string {
	header := c.Request().Header.Get(HeaderAuthorization)
	if !strings.HasPrefix(header, authSchemeBearer) {
		return ""
	}

	return strings.TrimSpace(header[len(authSchemeBearer):])
}

// pathSkipper skips requests whose path is one of paths, then defers to
// skipper.
func pathSkipper(paths []string, skipper middleware.Skipper) middleware.Skipper {
	return func(c *echo.Context) bool {
		if slices.Contains(paths, c.Request().URL.Path) {
			return true
		}

		return skipper != nil && skipper(c)
	}
}
