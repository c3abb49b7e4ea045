package authn

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
)

const (
	// ContextKeyAuthenticated marks a request that presented a valid key.
	ContextKeyAuthenticated = "auth_api_key"

	HeaderAPIKey = "X-API-Key"
)

// Verifier checks a presented API key.
type Verifier interface {
	Verify(key string) (bool, error)
}

// RequireAPIKey rejects requests that do not carry a key accepted by v, either
// as a bearer token or in the X-API-Key header.
func RequireAPIKey(v Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			key := PresentedKey(c.Request())
			if key == "" {
				return handleUnauth(c)
			}
			ok, err := v.Verify(key)
			if err != nil {
				return err
			}
			if !ok {
				return handleUnauth(c)
			}
			c.Set(ContextKeyAuthenticated, true)
			return next(c)
		}
	}
}

// PresentedKey extracts the API key from r, preferring the Authorization
// header.
func PresentedKey(r *http.Request) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		scheme, token, ok := strings.Cut(authz, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get(HeaderAPIKey))
}

func handleUnauth(c *echo.Context) error {
	c.Response().Header().Set("WWW-Authenticate", `Bearer realm="connector-hub"`)
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}
