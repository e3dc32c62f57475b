package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "net/http" // HTTP status codes for responses
    "strings"  // string utilities for prefix checking and trimming

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/iliyamo/studyhall-marketplace/internal/utils" // access token parsing
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's subject and role claims into the request context.  The
// provided secret must match the one used when issuing tokens.  Handlers read
// the caller via `c.Get("user_id")` (uint64) and `c.Get("role")` (string).
func JWTAuth(secret string) echo.MiddlewareFunc {
    return authenticate(secret, true, false)
}

// OptionalJWT is JWTAuth for endpoints that also serve anonymous callers.
// A missing header passes through untouched; a present but invalid token
// is still rejected so clients notice an expired session.
func OptionalJWT(secret string) echo.MiddlewareFunc {
    return authenticate(secret, false, false)
}

// StreamJWT accepts the token from the `access_token` query parameter as
// well, because browser EventSource clients cannot set headers.
func StreamJWT(secret string) echo.MiddlewareFunc {
    return authenticate(secret, true, true)
}

func authenticate(secret string, required, allowQuery bool) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw := bearer(c.Request().Header.Get("Authorization"))
            if raw == "" && allowQuery {
                raw = c.QueryParam("access_token")
            }
            if raw == "" {
                if !required {
                    return next(c)
                }
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing bearer token"})
            }

            // Only HMAC-signed tokens with a numeric subject are accepted.
            id, err := utils.ParseAccessToken(secret, raw)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid token"})
            }
            c.Set("user_id", id.UserID)
            c.Set("role", id.Role)
            return next(c)
        }
    }
}

func bearer(h string) string {
    if !strings.HasPrefix(h, "Bearer ") {
        return ""
    }
    return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}
