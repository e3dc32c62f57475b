package middleware

// identity.go holds the caller lookup shared by the rate limiter and the
// response cache.  Anonymous callers are keyed as "anon".

import (
    "strconv"

    "github.com/labstack/echo/v4"
)

// currentUserID returns the authenticated user id as a string, or "anon"
// when JWTAuth did not run or found no token.
func currentUserID(c echo.Context) string {
    if id, ok := c.Get("user_id").(uint64); ok && id != 0 {
        return strconv.FormatUint(id, 10)
    }
    return "anon"
}
