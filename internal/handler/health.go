package handler // declare the package name; contains HTTP handlers

import (
    "context"
    "database/sql"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
)

// Health is a liveness endpoint used by load balancers and monitoring
// systems to verify that the process is serving.  It returns a plain text
// "ok" message with an HTTP 200 status code.
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// ReadyHandler reports whether the backing services answer.
type ReadyHandler struct {
    DB    *sql.DB
    Redis *redis.Client // nil when Redis is disabled
}

// Ready pings MySQL and Redis.  MySQL is required; Redis is reported but
// a missing Redis only degrades caching, limits and the change feed.
func (h *ReadyHandler) Ready(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
    defer cancel()

    checks := echo.Map{"mysql": "ok", "redis": "disabled"}
    status := http.StatusOK
    if err := h.DB.PingContext(ctx); err != nil {
        checks["mysql"] = err.Error()
        status = http.StatusServiceUnavailable
    }
    if h.Redis != nil {
        checks["redis"] = "ok"
        if err := h.Redis.Ping(ctx).Err(); err != nil {
            checks["redis"] = err.Error()
        }
    }
    return c.JSON(status, checks)
}
