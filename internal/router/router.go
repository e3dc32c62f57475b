package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/studyhall-marketplace/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/studyhall-marketplace/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers the operational endpoints that sit outside the
// versioned API: liveness, readiness and the Prometheus scrape target.
func RegisterRoutes(e *echo.Echo, ready *handler.ReadyHandler) {
	// Map GET /health to the Health handler.  Load balancers use it to
	// verify that the process is serving.
	e.GET("/health", handler.Health)
	// Readiness also pings MySQL and Redis.
	e.GET("/ready", ready.Ready)
	// Expose the default Prometheus registry.
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers all authentication-related routes and applies the
// necessary middleware.  Unauthenticated operations live under /v1/auth,
// while the caller's own profile lives under /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	// Create a route group under the /v1/auth prefix for operations that do
	// not require an existing session (register, login, refresh).  Each of
	// these handlers is responsible for generating or exchanging tokens.
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Refresh rotates the refresh token; the old one stops working.
	g.POST("/refresh", a.Refresh)
	// Logout accepts a refresh token in the body.  When a bearer token is
	// sent instead, every session of that user is revoked, so the JWT is
	// parsed when present but not required.
	g.POST("/logout", a.Logout, middleware.OptionalJWT(jwtSecret))

	// Any authenticated role may read its own profile.
	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// RegisterPublic registers unauthenticated browse endpoints.  Every route
// shares the public token bucket; listing, detail, layout and review reads
// are additionally served through the Redis response cache.  Availability
// and quotes are never cached because they change with every booking.
//
// Several registrars share the /v1 prefix, so none of them attaches
// middleware to the group itself: echo would add a catch-all for the group
// and unknown /v1 paths would answer with that group's middleware instead
// of 404.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, jwtSecret string, limit, cache echo.MiddlewareFunc) {
	g := e.Group("/v1")

	// Approved halls, filterable by city and free text
	g.GET("/halls", p.ListHalls, limit, cache)
	g.GET("/halls/:id", p.GetHall, limit, cache)
	// Seat layout grouped by row so guests can preview a hall
	g.GET("/halls/:id/seats", p.Seats, limit, cache)
	g.GET("/halls/:id/reviews", p.Reviews, limit, cache)
	// Per-seat availability over a date range
	g.GET("/halls/:id/availability", p.Availability, limit)
	// Quotes are public, but redeeming points needs the caller's balance so
	// the token is parsed when one is sent.
	g.GET("/halls/:id/quote", p.Quote, limit, middleware.OptionalJWT(jwtSecret))

	// Lead capture for the telemarketing team
	g.POST("/enquiries", p.CreateEnquiry, limit)
}

// chain returns base followed by extra in a fresh slice.
func chain(base []echo.MiddlewareFunc, extra ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	out := make([]echo.MiddlewareFunc, 0, len(base)+len(extra))
	return append(append(out, base...), extra...)
}

// RegisterRealtime registers the Server-Sent Events change feed.  Browsers
// cannot set headers on an EventSource, so the token may also arrive as the
// access_token query parameter.
func RegisterRealtime(e *echo.Echo, s *handler.StreamHandler, jwtSecret string) {
	e.GET("/v1/realtime", s.Stream, middleware.StreamJWT(jwtSecret))
}
