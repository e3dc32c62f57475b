package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyhall-marketplace/internal/handler"
	"github.com/iliyamo/studyhall-marketplace/internal/middleware"
	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// RegisterStudent registers student-scoped endpoints under /v1.  All routes
// require a valid JWT and the STUDENT role.  Students book seats, pay for
// their bookings, cancel them and leave reviews.  Starting a payment hits
// an external provider, so those routes get their own stricter bucket.
// The middleware is attached per route because /v1 is shared (see
// RegisterPublic).
func RegisterStudent(e *echo.Echo, s *handler.StudentHandler, p *handler.PaymentHandler, jwtSecret string, payLimit echo.MiddlewareFunc) {
	g := e.Group("/v1")
	auth := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleStudent),
	}
	pay := chain(auth, payLimit)

	g.POST("/bookings", s.CreateBooking, auth...)
	g.GET("/bookings", s.ListBookings, auth...)
	g.GET("/bookings/:id", s.GetBooking, auth...)
	g.POST("/bookings/:id/cancel", s.CancelBooking, auth...)
	g.POST("/bookings/:id/review", s.CreateReview, auth...)

	// One route per payment rail
	g.POST("/bookings/:id/payments/razorpay", p.Start(model.MethodRazorpay), pay...)
	g.POST("/bookings/:id/payments/ekqr", p.Start(model.MethodEKQR), pay...)
	g.POST("/bookings/:id/payments/offline", p.Start(model.MethodOffline), pay...)
	// Checkout callback posted by the browser after the Razorpay widget closes
	g.POST("/payments/razorpay/verify", p.VerifyRazorpay, pay...)
	// Status of an attempt; UPI-QR attempts are checked with the provider
	g.GET("/payments/:id/status", p.Status, auth...)
}

// RegisterAccount registers the per-user endpoints every authenticated role
// shares: the reward ledger and the notification center.
func RegisterAccount(e *echo.Echo, a *handler.AccountHandler, jwtSecret string) {
	g := e.Group("/v1")
	auth := middleware.JWTAuth(jwtSecret)
	g.GET("/me/rewards", a.Rewards, auth)
	g.GET("/notifications", a.Notifications, auth)
	g.POST("/notifications/read-all", a.MarkAllRead, auth)
	g.POST("/notifications/:id/read", a.MarkRead, auth)
}

// RegisterWebhooks registers provider callbacks.  They carry no JWT; the
// handler authenticates each request by its HMAC signature.
func RegisterWebhooks(e *echo.Echo, p *handler.PaymentHandler) {
	e.POST("/v1/webhooks/razorpay", p.RazorpayWebhook)
}
