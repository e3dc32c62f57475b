package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyhall-marketplace/internal/handler"
	"github.com/iliyamo/studyhall-marketplace/internal/middleware"
	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// RegisterAdmin registers platform administration under /v1/admin: user
// accounts, hall approval, coupons, review moderation and totals.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)

	// ---- Users ----
	g.GET("/users", a.ListUsers)
	g.POST("/users", a.CreateUser) // privileged accounts of any role
	g.PATCH("/users/:id", a.SetUserActive)

	// ---- Hall approval ----
	g.GET("/halls", a.ListHalls)
	g.POST("/halls/:id/approve", a.SetHallStatus(model.HallApproved))
	g.POST("/halls/:id/reject", a.SetHallStatus(model.HallRejected))

	// ---- Coupons ----
	g.POST("/coupons", a.CreateCoupon)
	g.GET("/coupons", a.ListCoupons)
	g.PATCH("/coupons/:id", a.SetCouponActive)

	g.POST("/reviews/:id/hide", a.HideReview)
	g.GET("/stats", a.Stats)
}

// RegisterSettlements registers the finance team's payout endpoints.
func RegisterSettlements(e *echo.Echo, s *handler.SettlementHandler, jwtSecret string) {
	g := e.Group(
		"/v1/settlements",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleSettlement, model.RoleAdmin),
	)
	g.POST("", s.Create)
	g.GET("", s.List)
	g.GET("/:id", s.Get)
	g.POST("/:id/pay", s.MarkPaid)
}
