package router // router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyhall-marketplace/internal/handler"    // merchant handlers
	"github.com/iliyamo/studyhall-marketplace/internal/middleware" // JWT + role middlewares
	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// RegisterMerchant registers hall-owner endpoints under /v1/merchant.
// Merchants and institutions share every route; each handler scopes its
// queries to the caller's own halls.
func RegisterMerchant(e *echo.Echo, m *handler.MerchantHandler, jwtSecret string) {
	// Attach middlewares at group construction time for clarity.
	g := e.Group(
		"/v1/merchant",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleMerchant, model.RoleInstitution),
	)

	// ---- Halls ----
	// New halls and edits to approved ones go back to PENDING_APPROVAL.
	g.POST("/halls", m.CreateHall)
	g.GET("/halls", m.ListHalls)
	g.GET("/halls/:id", m.GetHall)
	g.PUT("/halls/:id", m.UpdateHall)
	g.DELETE("/halls/:id", m.DeleteHall)

	// ---- Seats ----
	g.POST("/halls/:id/seats/generate", m.GenerateSeats) // rows x cols grid, existing labels are kept
	g.GET("/halls/:id/seats", m.ListSeats)
	g.PATCH("/seats/:id", m.UpdateSeat)

	// ---- Bookings ----
	// Export takes the same filters as the list.
	g.GET("/bookings", m.ListBookings)
	g.GET("/bookings/export.csv", m.ExportBookings)
	g.GET("/analytics", m.Analytics)

	// ---- Incharges ----
	g.POST("/incharges", m.InviteIncharge)
	g.GET("/incharges", m.ListIncharges)
	g.DELETE("/incharges/:id/halls/:hall_id", m.UnassignIncharge)

	// ---- Settlements ----
	g.GET("/settlements", m.ListSettlements)
}
