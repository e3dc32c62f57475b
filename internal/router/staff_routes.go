package router

// This file registers the back-office routes of the operational roles:
// hall incharges, customer care, telemarketing and the shared offline
// payment desk.  They are separate from the merchant routes to keep the
// role sets of each group easy to audit.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyhall-marketplace/internal/handler"
	"github.com/iliyamo/studyhall-marketplace/internal/middleware"
	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// RegisterIncharge registers routes for staff assigned to halls.  Only the
// halls an incharge is assigned to are visible.
func RegisterIncharge(e *echo.Echo, h *handler.InchargeHandler, jwtSecret string) {
	g := e.Group(
		"/v1/incharge",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleIncharge),
	)
	g.GET("/halls", h.ListHalls)
	g.GET("/bookings", h.ListBookings)
}

// RegisterOfflineDesk registers confirmation and rejection of cash and bank
// transfer payments.  The role gate is wide; the service checks that the
// caller owns, or is assigned to, the booking's hall.
func RegisterOfflineDesk(e *echo.Echo, p *handler.PaymentHandler, jwtSecret string) {
	g := e.Group(
		"/v1/staff",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleMerchant, model.RoleInstitution, model.RoleIncharge, model.RoleAdmin),
	)
	g.POST("/transactions/:id/confirm", p.ConfirmOffline)
	g.POST("/transactions/:id/reject", p.RejectOffline)
}

// RegisterSupport registers customer care and telemarketing routes.
// Administrators can use both.
func RegisterSupport(e *echo.Echo, s *handler.SupportHandler, jwtSecret string) {
	care := e.Group(
		"/v1/support",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleCustomerCare, model.RoleAdmin),
	)
	care.GET("/bookings", s.SearchBookings)
	care.GET("/bookings/:id", s.GetBooking)
	care.POST("/bookings/:id/cancel", s.CancelBooking)

	tele := e.Group(
		"/v1/telemarketing",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleTelemarketing, model.RoleAdmin),
	)
	tele.GET("/enquiries", s.ListEnquiries)
	tele.PATCH("/enquiries/:id", s.UpdateEnquiry)
}
