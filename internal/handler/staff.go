package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyhall-marketplace/internal/repository"
	"github.com/iliyamo/studyhall-marketplace/internal/service"
)

// InchargeHandler serves incharges, who operate the halls a merchant
// assigned to them.
type InchargeHandler struct {
	Halls     *repository.StudyHallRepo
	Bookings  *repository.BookingRepo
	Incharges *repository.InchargeRepo
}

func NewInchargeHandler(repos service.Repos) *InchargeHandler {
	return &InchargeHandler{Halls: repos.Halls, Bookings: repos.Bookings, Incharges: repos.Incharges}
}

// ListHalls returns the caller's assigned halls.
func (h *InchargeHandler) ListHalls(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	ids, err := h.Incharges.HallIDs(ctx, uid)
	if err != nil {
		return respondError(c, err)
	}
	halls, err := h.Halls.ListByIDs(ctx, ids)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": halls})
}

// ListBookings returns bookings on the caller's halls.  Asking for a
// hall that is not assigned is reported as not found.
func (h *InchargeHandler) ListBookings(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	f, err := bookingFilter(c)
	if err != nil {
		return badRequest(c, "invalid filter")
	}
	ctx := c.Request().Context()
	ids, err := h.Incharges.HallIDs(ctx, uid)
	if err != nil {
		return respondError(c, err)
	}
	if f.HallID != 0 {
		found := false
		for _, id := range ids {
			found = found || id == f.HallID
		}
		if !found {
			return respondError(c, repository.ErrNotFound)
		}
	}
	f.HallIDs = ids
	f.Page = queryPage(c, 50, 200)
	items, err := h.Bookings.List(ctx, f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
