package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/repository"
	"github.com/iliyamo/studyhall-marketplace/internal/service"
)

const supportSearchLimit = 50

// SupportHandler serves customer care and telemarketing agents.
type SupportHandler struct {
	Booking      *service.BookingService
	Bookings     *repository.BookingRepo
	Transactions *repository.TransactionRepo
	Enquiries    *repository.EnquiryRepo
}

func NewSupportHandler(repos service.Repos, booking *service.BookingService) *SupportHandler {
	return &SupportHandler{
		Booking:      booking,
		Bookings:     repos.Bookings,
		Transactions: repos.Transactions,
		Enquiries:    repos.Enquiries,
	}
}

// SearchBookings looks bookings up by reference, email or phone.
func (h *SupportHandler) SearchBookings(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return badRequest(c, "q is required")
	}
	items, err := h.Bookings.Search(c.Request().Context(), q, supportSearchLimit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetBooking returns any booking with its payment attempts.
func (h *SupportHandler) GetBooking(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	ctx := c.Request().Context()
	d, err := h.Bookings.GetDetail(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	txns, err := h.Transactions.ListByBooking(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": d, "transactions": txns})
}

// CancelBooking cancels on a student's behalf.  A reason is required so
// the audit trail says why.
func (h *SupportHandler) CancelBooking(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req struct {
		Reason string `json:"reason" validate:"required,max=255"`
	}
	if err := bindValid(c, &req); err != nil {
		return err
	}
	d, err := h.Booking.Cancel(c.Request().Context(), actor, id, strings.TrimSpace(req.Reason))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func validEnquiryStatus(s string) bool {
	switch s {
	case model.EnquiryNew, model.EnquiryContacted, model.EnquiryConverted, model.EnquiryClosed:
		return true
	}
	return false
}

// ListEnquiries handles GET /v1/telemarketing/enquiries?status=.
func (h *SupportHandler) ListEnquiries(c echo.Context) error {
	status := strings.ToUpper(strings.TrimSpace(c.QueryParam("status")))
	if status != "" && !validEnquiryStatus(status) {
		return badRequest(c, "invalid status")
	}
	items, err := h.Enquiries.List(c.Request().Context(), status, queryPage(c, 50, 200))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

type enquiryUpdateReq struct {
	Status string `json:"status" validate:"required,oneof=NEW CONTACTED CONVERTED CLOSED"`
	Notes  string `json:"notes" validate:"max=2000"`
}

// UpdateEnquiry records call progress and assigns the enquiry to the caller.
func (h *SupportHandler) UpdateEnquiry(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req enquiryUpdateReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	e, err := h.Enquiries.Update(c.Request().Context(), id, req.Status, strings.TrimSpace(req.Notes), uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}
