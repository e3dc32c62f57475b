package handler

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/pricing"
	"github.com/iliyamo/studyhall-marketplace/internal/repository"
	"github.com/iliyamo/studyhall-marketplace/internal/service"
)

var errBadHallID = errors.New("invalid hall_id")

const (
	exportLimit      = 5000
	defaultAnalytics = 30 // days
)

// bookingFilter reads the shared back-office filters hall_id, status, from and to.
func bookingFilter(c echo.Context) (repository.BookingFilter, error) {
	var f repository.BookingFilter
	hallID, ok := queryUint(c, "hall_id")
	if !ok {
		return f, errBadHallID
	}
	f.HallID = hallID
	f.Status = strings.ToUpper(strings.TrimSpace(c.QueryParam("status")))
	var err error
	if f.From, err = queryDate(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = queryDate(c, "to"); err != nil {
		return f, err
	}
	return f, nil
}

// ListBookings handles GET /v1/merchant/bookings.
func (h *MerchantHandler) ListBookings(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	f, err := bookingFilter(c)
	if err != nil {
		return badRequest(c, "invalid filter")
	}
	f.OwnerID = ownerID
	f.Page = queryPage(c, 50, 200)
	items, err := h.Bookings.List(c.Request().Context(), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

var exportHeader = []string{
	"reference", "study_hall", "seat", "student", "email", "phone",
	"start_date", "end_date", "days", "final_amount", "status", "payment_status", "payment_method", "created_at",
}

// ExportBookings streams the filtered bookings as CSV.
func (h *MerchantHandler) ExportBookings(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	f, err := bookingFilter(c)
	if err != nil {
		return badRequest(c, "invalid filter")
	}
	f.OwnerID = ownerID
	f.Page = repository.Page{Limit: exportLimit}
	items, err := h.Bookings.List(c.Request().Context(), f)
	if err != nil {
		return respondError(c, err)
	}

	name := "bookings-" + h.now().UTC().Format("20060102") + ".csv"
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	res.WriteHeader(http.StatusOK)

	w := csv.NewWriter(res)
	if err := w.Write(exportHeader); err != nil {
		return err
	}
	for _, b := range items {
		if err := w.Write([]string{
			b.Reference, b.HallName, b.SeatLabel, b.StudentName, b.StudentEmail, b.StudentPhone,
			b.StartDate.Format(pricing.DateLayout), b.EndDate.Format(pricing.DateLayout),
			strconv.Itoa(b.Days), b.FinalAmount.StringFixed(2), b.Status, b.PaymentStatus, b.PaymentMethod,
			b.CreatedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Analytics handles GET /v1/merchant/analytics?from=&to=.  The range
// defaults to the last 30 days.
func (h *MerchantHandler) Analytics(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	today := pricing.DateOf(h.now().UTC())
	from, to := today.AddDate(0, 0, -(defaultAnalytics - 1)), today
	if c.QueryParam("from") != "" || c.QueryParam("to") != "" {
		if from, to, err = queryRange(c, "from", "to"); err != nil {
			return respondError(c, err)
		}
		if _, err := pricing.CountDays(from, to); err != nil {
			return respondError(c, err)
		}
	}

	ctx := c.Request().Context()
	revenue, err := h.AnalyticsRepo.RevenueByDay(ctx, ownerID, from, to)
	if err != nil {
		return respondError(c, err)
	}
	counts, err := h.AnalyticsRepo.BookingCounts(ctx, ownerID, from, to)
	if err != nil {
		return respondError(c, err)
	}
	occupancy, err := h.AnalyticsRepo.Occupancy(ctx, ownerID, from, to)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"from":      from.Format(pricing.DateLayout),
		"to":        to.Format(pricing.DateLayout),
		"revenue":   revenue,
		"bookings":  counts,
		"occupancy": occupancy,
	})
}

type inviteReq struct {
	Email        string   `json:"email" validate:"required,email,max=190"`
	FullName     string   `json:"full_name" validate:"required,max=120"`
	Phone        string   `json:"phone" validate:"omitempty,min=7,max=20"`
	StudyHallIDs []uint64 `json:"study_hall_ids" validate:"required,min=1,max=50,dive,gt=0"`
}

// InviteIncharge creates or reuses an incharge account and assigns halls.
// The temporary password is only present when a new account was created.
func (h *MerchantHandler) InviteIncharge(c echo.Context) error {
	merchantID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req inviteReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	inc, temp, err := h.Invites.Invite(c.Request().Context(), merchantID, service.InviteRequest{
		Email:    req.Email,
		FullName: req.FullName,
		Phone:    req.Phone,
		HallIDs:  req.StudyHallIDs,
	})
	if err != nil {
		return respondError(c, err)
	}
	resp := echo.Map{"incharge": inc}
	if temp != "" {
		resp["temporary_password"] = temp
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListIncharges returns the caller's incharges with their halls.
func (h *MerchantHandler) ListIncharges(c echo.Context) error {
	merchantID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	items, err := h.Incharges.ListByMerchant(c.Request().Context(), merchantID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// UnassignIncharge removes one hall from an incharge.
func (h *MerchantHandler) UnassignIncharge(c echo.Context) error {
	merchantID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	inchargeID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	hallID, ok := pathID(c, "hall_id")
	if !ok {
		return badRequest(c, "invalid hall_id")
	}
	if err := h.Incharges.Unassign(c.Request().Context(), merchantID, inchargeID, hallID); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListSettlements returns the caller's payouts.
func (h *MerchantHandler) ListSettlements(c echo.Context) error {
	merchantID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	status := strings.ToUpper(strings.TrimSpace(c.QueryParam("status")))
	if status != "" && status != model.SettlementPending && status != model.SettlementPaid {
		return badRequest(c, "invalid status")
	}
	items, err := h.Settlements.List(c.Request().Context(), merchantID, status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
