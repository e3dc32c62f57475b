package handler

import (
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/studyhall-marketplace/internal/model"
    "github.com/iliyamo/studyhall-marketplace/internal/pricing"
    "github.com/iliyamo/studyhall-marketplace/internal/repository"
    "github.com/iliyamo/studyhall-marketplace/internal/service"
)

// StudentHandler serves the booking endpoints of signed-in students.  All
// methods assume JWT authentication and the role check already ran;
// bookings of other users are reported as not found.
type StudentHandler struct {
    Booking      *service.BookingService
    Bookings     *repository.BookingRepo
    Transactions *repository.TransactionRepo
    Reviews      *repository.ReviewRepo
    now          func() time.Time
}

func NewStudentHandler(repos service.Repos, booking *service.BookingService) *StudentHandler {
    return &StudentHandler{
        Booking:      booking,
        Bookings:     repos.Bookings,
        Transactions: repos.Transactions,
        Reviews:      repos.Reviews,
        now:          time.Now,
    }
}

type createBookingReq struct {
    StudyHallID uint64 `json:"study_hall_id" validate:"required,gt=0"`
    SeatID      uint64 `json:"seat_id" validate:"required,gt=0"`
    StartDate   string `json:"start_date" validate:"required,datetime=2006-01-02"`
    EndDate     string `json:"end_date" validate:"required,datetime=2006-01-02"`
    CouponCode  string `json:"coupon_code" validate:"max=40"`
    Points      int    `json:"points" validate:"gte=0"`
}

// CreateBooking handles POST /v1/bookings.  On success the seat is held
// for the payment window and the booking is returned with its quote.
func (h *StudentHandler) CreateBooking(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return unauthorized(c)
    }
    var req createBookingReq
    if err := bindValid(c, &req); err != nil {
        return err
    }
    start, err := pricing.ParseDate(req.StartDate)
    if err != nil {
        return respondError(c, err)
    }
    end, err := pricing.ParseDate(req.EndDate)
    if err != nil {
        return respondError(c, err)
    }
    b, q, err := h.Booking.Create(c.Request().Context(), service.CreateBookingRequest{
        UserID:     uid,
        HallID:     req.StudyHallID,
        SeatID:     req.SeatID,
        Start:      start,
        End:        end,
        CouponCode: req.CouponCode,
        Points:     req.Points,
    })
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusCreated, echo.Map{"booking": b, "quote": q})
}

// ListBookings returns the caller's bookings, newest first.
func (h *StudentHandler) ListBookings(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return unauthorized(c)
    }
    items, err := h.Bookings.List(c.Request().Context(), repository.BookingFilter{
        UserID: uid,
        Status: strings.ToUpper(strings.TrimSpace(c.QueryParam("status"))),
        Page:   queryPage(c, 20, 100),
    })
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// GetBooking returns one of the caller's bookings with its payment attempts.
func (h *StudentHandler) GetBooking(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    ctx := c.Request().Context()
    d, err := h.Bookings.GetDetail(ctx, id)
    if err != nil {
        return respondError(c, err)
    }
    if d.UserID != uid {
        return respondError(c, repository.ErrNotFound)
    }
    txns, err := h.Transactions.ListByBooking(ctx, id)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"booking": d, "transactions": txns})
}

type cancelReq struct {
    Reason string `json:"reason" validate:"max=255"`
}

// CancelBooking cancels the caller's booking while that is still allowed.
func (h *StudentHandler) CancelBooking(c echo.Context) error {
    actor, err := actorOf(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    var req cancelReq
    if c.Request().ContentLength != 0 {
        if err := bindValid(c, &req); err != nil {
            return err
        }
    }
    d, err := h.Booking.Cancel(c.Request().Context(), actor, id, strings.TrimSpace(req.Reason))
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, d)
}

type reviewReq struct {
    Rating  int    `json:"rating" validate:"required,min=1,max=5"`
    Comment string `json:"comment" validate:"max=2000"`
}

// CreateReview rates the hall of a booking once the stay has begun.  A
// booking can be reviewed only once.
func (h *StudentHandler) CreateReview(c echo.Context) error {
    uid, err := getUserID(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    var req reviewReq
    if err := bindValid(c, &req); err != nil {
        return err
    }
    ctx := c.Request().Context()
    b, err := h.Bookings.GetByID(ctx, id)
    if err != nil {
        return respondError(c, err)
    }
    if b.UserID != uid {
        return respondError(c, repository.ErrNotFound)
    }
    if b.Status != model.BookingConfirmed && b.Status != model.BookingCompleted {
        return c.JSON(http.StatusConflict, echo.Map{"error": "not_reviewable", "message": "only confirmed or completed bookings can be reviewed"})
    }
    if pricing.DateOf(h.now().UTC()).Before(b.StartDate) {
        return c.JSON(http.StatusConflict, echo.Map{"error": "not_reviewable", "message": "the stay has not started yet"})
    }
    rv := model.Review{
        BookingID:   b.ID,
        UserID:      uid,
        StudyHallID: b.StudyHallID,
        Rating:      req.Rating,
        Comment:     strings.TrimSpace(req.Comment),
    }
    if err := h.Reviews.Create(ctx, &rv); err != nil {
        return respondError(c, err)
    }
    rv.CreatedAt = h.now().UTC()
    return c.JSON(http.StatusCreated, rv)
}
