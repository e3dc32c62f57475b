// Package handler exposes HTTP handlers for both authenticated and public endpoints.
// This file defines the public browsing API.  These routes let anonymous
// visitors search approved study halls, inspect seat layouts and prices and
// leave an enquiry.  Owner and moderation fields are filtered from responses.

package handler

import (
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/shopspring/decimal"

    "github.com/iliyamo/studyhall-marketplace/internal/model"
    "github.com/iliyamo/studyhall-marketplace/internal/pricing"
    "github.com/iliyamo/studyhall-marketplace/internal/repository"
    "github.com/iliyamo/studyhall-marketplace/internal/service"
)

// availabilityMaxDays bounds the range of a single availability query.
const availabilityMaxDays = 366

// PublicHandler aggregates what unauthenticated browsing needs.
type PublicHandler struct {
    Halls     *repository.StudyHallRepo
    SeatRepo  *repository.SeatRepo
    Bookings  *repository.BookingRepo
    ReviewRepo *repository.ReviewRepo
    Enquiries *repository.EnquiryRepo
    Booking   *service.BookingService
    now       func() time.Time
}

func NewPublicHandler(repos service.Repos, booking *service.BookingService) *PublicHandler {
    return &PublicHandler{
        Halls:     repos.Halls,
        SeatRepo:  repos.Seats,
        Bookings:  repos.Bookings,
        ReviewRepo: repos.Reviews,
        Enquiries: repos.Enquiries,
        Booking:   booking,
        now:       time.Now,
    }
}

// PublicHall is a study hall as shown to visitors.
type PublicHall struct {
    ID           uint64          `json:"id"`
    Name         string          `json:"name"`
    Description  string          `json:"description"`
    Address      string          `json:"address"`
    City         string          `json:"city"`
    Amenities    []string        `json:"amenities"`
    DailyPrice   decimal.Decimal `json:"daily_price"`
    WeeklyPrice  decimal.Decimal `json:"weekly_price"`
    MonthlyPrice decimal.Decimal `json:"monthly_price"`
    OpeningTime  string          `json:"opening_time"`
    ClosingTime  string          `json:"closing_time"`
    AvgRating    *float64        `json:"avg_rating"`
    ReviewCount  int             `json:"review_count"`
    SeatCount    int             `json:"seat_count"`
}

func toPublicHall(h model.StudyHall) PublicHall {
    amenities := make([]string, 0)
    for _, a := range strings.Split(h.Amenities, ",") {
        if a = strings.TrimSpace(a); a != "" {
            amenities = append(amenities, a)
        }
    }
    return PublicHall{
        ID: h.ID, Name: h.Name, Description: h.Description, Address: h.Address, City: h.City,
        Amenities: amenities, DailyPrice: h.DailyPrice, WeeklyPrice: h.WeeklyPrice, MonthlyPrice: h.MonthlyPrice,
        OpeningTime: h.OpeningTime, ClosingTime: h.ClosingTime,
        AvgRating: h.AvgRating, ReviewCount: h.ReviewCount, SeatCount: h.SeatCount,
    }
}

// SeatRow is one row of a hall's seat layout.
type SeatRow struct {
    Row   string       `json:"row"`
    Index int          `json:"index"`
    Seats []model.Seat `json:"seats"`
}

// groupByRow folds seats, already ordered by row and column, into rows.
func groupByRow(seats []model.Seat) []SeatRow {
    out := make([]SeatRow, 0)
    for _, s := range seats {
        row := s.RowLabel
        if n := len(out); n == 0 || out[n-1].Row != row {
            idx, _ := rowLabelToIndex(row)
            out = append(out, SeatRow{Row: row, Index: idx})
        }
        out[len(out)-1].Seats = append(out[len(out)-1].Seats, s)
    }
    return out
}

// ListHalls handles GET /v1/halls?city=&q=&page=&page_size=.
func (h *PublicHandler) ListHalls(c echo.Context) error {
    p := queryPage(c, 20, 100)
    halls, total, err := h.Halls.SearchApproved(c.Request().Context(), repository.HallSearch{
        City:  c.QueryParam("city"),
        Query: c.QueryParam("q"),
        Page:  p,
    })
    if err != nil {
        return respondError(c, err)
    }
    out := make([]PublicHall, 0, len(halls))
    for _, hall := range halls {
        out = append(out, toPublicHall(hall))
    }
    return c.JSON(http.StatusOK, echo.Map{
        "items":     out,
        "total":     total,
        "page":      p.Offset/p.Limit + 1,
        "page_size": p.Limit,
    })
}

// GetHall returns one approved hall.
func (h *PublicHandler) GetHall(c echo.Context) error {
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    hall, err := h.Halls.GetApproved(c.Request().Context(), id)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, toPublicHall(hall))
}

// Seats returns the active seat layout grouped by row.
func (h *PublicHandler) Seats(c echo.Context) error {
    ctx := c.Request().Context()
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    if _, err := h.Halls.GetApproved(ctx, id); err != nil {
        return respondError(c, err)
    }
    seats, err := h.SeatRepo.ListByHall(ctx, id, true)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "study_hall_id": id,
        "rows":          groupByRow(seats),
    })
}

// Availability handles GET /v1/halls/:id/availability?start=&end=.  Every
// active seat is returned with whether it is free on all days of the
// inclusive range.
func (h *PublicHandler) Availability(c echo.Context) error {
    ctx := c.Request().Context()
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    start, end, err := queryRange(c, "start", "end")
    if err != nil {
        return respondError(c, err)
    }
    days, err := pricing.CountDays(start, end)
    if err != nil {
        return respondError(c, err)
    }
    if days > availabilityMaxDays {
        return respondError(c, pricing.ErrRangeTooLong)
    }
    if _, err := h.Halls.GetApproved(ctx, id); err != nil {
        return respondError(c, err)
    }
    seats, err := h.SeatRepo.ListByHall(ctx, id, true)
    if err != nil {
        return respondError(c, err)
    }
    booked, err := h.Bookings.BookedSeatIDs(ctx, id, start, end, h.now().UTC())
    if err != nil {
        return respondError(c, err)
    }
    out := make([]model.SeatAvailability, 0, len(seats))
    free := 0
    for _, s := range seats {
        a := model.SeatAvailability{Seat: s, Available: !booked[s.ID]}
        if a.Available {
            free++
        }
        out = append(out, a)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "study_hall_id": id,
        "start_date":    start.Format(pricing.DateLayout),
        "end_date":      end.Format(pricing.DateLayout),
        "available":     free,
        "seats":         out,
    })
}

// Quote prices a prospective booking.  Points can only be applied by a
// signed-in student.
func (h *PublicHandler) Quote(c echo.Context) error {
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    start, end, err := queryRange(c, "start", "end")
    if err != nil {
        return respondError(c, err)
    }
    points := 0
    if raw := strings.TrimSpace(c.QueryParam("points")); raw != "" {
        if points, err = strconv.Atoi(raw); err != nil || points < 0 {
            return badRequest(c, "points must be a non-negative integer")
        }
    }
    uid, _ := getUserID(c)
    if points > 0 && uid == 0 {
        return unauthorized(c)
    }
    q, err := h.Booking.Quote(c.Request().Context(), service.QuoteRequest{
        UserID:     uid,
        HallID:     id,
        Start:      start,
        End:        end,
        CouponCode: c.QueryParam("coupon"),
        Points:     points,
    })
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, q)
}

// Reviews lists visible reviews of a hall, newest first.
func (h *PublicHandler) Reviews(c echo.Context) error {
    ctx := c.Request().Context()
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    if _, err := h.Halls.GetApproved(ctx, id); err != nil {
        return respondError(c, err)
    }
    items, err := h.ReviewRepo.ListVisibleByHall(ctx, id, queryPage(c, 20, 100))
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

type enquiryReq struct {
    Name        string  `json:"name" validate:"required,max=120"`
    Phone       string  `json:"phone" validate:"required,min=7,max=20"`
    Email       string  `json:"email" validate:"omitempty,email,max=190"`
    StudyHallID *uint64 `json:"study_hall_id" validate:"omitempty,gt=0"`
    Message     string  `json:"message" validate:"max=2000"`
}

// CreateEnquiry captures a lead for the telemarketing team.
func (h *PublicHandler) CreateEnquiry(c echo.Context) error {
    var req enquiryReq
    if err := bindValid(c, &req); err != nil {
        return err
    }
    ctx := c.Request().Context()
    if req.StudyHallID != nil {
        if _, err := h.Halls.GetApproved(ctx, *req.StudyHallID); err != nil {
            return respondError(c, err)
        }
    }
    e := model.Enquiry{
        Name:        strings.TrimSpace(req.Name),
        Phone:       strings.TrimSpace(req.Phone),
        Email:       strings.ToLower(strings.TrimSpace(req.Email)),
        StudyHallID: req.StudyHallID,
        Message:     strings.TrimSpace(req.Message),
    }
    if err := h.Enquiries.Create(ctx, &e); err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusCreated, echo.Map{"id": e.ID, "status": e.Status})
}
