package handler // handler package contains the merchant hall and seat configurator handlers

import (
    "errors"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/shopspring/decimal"

    "github.com/iliyamo/studyhall-marketplace/internal/model"
    "github.com/iliyamo/studyhall-marketplace/internal/repository"
    "github.com/iliyamo/studyhall-marketplace/internal/service"
)

const maxSeatsPerHall = 2000 // generator refuses layouts larger than this

// MerchantHandler bundles what hall owners (merchants and institutions) use.
type MerchantHandler struct {
    Halls       *repository.StudyHallRepo
    Seats       *repository.SeatRepo
    Bookings    *repository.BookingRepo
    AnalyticsRepo *repository.AnalyticsRepo
    Incharges   *repository.InchargeRepo
    Settlements *repository.SettlementRepo
    Invites     *service.InchargeService
    now         func() time.Time
}

// NewMerchantHandler panics when a dependency is missing.
func NewMerchantHandler(repos service.Repos, invites *service.InchargeService) *MerchantHandler {
    if repos.Halls == nil || repos.Seats == nil || repos.Bookings == nil || invites == nil {
        panic("nil dependency passed to NewMerchantHandler")
    }
    return &MerchantHandler{
        Halls:       repos.Halls,
        Seats:       repos.Seats,
        Bookings:    repos.Bookings,
        AnalyticsRepo: repos.Analytics,
        Incharges:   repos.Incharges,
        Settlements: repos.Settlements,
        Invites:     invites,
        now:         time.Now,
    }
}

type hallReq struct {
    Name         string          `json:"name" validate:"required,max=150"`
    Description  string          `json:"description" validate:"max=5000"`
    Address      string          `json:"address" validate:"required,max=255"`
    City         string          `json:"city" validate:"required,max=80"`
    Amenities    []string        `json:"amenities" validate:"max=30,dive,max=40"`
    DailyPrice   decimal.Decimal `json:"daily_price"`
    WeeklyPrice  decimal.Decimal `json:"weekly_price"`
    MonthlyPrice decimal.Decimal `json:"monthly_price"`
    OpeningTime  string          `json:"opening_time" validate:"required,datetime=15:04"`
    ClosingTime  string          `json:"closing_time" validate:"required,datetime=15:04"`
}

// checkPrices enforces a positive daily price; weekly and monthly may be 0 (tier not offered).
func (r hallReq) checkPrices() string {
    switch {
    case !r.DailyPrice.IsPositive():
        return "daily_price must be greater than zero"
    case r.WeeklyPrice.IsNegative() || r.MonthlyPrice.IsNegative():
        return "weekly_price and monthly_price must not be negative"
    case r.DailyPrice.Exponent() < -2 || r.WeeklyPrice.Exponent() < -2 || r.MonthlyPrice.Exponent() < -2:
        return "prices have at most two decimal places"
    }
    return ""
}

func (r hallReq) apply(h *model.StudyHall) {
    amenities := make([]string, 0, len(r.Amenities))
    for _, a := range r.Amenities {
        if a = strings.TrimSpace(strings.ReplaceAll(a, ",", " ")); a != "" { // commas separate the stored list
            amenities = append(amenities, a)
        }
    }
    h.Name = strings.TrimSpace(r.Name)
    h.Description = strings.TrimSpace(r.Description)
    h.Address = strings.TrimSpace(r.Address)
    h.City = strings.TrimSpace(r.City)
    h.Amenities = strings.Join(amenities, ",")
    h.DailyPrice, h.WeeklyPrice, h.MonthlyPrice = r.DailyPrice, r.WeeklyPrice, r.MonthlyPrice
    h.OpeningTime, h.ClosingTime = r.OpeningTime, r.ClosingTime
}

// CreateHall handles POST /v1/merchant/halls.  New halls wait for admin approval.
func (h *MerchantHandler) CreateHall(c echo.Context) error {
    ownerID, err := getUserID(c)
    if err != nil {
        return unauthorized(c)
    }
    var req hallReq
    if err := bindValid(c, &req); err != nil {
        return err
    }
    if msg := req.checkPrices(); msg != "" {
        return badRequest(c, msg)
    }
    hall := model.StudyHall{OwnerID: ownerID}
    req.apply(&hall)
    if err := h.Halls.Create(c.Request().Context(), &hall); err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusCreated, hall)
}

// ListHalls returns every hall of the caller regardless of status.
func (h *MerchantHandler) ListHalls(c echo.Context) error {
    ownerID, err := getUserID(c)
    if err != nil {
        return unauthorized(c)
    }
    halls, err := h.Halls.ListByOwner(c.Request().Context(), ownerID)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"items": halls})
}

// GetHall returns one of the caller's halls.
func (h *MerchantHandler) GetHall(c echo.Context) error {
    ownerID, err := getUserID(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    hall, err := h.Halls.GetByIDAndOwner(c.Request().Context(), id, ownerID)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, hall)
}

// UpdateHall handles PUT /v1/merchant/halls/:id.  Edits send the hall back to approval.
func (h *MerchantHandler) UpdateHall(c echo.Context) error {
    ownerID, err := getUserID(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    var req hallReq
    if err := bindValid(c, &req); err != nil {
        return err
    }
    if msg := req.checkPrices(); msg != "" {
        return badRequest(c, msg)
    }
    hall := model.StudyHall{ID: id, OwnerID: ownerID}
    req.apply(&hall)
    if err := h.Halls.UpdateByOwner(c.Request().Context(), &hall); err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, hall)
}

// DeleteHall handles DELETE /v1/merchant/halls/:id.  Halls with upcoming
// confirmed bookings are refused.
func (h *MerchantHandler) DeleteHall(c echo.Context) error {
    ownerID, err := getUserID(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    today := h.now().UTC().Truncate(24 * time.Hour)
    if err := h.Halls.DeleteByOwner(c.Request().Context(), id, ownerID, today); err != nil {
        if errors.Is(err, repository.ErrConflict) {
            return c.JSON(http.StatusConflict, echo.Map{"error": "hall_has_bookings", "message": "hall has upcoming confirmed bookings"})
        }
        if errors.Is(err, repository.ErrForbidden) { // do not reveal other owners' halls
            return respondError(c, repository.ErrNotFound)
        }
        return respondError(c, err)
    }
    return c.NoContent(http.StatusNoContent)
}

type generateSeatsReq struct {
    Rows int `json:"rows" validate:"required,min=1,max=100"`
    Cols int `json:"cols" validate:"required,min=1,max=100"`
}

// GenerateSeats handles POST /v1/merchant/halls/:id/seats/generate.  It
// lays out rows x cols seats labelled A1, A2, ... B1 ...; labels that
// already exist are skipped so the generator can grow a layout.
func (h *MerchantHandler) GenerateSeats(c echo.Context) error {
    ownerID, err := getUserID(c)
    if err != nil {
        return unauthorized(c)
    }
    hallID, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    var req generateSeatsReq
    if err := bindValid(c, &req); err != nil {
        return err
    }
    if req.Rows*req.Cols > maxSeatsPerHall {
        return badRequest(c, "layout exceeds "+strconv.Itoa(maxSeatsPerHall)+" seats")
    }
    ctx := c.Request().Context()
    if _, err := h.Halls.GetByIDAndOwner(ctx, hallID, ownerID); err != nil { // verify hall ownership
        return respondError(c, err)
    }
    seats := make([]model.Seat, 0, req.Rows*req.Cols)
    for r := 0; r < req.Rows; r++ {
        row := indexToRowLabel(r)
        for col := 1; col <= req.Cols; col++ {
            seats = append(seats, model.Seat{
                StudyHallID: hallID,
                Label:       row + strconv.Itoa(col),
                RowLabel:    row,
                ColNumber:   uint32(col),
                IsActive:    true,
            })
        }
    }
    created, err := h.Seats.CreateBulk(ctx, seats)
    if err != nil {
        return respondError(c, err)
    }
    all, err := h.Seats.ListByHall(ctx, hallID, false)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusCreated, echo.Map{
        "study_hall_id": hallID,
        "created":       created,
        "skipped":       int64(len(seats)) - created,
        "rows":          groupByRow(all),
    })
}

// ListSeats returns the full layout including deactivated seats.
func (h *MerchantHandler) ListSeats(c echo.Context) error {
    ownerID, err := getUserID(c)
    if err != nil {
        return unauthorized(c)
    }
    hallID, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    ctx := c.Request().Context()
    if _, err := h.Halls.GetByIDAndOwner(ctx, hallID, ownerID); err != nil {
        return respondError(c, err)
    }
    seats, err := h.Seats.ListByHall(ctx, hallID, false)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"study_hall_id": hallID, "count": len(seats), "rows": groupByRow(seats)})
}

type seatPatchReq struct {
    IsActive *bool `json:"is_active" validate:"required"`
}

// UpdateSeat handles PATCH /v1/merchant/seats/:id.  Deactivated seats
// disappear from availability; existing bookings stay valid.
func (h *MerchantHandler) UpdateSeat(c echo.Context) error {
    ownerID, err := getUserID(c)
    if err != nil {
        return unauthorized(c)
    }
    id, ok := pathID(c, "id")
    if !ok {
        return badRequest(c, "invalid id")
    }
    var req seatPatchReq
    if err := bindValid(c, &req); err != nil {
        return err
    }
    seat, err := h.Seats.SetActiveByOwner(c.Request().Context(), id, ownerID, *req.IsActive)
    if err != nil {
        return respondError(c, err)
    }
    return c.JSON(http.StatusOK, seat)
}
