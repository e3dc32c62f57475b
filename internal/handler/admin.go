package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/pricing"
	"github.com/iliyamo/studyhall-marketplace/internal/repository"
	"github.com/iliyamo/studyhall-marketplace/internal/service"
)

// AdminHandler serves platform administration: accounts, hall approval,
// coupons, review moderation and the dashboard.
type AdminHandler struct {
	Users      *repository.UserRepo
	Halls      *repository.StudyHallRepo
	Coupons    *repository.CouponRepo
	Reviews    *repository.ReviewRepo
	Analytics  *repository.AnalyticsRepo
	Changes    service.ChangeNotifier
	BcryptCost int
}

func NewAdminHandler(repos service.Repos, changes service.ChangeNotifier, bcryptCost int) *AdminHandler {
	return &AdminHandler{
		Users:      repos.Users,
		Halls:      repos.Halls,
		Coupons:    repos.Coupons,
		Reviews:    repos.Reviews,
		Analytics:  repos.Analytics,
		Changes:    changes,
		BcryptCost: bcryptCost,
	}
}

// ListUsers handles GET /v1/admin/users?role=.
func (h *AdminHandler) ListUsers(c echo.Context) error {
	role := strings.ToUpper(strings.TrimSpace(c.QueryParam("role")))
	if role != "" && !model.IsValidRole(role) {
		return badRequest(c, "unknown role")
	}
	users, err := h.Users.List(c.Request().Context(), role, queryPage(c, 50, 200))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": users})
}

type createUserReq struct {
	Email    string `json:"email" validate:"required,email,max=190"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"full_name" validate:"required,max=120"`
	Phone    string `json:"phone" validate:"omitempty,min=7,max=20"`
	Role     string `json:"role" validate:"required,oneof=ADMIN MERCHANT INSTITUTION INCHARGE STUDENT TELEMARKETING SETTLEMENT CUSTOMER_CARE"`
}

// CreateUser creates an account of any role.
func (h *AdminHandler) CreateUser(c echo.Context) error {
	var req createUserReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	u := model.User{
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:    strings.TrimSpace(req.Phone),
		FullName: strings.TrimSpace(req.FullName),
		Role:     req.Role,
		IsActive: true,
	}
	if err := h.Users.Create(c.Request().Context(), &u, req.Password, h.BcryptCost); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, u)
}

type activeReq struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// SetUserActive enables or disables an account.  Admins cannot disable
// themselves.
func (h *AdminHandler) SetUserActive(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req activeReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	if uid, _ := getUserID(c); uid == id && !*req.IsActive {
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflict", "message": "cannot deactivate your own account"})
	}
	ctx := c.Request().Context()
	if err := h.Users.SetActive(ctx, id, *req.IsActive); err != nil {
		return respondError(c, err)
	}
	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// ListHalls handles GET /v1/admin/halls?status=, defaulting to the approval queue.
func (h *AdminHandler) ListHalls(c echo.Context) error {
	status := strings.ToUpper(strings.TrimSpace(c.QueryParam("status")))
	if status == "" {
		status = model.HallPendingApproval
	}
	switch status {
	case model.HallPendingApproval, model.HallApproved, model.HallRejected, model.HallInactive:
	default:
		return badRequest(c, "invalid status")
	}
	halls, err := h.Halls.ListByStatus(c.Request().Context(), status, queryPage(c, 50, 200))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": halls})
}

// SetHallStatus returns the handler for approve and reject.
func (h *AdminHandler) SetHallStatus(status string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := pathID(c, "id")
		if !ok {
			return badRequest(c, "invalid id")
		}
		ctx := c.Request().Context()
		if err := h.Halls.SetStatus(ctx, id, status); err != nil {
			return respondError(c, err)
		}
		hall, err := h.Halls.GetByID(ctx, id)
		if err != nil {
			return respondError(c, err)
		}
		if h.Changes != nil {
			h.Changes.Publish(ctx, "study_hall", hall.ID, strings.ToLower(status), hallTopics(hall)...)
		}
		return c.JSON(http.StatusOK, hall)
	}
}

type couponReq struct {
	Code          string          `json:"code" validate:"required,alphanum,min=3,max=40"`
	Description   string          `json:"description" validate:"max=255"`
	DiscountType  string          `json:"discount_type" validate:"required,oneof=PERCENT FLAT"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	MaxDiscount   decimal.Decimal `json:"max_discount"`
	MinAmount     decimal.Decimal `json:"min_amount"`
	StudyHallID   *uint64         `json:"study_hall_id" validate:"omitempty,gt=0"`
	ValidFrom     string          `json:"valid_from" validate:"required,datetime=2006-01-02"`
	ValidUntil    string          `json:"valid_until" validate:"required,datetime=2006-01-02"`
	UsageLimit    int             `json:"usage_limit" validate:"gte=0"`
	PerUserLimit  int             `json:"per_user_limit" validate:"gte=0"`
}

var hundred = decimal.NewFromInt(100)

// CreateCoupon issues a discount code.  The validity window covers whole
// days: valid_until is inclusive.
func (h *AdminHandler) CreateCoupon(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req couponReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	switch {
	case !req.DiscountValue.IsPositive():
		return badRequest(c, "discount_value must be greater than zero")
	case req.DiscountType == model.DiscountPercent && req.DiscountValue.GreaterThan(hundred):
		return badRequest(c, "percent discount cannot exceed 100")
	case req.MaxDiscount.IsNegative() || req.MinAmount.IsNegative():
		return badRequest(c, "max_discount and min_amount must not be negative")
	}
	from, err := pricing.ParseDate(req.ValidFrom)
	if err != nil {
		return respondError(c, err)
	}
	until, err := pricing.ParseDate(req.ValidUntil)
	if err != nil {
		return respondError(c, err)
	}
	if until.Before(from) {
		return respondError(c, pricing.ErrInvalidRange)
	}
	ctx := c.Request().Context()
	if req.StudyHallID != nil {
		if _, err := h.Halls.GetByID(ctx, *req.StudyHallID); err != nil {
			return respondError(c, err)
		}
	}
	cp := model.Coupon{
		Code:          req.Code,
		Description:   strings.TrimSpace(req.Description),
		DiscountType:  req.DiscountType,
		DiscountValue: req.DiscountValue,
		MaxDiscount:   req.MaxDiscount,
		MinAmount:     req.MinAmount,
		StudyHallID:   req.StudyHallID,
		ValidFrom:     from,
		ValidUntil:    until.Add(24*time.Hour - time.Second),
		UsageLimit:    req.UsageLimit,
		PerUserLimit:  req.PerUserLimit,
		IsActive:      true,
		CreatedBy:     uid,
	}
	if err := h.Coupons.Create(ctx, &cp); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, cp)
}

// ListCoupons returns all coupons, newest first.
func (h *AdminHandler) ListCoupons(c echo.Context) error {
	items, err := h.Coupons.List(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// SetCouponActive enables or disables a coupon.
func (h *AdminHandler) SetCouponActive(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req activeReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	cp, err := h.Coupons.SetActive(c.Request().Context(), id, *req.IsActive)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, cp)
}

// HideReview removes a review from public listings.
func (h *AdminHandler) HideReview(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	if err := h.Reviews.Hide(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Stats returns the dashboard headline numbers.
func (h *AdminHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	users, err := h.Users.CountByRole(ctx)
	if err != nil {
		return respondError(c, err)
	}
	totals, err := h.Analytics.Totals(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"users_by_role":      users,
		"halls_by_status":    totals.HallsByStatus,
		"bookings_by_status": totals.BookingsByStatus,
		"revenue":            totals.Revenue,
		"offline_revenue":    totals.OfflineRevenue,
	})
}
