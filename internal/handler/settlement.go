package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/pricing"
	"github.com/iliyamo/studyhall-marketplace/internal/repository"
	"github.com/iliyamo/studyhall-marketplace/internal/service"
)

// SettlementHandler serves the finance team's merchant payouts.
type SettlementHandler struct {
	Settlements *service.SettlementService
	Repo        *repository.SettlementRepo
}

func NewSettlementHandler(repos service.Repos, s *service.SettlementService) *SettlementHandler {
	return &SettlementHandler{Settlements: s, Repo: repos.Settlements}
}

type createSettlementReq struct {
	MerchantID  uint64 `json:"merchant_id" validate:"required,gt=0"`
	PeriodStart string `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd   string `json:"period_end" validate:"required,datetime=2006-01-02"`
}

// Create computes a settlement over [period_start, period_end).
func (h *SettlementHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req createSettlementReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	start, err := pricing.ParseDate(req.PeriodStart)
	if err != nil {
		return respondError(c, err)
	}
	end, err := pricing.ParseDate(req.PeriodEnd)
	if err != nil {
		return respondError(c, err)
	}
	st, err := h.Settlements.Create(c.Request().Context(), uid, req.MerchantID, start, end)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, st)
}

// List handles GET /v1/settlements?merchant_id=&status=.
func (h *SettlementHandler) List(c echo.Context) error {
	merchantID, ok := queryUint(c, "merchant_id")
	if !ok {
		return badRequest(c, "invalid merchant_id")
	}
	status := strings.ToUpper(strings.TrimSpace(c.QueryParam("status")))
	if status != "" && status != model.SettlementPending && status != model.SettlementPaid {
		return badRequest(c, "invalid status")
	}
	items, err := h.Repo.List(c.Request().Context(), merchantID, status)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Get returns one settlement.
func (h *SettlementHandler) Get(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	st, err := h.Repo.GetByID(c.Request().Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

type payReq struct {
	PayoutReference string `json:"payout_reference" validate:"required,max=100"`
}

// MarkPaid records the bank transfer of a pending settlement.
func (h *SettlementHandler) MarkPaid(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req payReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	st, err := h.Settlements.MarkPaid(c.Request().Context(), id, strings.TrimSpace(req.PayoutReference))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}
