package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyhall-marketplace/internal/repository"
	"github.com/iliyamo/studyhall-marketplace/internal/service"
)

// AccountHandler serves the per-user reward ledger and notification center.
type AccountHandler struct {
	RewardRepo       *repository.RewardRepo
	NotificationRepo *repository.NotificationRepo
}

func NewAccountHandler(repos service.Repos) *AccountHandler {
	return &AccountHandler{RewardRepo: repos.Rewards, NotificationRepo: repos.Notifications}
}

// Rewards returns the point balance and the most recent ledger rows.
func (h *AccountHandler) Rewards(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx := c.Request().Context()
	balance, err := h.RewardRepo.Balance(ctx, uid)
	if err != nil {
		return respondError(c, err)
	}
	entries, err := h.RewardRepo.ListByUser(ctx, uid, queryPage(c, 50, 200))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"balance": balance, "items": entries})
}

// Notifications lists the caller's notifications with the unread count.
func (h *AccountHandler) Notifications(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	items, unread, err := h.NotificationRepo.ListByUser(c.Request().Context(), uid, queryPage(c, 20, 100))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "unread": unread})
}

// MarkRead marks one notification read.
func (h *AccountHandler) MarkRead(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	if err := h.NotificationRepo.MarkRead(c.Request().Context(), uid, id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MarkAllRead marks every notification of the caller read.
func (h *AccountHandler) MarkAllRead(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	n, err := h.NotificationRepo.MarkAllRead(c.Request().Context(), uid)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"updated": n})
}
