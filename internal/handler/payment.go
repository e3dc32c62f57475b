package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/payment"
	"github.com/iliyamo/studyhall-marketplace/internal/service"
)

const maxWebhookBody = 1 << 20

// PaymentHandler exposes the three payment rails and the staff
// confirmation of offline payments.
type PaymentHandler struct {
	Payments *service.PaymentService
}

func NewPaymentHandler(p *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{Payments: p}
}

type startPaymentResp struct {
	TransactionID uint64 `json:"transaction_id"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	payment.Order
}

// Start returns the handler for POST /v1/bookings/:id/payments/{rail}.
func (h *PaymentHandler) Start(method string) echo.HandlerFunc {
	return func(c echo.Context) error {
		uid, err := getUserID(c)
		if err != nil {
			return unauthorized(c)
		}
		id, ok := pathID(c, "id")
		if !ok {
			return badRequest(c, "invalid id")
		}
		st, err := h.Payments.StartPayment(c.Request().Context(), uid, id, method)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, startPaymentResp{
			TransactionID: st.Transaction.ID,
			Method:        st.Transaction.Method,
			Status:        st.Transaction.Status,
			Order:         st.Order,
		})
	}
}

type verifyReq struct {
	OrderID   string `json:"order_id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Signature string `json:"signature" validate:"required,hexadecimal"`
}

// VerifyRazorpay handles the checkout callback posted by the browser.
func (h *PaymentHandler) VerifyRazorpay(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req verifyReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	t, err := h.Payments.VerifyRazorpay(c.Request().Context(), uid, req.OrderID, req.PaymentID, strings.ToLower(req.Signature))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// RazorpayWebhook applies a server-to-server gateway notification.  Events
// we do not act on are acknowledged so the gateway stops retrying.
func (h *PaymentHandler) RazorpayWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return badRequest(c, "unreadable body")
	}
	sig := c.Request().Header.Get("X-Razorpay-Signature")
	if sig == "" {
		return respondError(c, payment.ErrInvalidSignature)
	}
	if err := h.Payments.HandleRazorpayWebhook(c.Request().Context(), body, sig); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// Status returns a payment attempt of the caller.  A pending UPI-QR
// attempt is checked with the provider once first.
func (h *PaymentHandler) Status(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	t, err := h.Payments.RefreshStatus(c.Request().Context(), uid, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// ConfirmOffline marks cash or a bank transfer as received.
func (h *PaymentHandler) ConfirmOffline(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	t, err := h.Payments.ConfirmOffline(c.Request().Context(), actor, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

type rejectReq struct {
	Reason string `json:"reason" validate:"max=255"`
}

// RejectOffline closes an offline attempt the staff could not verify.
func (h *PaymentHandler) RejectOffline(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid id")
	}
	var req rejectReq
	if c.Request().ContentLength != 0 {
		if err := bindValid(c, &req); err != nil {
			return err
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = model.ReasonRejected
	}
	t, err := h.Payments.RejectOffline(c.Request().Context(), actor, id, reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}
