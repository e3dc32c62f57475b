package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// Payment rails.
const (
    MethodRazorpay = "RAZORPAY"
    MethodEKQR     = "EKQR"
    MethodOffline  = "OFFLINE"
)

// Transaction states.  SUCCESS, FAILED and TIMEOUT are terminal.
const (
    TxnPending = "PENDING"
    TxnSuccess = "SUCCESS"
    TxnFailed  = "FAILED"
    TxnTimeout = "TIMEOUT"
)

// Failure reasons recorded by the system itself.  Provider supplied
// reasons are stored as mapped by payment.FriendlyReason.
const (
    ReasonTimeout              = "timeout"
    ReasonBookingExpired       = "booking_expired"
    ReasonBookingCancelled     = "booking_cancelled"
    ReasonAmountMismatch       = "amount_mismatch"
    ReasonRejected             = "rejected_by_staff"
    ReasonSeatTakenAfterExpiry = "seat_taken_after_expiry"
    ReasonPaidAfterCancel      = "paid_after_cancellation"
    ReasonDuplicatePayment     = "duplicate_payment"
)

// IsValidMethod reports whether m names a supported payment rail.
func IsValidMethod(m string) bool {
    return m == MethodRazorpay || m == MethodEKQR || m == MethodOffline
}

// Transaction is one payment attempt against a booking.  A booking may
// accumulate several (e.g. a failed gateway attempt followed by UPI).
type Transaction struct {
    ID                uint64          `json:"id"`
    BookingID         uint64          `json:"booking_id"`
    UserID            uint64          `json:"user_id"`
    Method            string          `json:"method"`
    ProviderOrderID   string          `json:"provider_order_id,omitempty"`
    ProviderPaymentID string          `json:"provider_payment_id,omitempty"`
    Amount            decimal.Decimal `json:"amount"`
    Currency          string          `json:"currency"`
    Status            string          `json:"status"`
    FailureReason     string          `json:"failure_reason,omitempty"`
    PollAttempts      int             `json:"poll_attempts"`
    LastPolledAt      *time.Time      `json:"last_polled_at,omitempty"`
    ConfirmedBy       *uint64         `json:"confirmed_by,omitempty"`
    SettlementID      *uint64         `json:"settlement_id,omitempty"`
    RefundReason      string          `json:"refund_reason,omitempty"` // set when captured money must be returned
    CreatedAt         time.Time       `json:"created_at"`
    UpdatedAt         time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the attempt has reached a final state.
func (t Transaction) IsTerminal() bool { return t.Status != TxnPending }

// AcceptsLateCapture reports whether a provider success may still be
// applied to a closed attempt.  Attempts closed by the system because the
// booking went away can still be charged by the gateway afterwards; the
// money must then be recorded so it can be refunded.
func (t Transaction) AcceptsLateCapture() bool {
    if t.Status == TxnPending {
        return true
    }
    return (t.Status == TxnTimeout || t.Status == TxnFailed) &&
        (t.FailureReason == ReasonBookingExpired || t.FailureReason == ReasonBookingCancelled)
}

// AcceptsRetriedCapture reports whether a success for orderID may land on
// a failed gateway attempt.  Razorpay keeps an order open after a failed
// payment and the checkout retries on the same order, so a capture can
// follow a failure.
func (t Transaction) AcceptsRetriedCapture(orderID string) bool {
    return t.Method == MethodRazorpay && t.Status == TxnFailed &&
        t.ProviderOrderID != "" && t.ProviderOrderID == orderID
}
