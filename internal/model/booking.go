package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// Booking lifecycle states.
const (
    BookingPendingPayment = "PENDING_PAYMENT"
    BookingConfirmed      = "CONFIRMED"
    BookingCancelled      = "CANCELLED"
    BookingExpired        = "EXPIRED"
    BookingCompleted      = "COMPLETED"
)

// Payment states tracked on the booking itself.  The per-attempt detail
// lives on transactions.
const (
    PaymentUnpaid   = "UNPAID"
    PaymentPending  = "PENDING"
    PaymentPaid     = "PAID"
    PaymentFailed   = "FAILED"
    PaymentRefunded = "REFUNDED"
)

// Booking records a student's reservation of one seat for an inclusive
// date range.  Amount fields capture the quote at creation time so later
// price edits by the merchant never change what the student owes.
type Booking struct {
    ID             uint64          `json:"id"`              // bookings.id
    Reference      string          `json:"reference"`       // bookings.reference
    UserID         uint64          `json:"user_id"`         // bookings.user_id
    StudyHallID    uint64          `json:"study_hall_id"`   // bookings.study_hall_id
    SeatID         uint64          `json:"seat_id"`         // bookings.seat_id
    StartDate      time.Time       `json:"start_date"`      // bookings.start_date
    EndDate        time.Time       `json:"end_date"`        // bookings.end_date
    Days           int             `json:"days"`            // bookings.days
    BaseAmount     decimal.Decimal `json:"base_amount"`     // before discounts
    CouponID       *uint64         `json:"coupon_id,omitempty"`
    CouponDiscount decimal.Decimal `json:"coupon_discount"`
    PointsRedeemed int             `json:"points_redeemed"`
    PointsDiscount decimal.Decimal `json:"points_discount"`
    FinalAmount    decimal.Decimal `json:"final_amount"`
    Status         string          `json:"status"`
    PaymentStatus  string          `json:"payment_status"`
    PaymentMethod  string          `json:"payment_method,omitempty"`
    ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
    CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
    CancelReason   string          `json:"cancel_reason,omitempty"`
    CreatedAt      time.Time       `json:"created_at"`
    UpdatedAt      time.Time       `json:"updated_at"`
}

// BookingDetail joins a booking with display fields used by listings.
type BookingDetail struct {
    Booking
    HallName     string `json:"hall_name"`
    SeatLabel    string `json:"seat_label"`
    StudentName  string `json:"student_name,omitempty"`
    StudentEmail string `json:"student_email,omitempty"`
    StudentPhone string `json:"student_phone,omitempty"`
    OwnerID      uint64 `json:"-"`
}

// IsActive reports whether the booking still occupies its seat at now.
func (b Booking) IsActive(now time.Time) bool {
    switch b.Status {
    case BookingConfirmed:
        return true
    case BookingPendingPayment:
        return b.ExpiresAt != nil && b.ExpiresAt.After(now)
    }
    return false
}
