// Package queue defines the domain events exchanged over RabbitMQ, the
// publisher used by the service layer and the notification consumer.
package queue

import "time"

// Exchange is the durable topic exchange all domain events go through.
const Exchange = "studyhall.events"

// Routing keys.
const (
    RKBookingConfirmed = "booking.confirmed"
    RKBookingCancelled = "booking.cancelled"
    RKBookingExpired   = "booking.expired"
    RKPaymentFailed    = "payment.failed"
)

// BookingEvent is published when a booking changes state.  It carries
// enough display data for consumers to notify the student and the hall
// owner without querying the primary database.
type BookingEvent struct {
    BookingID   uint64    `json:"booking_id"`
    Reference   string    `json:"reference"`
    UserID      uint64    `json:"user_id"`
    OwnerID     uint64    `json:"owner_id"`
    StudyHallID uint64    `json:"study_hall_id"`
    HallName    string    `json:"hall_name"`
    SeatLabel   string    `json:"seat_label"`
    StartDate   string    `json:"start_date"`
    EndDate     string    `json:"end_date"`
    Amount      string    `json:"amount"`
    Method      string    `json:"method,omitempty"`
    Reason      string    `json:"reason,omitempty"`
    Refund      bool      `json:"refund,omitempty"`
    OccurredAt  time.Time `json:"occurred_at"`
}

// PaymentFailedEvent is published when a payment attempt ends without
// money being captured.
type PaymentFailedEvent struct {
    BookingID     uint64    `json:"booking_id"`
    Reference     string    `json:"reference"`
    TransactionID uint64    `json:"transaction_id"`
    UserID        uint64    `json:"user_id"`
    Method        string    `json:"method"`
    Status        string    `json:"status"`
    Reason        string    `json:"reason"`
    OccurredAt    time.Time `json:"occurred_at"`
}
