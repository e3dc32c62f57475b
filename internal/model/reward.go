package model

import "time"

// Reward ledger reasons.  Points are positive for credits and negative
// for debits; the balance is the sum of a user's rows.
const (
    RewardEarned   = "EARNED"
    RewardRedeemed = "REDEEMED"
    RewardRestored = "RESTORED"
    RewardReversed = "REVERSED"
)

// RewardEntry is a row in reward_ledger.
type RewardEntry struct {
    ID        uint64    `json:"id"`
    UserID    uint64    `json:"user_id"`
    BookingID *uint64   `json:"booking_id,omitempty"`
    Points    int       `json:"points"`
    Reason    string    `json:"reason"`
    CreatedAt time.Time `json:"created_at"`
}
