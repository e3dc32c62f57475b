package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// Study hall approval states.  Only APPROVED halls are visible to the
// public browse API and bookable.
const (
    HallPendingApproval = "PENDING_APPROVAL"
    HallApproved        = "APPROVED"
    HallRejected        = "REJECTED"
    HallInactive        = "INACTIVE"
)

// StudyHall is a physical reading/co-working space with a fixed seat
// layout, owned by a merchant (or institution).  Prices are per tier;
// a zero weekly or monthly price means the tier is not offered.
type StudyHall struct {
    ID           uint64          `json:"id"`            // study_halls.id
    OwnerID      uint64          `json:"owner_id"`      // study_halls.owner_id
    Name         string          `json:"name"`          // study_halls.name
    Description  string          `json:"description"`   // study_halls.description
    Address      string          `json:"address"`       // study_halls.address
    City         string          `json:"city"`          // study_halls.city
    Amenities    string          `json:"amenities"`     // comma separated
    DailyPrice   decimal.Decimal `json:"daily_price"`   // study_halls.daily_price
    WeeklyPrice  decimal.Decimal `json:"weekly_price"`  // study_halls.weekly_price
    MonthlyPrice decimal.Decimal `json:"monthly_price"` // study_halls.monthly_price
    Status       string          `json:"status"`        // study_halls.status
    OpeningTime  string          `json:"opening_time"`  // HH:MM
    ClosingTime  string          `json:"closing_time"`  // HH:MM
    CreatedAt    time.Time       `json:"created_at"`
    UpdatedAt    time.Time       `json:"updated_at"`

    // Aggregates filled by browse queries only.
    AvgRating   *float64 `json:"avg_rating,omitempty"`
    ReviewCount int      `json:"review_count,omitempty"`
    SeatCount   int      `json:"seat_count,omitempty"`
}
