package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// Coupon discount kinds.
const (
    DiscountPercent = "PERCENT"
    DiscountFlat    = "FLAT"
)

// Coupon is an admin-issued discount code.  Zero limits mean unlimited;
// a nil StudyHallID makes the coupon valid platform-wide.
type Coupon struct {
    ID            uint64          `json:"id"`
    Code          string          `json:"code"`
    Description   string          `json:"description"`
    DiscountType  string          `json:"discount_type"`
    DiscountValue decimal.Decimal `json:"discount_value"`
    MaxDiscount   decimal.Decimal `json:"max_discount"`
    MinAmount     decimal.Decimal `json:"min_amount"`
    StudyHallID   *uint64         `json:"study_hall_id,omitempty"`
    ValidFrom     time.Time       `json:"valid_from"`
    ValidUntil    time.Time       `json:"valid_until"`
    UsageLimit    int             `json:"usage_limit"`
    PerUserLimit  int             `json:"per_user_limit"`
    UsedCount     int             `json:"used_count"`
    IsActive      bool            `json:"is_active"`
    CreatedBy     uint64          `json:"created_by"`
    CreatedAt     time.Time       `json:"created_at"`
}
