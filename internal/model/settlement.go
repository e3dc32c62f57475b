package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// Settlement states.
const (
    SettlementPending = "PENDING"
    SettlementPaid    = "PAID"
)

// Settlement is the payable computed for a merchant over a period: the
// online collections minus the platform commission.
type Settlement struct {
    ID               uint64          `json:"id"`
    MerchantID       uint64          `json:"merchant_id"`
    PeriodStart      time.Time       `json:"period_start"`
    PeriodEnd        time.Time       `json:"period_end"`
    GrossAmount      decimal.Decimal `json:"gross_amount"`
    CommissionAmount decimal.Decimal `json:"commission_amount"`
    NetAmount        decimal.Decimal `json:"net_amount"`
    TransactionCount int             `json:"transaction_count"`
    Status           string          `json:"status"`
    PayoutReference  string          `json:"payout_reference,omitempty"`
    CreatedBy        uint64          `json:"created_by"`
    PaidAt           *time.Time      `json:"paid_at,omitempty"`
    CreatedAt        time.Time       `json:"created_at"`
}
