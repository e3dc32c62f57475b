package pricing

import (
	"time"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/shopspring/decimal"
)

// QuoteInput gathers everything needed to price one booking.
type QuoteInput struct {
	HallID          uint64
	Tiers           Tiers
	Start           time.Time
	End             time.Time
	Now             time.Time
	Coupon          *model.Coupon // nil when no code was supplied
	CouponUserUses  int
	PointsRequested int
	PointsBalance   int
}

// Quote is the priced result.  Final = Base - CouponDiscount - PointsDiscount.
type Quote struct {
	StartDate      string          `json:"start_date"`
	EndDate        string          `json:"end_date"`
	Days           int             `json:"days"`
	Breakdown      Breakdown       `json:"breakdown"`
	Base           decimal.Decimal `json:"base_amount"`
	CouponCode     string          `json:"coupon_code,omitempty"`
	CouponID       *uint64         `json:"-"`
	CouponDiscount decimal.Decimal `json:"coupon_discount"`
	PointsRedeemed int             `json:"points_redeemed"`
	PointsDiscount decimal.Decimal `json:"points_discount"`
	Final          decimal.Decimal `json:"final_amount"`
	PointsToEarn   int             `json:"points_to_earn"`
}

// Price validates the range and produces a quote.
func (r Rules) Price(in QuoteInput) (Quote, error) {
	days, err := r.ValidateRange(in.Start, in.End, in.Now)
	if err != nil {
		return Quote{}, err
	}
	if !in.Tiers.Daily.IsPositive() {
		return Quote{}, ErrNoDailyPrice
	}
	base, bd := BaseAmount(in.Tiers, days)
	q := Quote{
		StartDate:      DateOf(in.Start).Format(DateLayout),
		EndDate:        DateOf(in.End).Format(DateLayout),
		Days:           days,
		Breakdown:      bd,
		Base:           base,
		CouponDiscount: decimal.Zero,
		PointsDiscount: decimal.Zero,
	}
	if in.Coupon != nil {
		d, err := CouponDiscount(*in.Coupon, in.HallID, base, in.CouponUserUses, in.Now)
		if err != nil {
			return Quote{}, err
		}
		id := in.Coupon.ID
		q.CouponID = &id
		q.CouponCode = in.Coupon.Code
		q.CouponDiscount = d
	}
	afterCoupon := base.Sub(q.CouponDiscount)
	q.PointsRedeemed, q.PointsDiscount = r.RedeemablePoints(afterCoupon, in.PointsRequested, in.PointsBalance)
	q.Final = afterCoupon.Sub(q.PointsDiscount)
	if q.Final.IsNegative() {
		q.Final = decimal.Zero
	}
	q.PointsToEarn = r.EarnedPoints(q.Final)
	return q, nil
}
