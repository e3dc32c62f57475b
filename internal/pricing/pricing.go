// Package pricing computes booking quotes: tiered daily/weekly/monthly
// pricing for an inclusive date range, followed by an optional coupon and
// loyalty point redemption.  Everything here is pure arithmetic on
// decimal.Decimal so handlers, the booking service and tests share one
// implementation.
package pricing

import (
	"strings"
	"time"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire and query format for booking dates.
const DateLayout = "2006-01-02"

const (
	daysPerMonth = 30
	daysPerWeek  = 7
)

var hundred = decimal.NewFromInt(100)

// Tiers are a hall's prices.  Weekly and Monthly are optional: a zero
// value means the tier is not offered and its days are priced by the
// smaller tiers.
type Tiers struct {
	Daily   decimal.Decimal
	Weekly  decimal.Decimal
	Monthly decimal.Decimal
}

// TiersOf extracts the price tiers from a hall.
func TiersOf(h model.StudyHall) Tiers {
	return Tiers{Daily: h.DailyPrice, Weekly: h.WeeklyPrice, Monthly: h.MonthlyPrice}
}

// Rules carries the configurable parts of the quote.
type Rules struct {
	MaxDays          int
	EarnUnit         decimal.Decimal // one point per EarnUnit paid
	PointValue       decimal.Decimal // currency value of one point
	MaxRedeemPercent decimal.Decimal // cap on points as a share of the post-coupon amount
}

// Breakdown records how many units of each tier were charged.
type Breakdown struct {
	Months int `json:"months"`
	Weeks  int `json:"weeks"`
	Days   int `json:"days"`
}

// ParseDate parses a YYYY-MM-DD string as a UTC calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CountDays returns the inclusive number of calendar days in [start, end].
func CountDays(start, end time.Time) (int, error) {
	s, e := DateOf(start), DateOf(end)
	if e.Before(s) {
		return 0, ErrInvalidRange
	}
	return int(e.Sub(s).Hours()/24) + 1, nil
}

// ValidateRange checks a requested booking range against today and the
// maximum length, returning the number of days.
func (r Rules) ValidateRange(start, end, now time.Time) (int, error) {
	days, err := CountDays(start, end)
	if err != nil {
		return 0, err
	}
	if DateOf(start).Before(DateOf(now)) {
		return 0, ErrStartInPast
	}
	if r.MaxDays > 0 && days > r.MaxDays {
		return 0, ErrRangeTooLong
	}
	return days, nil
}

// BaseAmount prices days using the largest offered tiers first.  Leftover
// days cost at most one week and leftover weeks plus days cost at most one
// month, so a longer stay never costs more than the next tier up.
func BaseAmount(t Tiers, days int) (decimal.Decimal, Breakdown) {
	var b Breakdown
	if days <= 0 {
		return decimal.Zero, b
	}
	hasWeekly := t.Weekly.IsPositive()
	hasMonthly := t.Monthly.IsPositive()

	rest := days
	if hasMonthly {
		b.Months = days / daysPerMonth
		rest = days % daysPerMonth
	}
	b.Days = rest
	if hasWeekly {
		b.Weeks = rest / daysPerWeek
		b.Days = rest % daysPerWeek
	}

	dayCost := t.Daily.Mul(decimal.NewFromInt(int64(b.Days)))
	if hasWeekly && dayCost.GreaterThan(t.Weekly) {
		dayCost = t.Weekly
	}
	restCost := t.Weekly.Mul(decimal.NewFromInt(int64(b.Weeks))).Add(dayCost)
	if hasMonthly && restCost.GreaterThan(t.Monthly) {
		restCost = t.Monthly
	}
	total := t.Monthly.Mul(decimal.NewFromInt(int64(b.Months))).Add(restCost)
	return total.Round(2), b
}

// CouponDiscount validates cp for a booking at hallID worth base and returns
// the discount.  userUses is how many times the user has already redeemed
// the coupon.
func CouponDiscount(cp model.Coupon, hallID uint64, base decimal.Decimal, userUses int, now time.Time) (decimal.Decimal, error) {
	if !cp.IsActive {
		return decimal.Zero, ErrCouponInactive
	}
	if now.Before(cp.ValidFrom) || now.After(cp.ValidUntil) {
		return decimal.Zero, ErrCouponExpired
	}
	if cp.UsageLimit > 0 && cp.UsedCount >= cp.UsageLimit {
		return decimal.Zero, ErrCouponExhausted
	}
	if cp.PerUserLimit > 0 && userUses >= cp.PerUserLimit {
		return decimal.Zero, ErrCouponExhausted
	}
	if cp.StudyHallID != nil && *cp.StudyHallID != hallID {
		return decimal.Zero, ErrCouponNotApplicable
	}
	if base.LessThan(cp.MinAmount) {
		return decimal.Zero, ErrCouponMinAmount
	}

	var discount decimal.Decimal
	switch cp.DiscountType {
	case model.DiscountPercent:
		discount = base.Mul(cp.DiscountValue).Div(hundred).Round(2)
		if cp.MaxDiscount.IsPositive() && discount.GreaterThan(cp.MaxDiscount) {
			discount = cp.MaxDiscount
		}
	case model.DiscountFlat:
		discount = cp.DiscountValue
	default:
		return decimal.Zero, ErrCouponNotApplicable
	}
	if discount.GreaterThan(base) {
		discount = base
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return discount, nil
}

// RedeemablePoints clamps requested points to the balance and to the
// percentage cap of amount, returning the points used and their value.
func (r Rules) RedeemablePoints(amount decimal.Decimal, requested, balance int) (int, decimal.Decimal) {
	if requested <= 0 || balance <= 0 || !r.PointValue.IsPositive() || !amount.IsPositive() {
		return 0, decimal.Zero
	}
	capValue := amount.Mul(r.MaxRedeemPercent).Div(hundred)
	maxPoints := int(capValue.Div(r.PointValue).Floor().IntPart())
	points := requested
	if points > balance {
		points = balance
	}
	if points > maxPoints {
		points = maxPoints
	}
	if points <= 0 {
		return 0, decimal.Zero
	}
	value := r.PointValue.Mul(decimal.NewFromInt(int64(points))).Round(2)
	if value.GreaterThan(amount) {
		value = amount
	}
	return points, value
}

// EarnedPoints returns the loyalty points earned for paying amount.
func (r Rules) EarnedPoints(amount decimal.Decimal) int {
	if !r.EarnUnit.IsPositive() || !amount.IsPositive() {
		return 0
	}
	return int(amount.Div(r.EarnUnit).Floor().IntPart())
}
