package pricing

import "errors"

var (
	ErrInvalidDate         = errors.New("date must be formatted as YYYY-MM-DD")
	ErrInvalidRange        = errors.New("end date must not be before start date")
	ErrStartInPast         = errors.New("start date is in the past")
	ErrRangeTooLong        = errors.New("booking range exceeds the maximum number of days")
	ErrNoDailyPrice        = errors.New("study hall has no daily price")
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrCouponInactive      = errors.New("coupon is not active")
	ErrCouponExpired       = errors.New("coupon is outside its validity window")
	ErrCouponExhausted     = errors.New("coupon usage limit reached")
	ErrCouponNotApplicable = errors.New("coupon does not apply to this study hall")
	ErrCouponMinAmount     = errors.New("booking amount is below the coupon minimum")
)
