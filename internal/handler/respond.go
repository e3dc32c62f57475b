package handler

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studyhall-marketplace/internal/payment"
	"github.com/iliyamo/studyhall-marketplace/internal/pricing"
	"github.com/iliyamo/studyhall-marketplace/internal/repository"
	"github.com/iliyamo/studyhall-marketplace/internal/service"
)

// errorCode maps a domain error to an HTTP status and a stable code.
type errorCode struct {
	err    error
	status int
	code   string
}

// Order matters: the first match wins.
var errorCodes = []errorCode{
	{repository.ErrNotFound, http.StatusNotFound, "not_found"},
	{repository.ErrForbidden, http.StatusForbidden, "forbidden"},
	{repository.ErrEmailExists, http.StatusConflict, "email_exists"},
	{repository.ErrConflict, http.StatusConflict, "conflict"},

	{service.ErrHallNotBookable, http.StatusConflict, "hall_not_bookable"},
	{service.ErrSeatNotFound, http.StatusNotFound, "seat_not_found"},
	{service.ErrSeatUnavailable, http.StatusConflict, "seat_unavailable"},
	{service.ErrSeatLocked, http.StatusConflict, "seat_locked"},
	{service.ErrNotCancellable, http.StatusConflict, "not_cancellable"},
	{service.ErrNotPayable, http.StatusConflict, "not_payable"},
	{service.ErrNotOffline, http.StatusConflict, "not_offline"},
	{service.ErrInvalidPeriod, http.StatusBadRequest, "invalid_period"},
	{service.ErrEmptySettlement, http.StatusUnprocessableEntity, "empty_settlement"},
	{service.ErrNotHallOwner, http.StatusUnprocessableEntity, "not_hall_owner"},

	{pricing.ErrInvalidDate, http.StatusBadRequest, "invalid_date"},
	{pricing.ErrInvalidRange, http.StatusBadRequest, "invalid_range"},
	{pricing.ErrStartInPast, http.StatusBadRequest, "invalid_range"},
	{pricing.ErrRangeTooLong, http.StatusBadRequest, "invalid_range"},
	{pricing.ErrNoDailyPrice, http.StatusConflict, "hall_not_bookable"},
	{pricing.ErrCouponNotFound, http.StatusUnprocessableEntity, "coupon_not_found"},
	{pricing.ErrCouponInactive, http.StatusUnprocessableEntity, "coupon_inactive"},
	{pricing.ErrCouponExpired, http.StatusUnprocessableEntity, "coupon_expired"},
	{pricing.ErrCouponExhausted, http.StatusUnprocessableEntity, "coupon_exhausted"},
	{pricing.ErrCouponNotApplicable, http.StatusUnprocessableEntity, "coupon_not_applicable"},
	{pricing.ErrCouponMinAmount, http.StatusUnprocessableEntity, "coupon_min_amount"},

	{payment.ErrProviderDisabled, http.StatusBadRequest, "method_disabled"},
	{payment.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{payment.ErrCircuitOpen, http.StatusBadGateway, "provider_unavailable"},
	{payment.ErrTooManyRequests, http.StatusBadGateway, "provider_unavailable"},
	{payment.ErrProvider, http.StatusBadGateway, "provider_error"},

	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
}

// respondError writes the JSON error body for err.  Unknown errors become
// a 500 whose cause is left for the request logger.
func respondError(c echo.Context, err error) error {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return c.JSON(ec.status, echo.Map{"error": ec.code, "message": err.Error()})
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError,
		echo.Map{"error": "internal", "message": "internal server error"}).SetInternal(err)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad_request", "message": msg})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "authentication required"})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json field names rather than Go ones
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RequestValidator plugs the shared validator into echo.
type RequestValidator struct{}

func (RequestValidator) Validate(i any) error { return validate.Struct(i) }

// bindValid decodes the body into dst and validates it.  The returned
// error is already an HTTP response.
func bindValid(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, echo.Map{"error": "bad_request", "message": "invalid body"})
	}
	if err := validate.Struct(dst); err != nil {
		fields := map[string]string{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		return echo.NewHTTPError(http.StatusBadRequest, echo.Map{
			"error":   "validation_failed",
			"message": "request validation failed",
			"fields":  fields,
		})
	}
	return nil
}
