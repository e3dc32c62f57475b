package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studyhall-marketplace/internal/payment"
	"github.com/iliyamo/studyhall-marketplace/internal/pricing"
	"github.com/iliyamo/studyhall-marketplace/internal/repository"
	"github.com/iliyamo/studyhall-marketplace/internal/service"
)

func newContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRespondError_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{repository.ErrNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("load hall: %w", repository.ErrNotFound), http.StatusNotFound, "not_found"},
		{repository.ErrEmailExists, http.StatusConflict, "email_exists"},
		{service.ErrSeatLocked, http.StatusConflict, "seat_locked"},
		{service.ErrEmptySettlement, http.StatusUnprocessableEntity, "empty_settlement"},
		{pricing.ErrRangeTooLong, http.StatusBadRequest, "invalid_range"},
		{pricing.ErrNoDailyPrice, http.StatusConflict, "hall_not_bookable"},
		{pricing.ErrCouponExpired, http.StatusUnprocessableEntity, "coupon_expired"},
		{payment.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
		{fmt.Errorf("razorpay: %w", payment.ErrCircuitOpen), http.StatusBadGateway, "provider_unavailable"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	}
	for _, tc := range cases {
		c, rec := newContext(http.MethodGet, "/", "")
		require.NoError(t, respondError(c, tc.err))
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		body := decode(t, rec)
		assert.Equal(t, tc.code, body["error"], tc.err.Error())
		assert.Equal(t, tc.err.Error(), body["message"])
	}
}

func TestRespondError_UnknownIsInternal(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/", "")
	cause := errors.New("connection reset")
	err := respondError(c, cause)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	assert.Equal(t, cause, he.Internal)
	assert.Equal(t, 0, rec.Body.Len()) // echo's error handler writes the body
}

func TestBindValid(t *testing.T) {
	c, _ := newContext(http.MethodPost, "/", `{"email":"not-an-email","password":"short"}`)
	var req registerReq
	err := bindValid(c, &req)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.Code)
	msg := he.Message.(echo.Map)
	assert.Equal(t, "validation_failed", msg["error"])
	assert.Equal(t, map[string]string{
		"email":     "email",
		"password":  "min",
		"full_name": "required",
	}, msg["fields"])

	c, _ = newContext(http.MethodPost, "/", `{"email":`)
	err = bindValid(c, &req)
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "bad_request", he.Message.(echo.Map)["error"])

	c, _ = newContext(http.MethodPost, "/", `{"email":"a@b.co","password":"longenough","full_name":"Asha","role":"ADMIN"}`)
	err = bindValid(c, &req)
	require.ErrorAs(t, err, &he)
	assert.Equal(t, map[string]string{"role": "oneof"}, he.Message.(echo.Map)["fields"])
}

func TestRowLabels(t *testing.T) {
	for i, want := range map[int]string{0: "A", 1: "B", 25: "Z", 26: "AA", 27: "AB", 701: "ZZ", 702: "AAA"} {
		assert.Equal(t, want, indexToRowLabel(i))
		got, ok := rowLabelToIndex(want)
		assert.True(t, ok)
		assert.Equal(t, i, got)
	}
	assert.Equal(t, "", indexToRowLabel(-1))
	_, ok := rowLabelToIndex("A1")
	assert.False(t, ok)
	got, ok := rowLabelToIndex(" ab ")
	assert.True(t, ok)
	assert.Equal(t, 27, got)
}

func TestContextHelpers(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/?page=2&page_size=500&hall_id=x", "")
	_, err := actorOf(c)
	assert.Error(t, err)

	c.Set("user_id", uint64(9))
	c.Set("role", "MERCHANT")
	actor, err := actorOf(c)
	require.NoError(t, err)
	assert.Equal(t, service.Actor{UserID: 9, Role: "MERCHANT"}, actor)

	p := queryPage(c, 20, 100)
	assert.Equal(t, 100, p.Limit)
	assert.Equal(t, 100, p.Offset)

	_, ok := queryUint(c, "hall_id")
	assert.False(t, ok)
	n, ok := queryUint(c, "missing")
	assert.True(t, ok)
	assert.Zero(t, n)

	c.SetParamNames("id")
	c.SetParamValues("0")
	_, ok = pathID(c, "id")
	assert.False(t, ok)
}
