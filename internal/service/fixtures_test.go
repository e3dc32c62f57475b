package service

import (
	"context"
	"database/sql/driver"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/payment"
	"github.com/iliyamo/studyhall-marketplace/internal/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func testRules() pricing.Rules {
	return pricing.Rules{
		MaxDays:          366,
		EarnUnit:         decimal.NewFromInt(10),
		PointValue:       decimal.NewFromInt(1),
		MaxRedeemPercent: decimal.NewFromInt(20),
	}
}

// recorder captures published events and realtime changes.
type recorder struct {
	mu      sync.Mutex
	keys    []string
	events  []any
	changes []string
}

func (r *recorder) Publish(_ context.Context, key string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	r.events = append(r.events, v)
	return nil
}

type changeRecorder struct{ topics []string }

func (c *changeRecorder) Publish(_ context.Context, entity string, id uint64, action string, topics ...string) {
	c.topics = append(c.topics, topics...)
}

type env struct {
	mock    sqlmock.Sqlmock
	repos   Repos
	events  *recorder
	changes *changeRecorder
	booking *BookingService
	pay     *PaymentService
}

func newEnv(t *testing.T, providers ...payment.Provider) *env {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repos := NewRepos(db)
	reg := payment.NewRegistry()
	for _, p := range providers {
		reg.Register(p)
	}
	ev, ch := &recorder{}, &changeRecorder{}
	bs := NewBookingService(db, repos, NewSeatLocker(nil, 0, zap.NewNop()), testRules(), 15*time.Minute, ev, ch, zap.NewNop())
	bs.now = fixedNow
	ps := NewPaymentService(db, repos, reg, nil, testRules(), PaymentOptions{Currency: "INR", OfflineWindow: 24 * time.Hour}, ev, ch, zap.NewNop())
	ps.now = fixedNow
	return &env{mock: mock, repos: repos, events: ev, changes: ch, booking: bs, pay: ps}
}

var txnColumns = []string{"id", "booking_id", "user_id", "method", "provider_order_id", "provider_payment_id",
	"amount", "currency", "status", "failure_reason", "refund_reason", "poll_attempts", "last_polled_at",
	"confirmed_by", "settlement_id", "created_at", "updated_at"}

func txnRows(ts ...model.Transaction) *sqlmock.Rows {
	rows := sqlmock.NewRows(txnColumns)
	for _, t := range ts {
		rows.AddRow(t.ID, t.BookingID, t.UserID, t.Method, t.ProviderOrderID, t.ProviderPaymentID,
			t.Amount.StringFixed(2), "INR", t.Status, t.FailureReason, t.RefundReason, t.PollAttempts, nil,
			nil, nil, testNow, testNow)
	}
	return rows
}

var bookingColumns = []string{"id", "reference", "user_id", "study_hall_id", "seat_id", "start_date", "end_date", "days",
	"base_amount", "coupon_id", "coupon_discount", "points_redeemed", "points_discount", "final_amount",
	"status", "payment_status", "payment_method", "expires_at", "cancelled_at", "cancel_reason",
	"created_at", "updated_at"}

func bookingValues(b model.Booking) []driver.Value {
	var coupon driver.Value
	if b.CouponID != nil {
		coupon = int64(*b.CouponID)
	}
	var expires driver.Value
	if b.ExpiresAt != nil {
		expires = *b.ExpiresAt
	}
	return []driver.Value{b.ID, b.Reference, b.UserID, b.StudyHallID, b.SeatID, b.StartDate, b.EndDate, b.Days,
		b.BaseAmount.StringFixed(2), coupon, "0.00", b.PointsRedeemed, "0.00", b.FinalAmount.StringFixed(2),
		b.Status, b.PaymentStatus, b.PaymentMethod, expires, nil, b.CancelReason,
		testNow, testNow}
}

func bookingRows(b model.Booking) *sqlmock.Rows {
	return sqlmock.NewRows(bookingColumns).AddRow(bookingValues(b)...)
}

func detailRows(b model.Booking, ownerID uint64) *sqlmock.Rows {
	cols := append(append([]string{}, bookingColumns...), "name", "label", "full_name", "email", "phone", "owner_id")
	vals := append(bookingValues(b), "Quiet Corner", "B4", "Asha", "asha@example.com", "9800000000", ownerID)
	return sqlmock.NewRows(cols).AddRow(vals...)
}

func sampleBooking() model.Booking {
	exp := testNow.Add(10 * time.Minute)
	return model.Booking{
		ID:            11,
		Reference:     "SH-ABCDEF1234",
		UserID:        5,
		StudyHallID:   2,
		SeatID:        8,
		StartDate:     time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 6, 12, 0, 0, 0, 0, time.UTC),
		Days:          10,
		BaseAmount:    decimal.RequireFromString("500"),
		FinalAmount:   decimal.RequireFromString("500"),
		Status:        model.BookingPendingPayment,
		PaymentStatus: model.PaymentPending,
		PaymentMethod: model.MethodEKQR,
		ExpiresAt:     &exp,
	}
}

func sampleTxn() model.Transaction {
	return model.Transaction{
		ID:              21,
		BookingID:       11,
		UserID:          5,
		Method:          model.MethodEKQR,
		ProviderOrderID: "c0ffee",
		Amount:          decimal.RequireFromString("500"),
		Status:          model.TxnPending,
	}
}

func sum(n int) *sqlmock.Rows { return sqlmock.NewRows([]string{"sum"}).AddRow(n) }

var hallColumns = []string{"id", "owner_id", "name", "description", "address", "city", "amenities",
	"daily_price", "weekly_price", "monthly_price", "status", "opening_time", "closing_time",
	"created_at", "updated_at", "avg", "reviews", "seats"}

func approvedHallRows() *sqlmock.Rows {
	return sqlmock.NewRows(hallColumns).AddRow(2, 70, "Quiet Corner", "", "MG Road", "Pune", "wifi,ac",
		"100.00", "600.00", "2000.00", model.HallApproved, "07:00", "22:00", testNow, testNow, nil, 0, 40)
}

var seatColumns = []string{"id", "study_hall_id", "label", "row_label", "col_number", "is_active"}
