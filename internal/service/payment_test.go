package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/payment"
	"github.com/iliyamo/studyhall-marketplace/internal/queue"
	"github.com/iliyamo/studyhall-marketplace/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	qLockTxn      = `FROM transactions t WHERE t.id = \? FOR UPDATE`
	qGetTxn       = `FROM transactions t WHERE t.id = \?`
	qLockBooking  = `FROM bookings b WHERE b.id = \? FOR UPDATE`
	qDetail       = `JOIN study_halls h`
	qMarkSuccess  = `UPDATE transactions SET status = \?, provider_payment_id = \?`
	qMarkFailed   = `UPDATE transactions SET status = \?, failure_reason = \?`
	qConfirm      = `UPDATE bookings SET status = \?, payment_status = \?, payment_method = \?, expires_at = NULL`
	qSetPayment   = `UPDATE bookings SET payment_status = \?, payment_method = \?`
	qBookingPoint = `SELECT COALESCE\(SUM\(points\), 0\) FROM reward_ledger WHERE booking_id = \? AND reason = \?`
	qAddPoints    = `INSERT INTO reward_ledger`
	qFlagTxnRefund = `UPDATE transactions SET refund_reason = \? WHERE id = \?`
	qExpire        = `UPDATE bookings SET status = \?, payment_status = CASE`
	qFlagRefund    = `UPDATE bookings SET payment_status = \?, cancel_reason = \?`
	qByOrder       = `WHERE t.method = \? AND t.provider_order_id = \?`
)

// fakeGateway scripts the card/UPI gateway.
type fakeGateway struct {
	verifyErr error
	fetched   payment.Status
	fetchErr  error
	event     payment.WebhookEvent
	parseErr  error
}

func (g *fakeGateway) VerifyCheckout(string, string, string) error { return g.verifyErr }

func (g *fakeGateway) FetchPayment(context.Context, string) (payment.Status, error) {
	return g.fetched, g.fetchErr
}

func (g *fakeGateway) ParseWebhook([]byte, string) (payment.WebhookEvent, error) {
	return g.event, g.parseErr
}

func razorpayTxn() model.Transaction {
	t := sampleTxn()
	t.Method, t.ProviderOrderID = model.MethodRazorpay, "order_9"
	return t
}

func expectMarkSuccess(e *env, txn model.Transaction, paymentID string) {
	e.mock.ExpectExec(qMarkSuccess).
		WithArgs(model.TxnSuccess, paymentID, sqlmock.AnyArg(), txn.ID, model.TxnSuccess).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// expectConfirm covers confirming b without coupon or restored points.
func expectConfirm(e *env, b model.Booking, method string) {
	e.mock.ExpectExec(qConfirm).
		WithArgs(model.BookingConfirmed, model.PaymentPaid, method, b.ID, model.BookingPendingPayment, model.BookingExpired).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectQuery(qBookingPoint).WithArgs(b.ID, model.RewardEarned).WillReturnRows(sum(0))
	e.mock.ExpectExec(qAddPoints).WithArgs(b.UserID, sqlmock.AnyArg(), 50, model.RewardEarned).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

// expectReload covers the event lookup and the final read after a change.
func expectReload(e *env, b model.Booking, txn model.Transaction, status string) {
	e.mock.ExpectQuery(qDetail).WithArgs(b.ID).WillReturnRows(detailRows(b, 70))
	done := txn
	done.Status, done.FailureReason = status, ""
	e.mock.ExpectQuery(qGetTxn).WithArgs(txn.ID).WillReturnRows(txnRows(done))
}

func expectOverlap(e *env, b model.Booking, n int) {
	e.mock.ExpectQuery(qOverlap).
		WithArgs(b.SeatID, b.EndDate, b.StartDate, b.ID, testNow).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(n))
}

func TestComplete_SuccessConfirmsBooking(t *testing.T) {
	e := newEnv(t)
	b := sampleBooking()
	coupon := uint64(7)
	b.CouponID = &coupon
	txn := sampleTxn()

	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectQuery(qLockBooking).WithArgs(b.ID).WillReturnRows(bookingRows(b))
	e.mock.ExpectExec(qMarkSuccess).
		WithArgs(model.TxnSuccess, "pay_1", sqlmock.AnyArg(), txn.ID, model.TxnSuccess).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectExec(qConfirm).
		WithArgs(model.BookingConfirmed, model.PaymentPaid, model.MethodEKQR, b.ID, model.BookingPendingPayment, model.BookingExpired).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectExec(`INSERT IGNORE INTO coupon_redemptions`).WithArgs(coupon, b.UserID, b.ID).WillReturnResult(sqlmock.NewResult(1, 1))
	e.mock.ExpectExec(`UPDATE coupons SET used_count = used_count \+ 1`).WithArgs(coupon).WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectQuery(qBookingPoint).WithArgs(b.ID, model.RewardEarned).WillReturnRows(sum(0))
	e.mock.ExpectExec(qAddPoints).WithArgs(b.UserID, sqlmock.AnyArg(), 50, model.RewardEarned).WillReturnResult(sqlmock.NewResult(1, 1))
	e.mock.ExpectCommit()

	confirmed := b
	confirmed.Status, confirmed.PaymentStatus = model.BookingConfirmed, model.PaymentPaid
	e.mock.ExpectQuery(qDetail).WithArgs(b.ID).WillReturnRows(detailRows(confirmed, 70))
	done := txn
	done.Status = model.TxnSuccess
	e.mock.ExpectQuery(qGetTxn).WithArgs(txn.ID).WillReturnRows(txnRows(done))

	got, err := e.pay.Complete(context.Background(), txn.ID,
		payment.Status{Outcome: payment.OutcomeSuccess, PaymentID: "pay_1", Amount: decimal.RequireFromString("500.00")}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TxnSuccess, got.Status)
	require.Equal(t, []string{queue.RKBookingConfirmed}, e.events.keys)
	ev := e.events.events[0].(queue.BookingEvent)
	assert.Equal(t, uint64(70), ev.OwnerID)
	assert.False(t, ev.Refund)
	assert.Contains(t, e.changes.topics, "booking:11")
	assert.Contains(t, e.changes.topics, "merchant:70")
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestComplete_IdempotentOnFinalAttempt(t *testing.T) {
	e := newEnv(t)
	txn := sampleTxn()
	txn.Status = model.TxnSuccess

	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectCommit()

	got, err := e.pay.Complete(context.Background(), txn.ID, payment.Status{Outcome: payment.OutcomeSuccess, PaymentID: "pay_2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TxnSuccess, got.Status)
	assert.Empty(t, e.events.keys)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestComplete_CaptureAfterFailedGatewayAttemptConfirms(t *testing.T) {
	e := newEnv(t)
	b := sampleBooking()
	txn := razorpayTxn()
	txn.Status, txn.FailureReason = model.TxnFailed, "insufficient funds"

	// the gateway order stays open after a failed payment and the retry is
	// captured on the same order
	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectQuery(qLockBooking).WithArgs(b.ID).WillReturnRows(bookingRows(b))
	expectMarkSuccess(e, txn, "pay_retry")
	expectConfirm(e, b, model.MethodRazorpay)
	e.mock.ExpectCommit()
	expectReload(e, b, txn, model.TxnSuccess)

	got, err := e.pay.Complete(context.Background(), txn.ID,
		payment.Status{Outcome: payment.OutcomeSuccess, OrderID: txn.ProviderOrderID, PaymentID: "pay_retry"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TxnSuccess, got.Status)
	assert.Equal(t, []string{queue.RKBookingConfirmed}, e.events.keys)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestComplete_SuccessOnFailedAttemptOfOtherOrderIgnored(t *testing.T) {
	for _, txn := range []model.Transaction{razorpayTxn(), sampleTxn()} {
		e := newEnv(t)
		txn.Status, txn.FailureReason = model.TxnFailed, "insufficient funds"

		e.mock.ExpectBegin()
		e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
		e.mock.ExpectCommit()

		// a different order on the gateway, or any retry on a polled rail
		got, err := e.pay.Complete(context.Background(), txn.ID,
			payment.Status{Outcome: payment.OutcomeSuccess, OrderID: "order_other"}, nil)
		require.NoError(t, err)
		assert.Equal(t, model.TxnFailed, got.Status, txn.Method)
		assert.Empty(t, e.events.keys)
		assert.NoError(t, e.mock.ExpectationsWereMet())
	}
}

func TestComplete_AmountMismatchFails(t *testing.T) {
	e := newEnv(t)
	b := sampleBooking()
	txn := sampleTxn()

	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectExec(qMarkFailed).
		WithArgs(model.TxnFailed, model.ReasonAmountMismatch, sqlmock.AnyArg(), txn.ID, model.TxnPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectExec(qSetPayment).
		WithArgs(model.PaymentFailed, model.MethodEKQR, b.ID, model.PaymentPaid).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectCommit()
	e.mock.ExpectQuery(qDetail).WithArgs(b.ID).WillReturnRows(detailRows(b, 70))
	failed := txn
	failed.Status, failed.FailureReason = model.TxnFailed, model.ReasonAmountMismatch
	e.mock.ExpectQuery(qGetTxn).WithArgs(txn.ID).WillReturnRows(txnRows(failed))

	got, err := e.pay.Complete(context.Background(), txn.ID,
		payment.Status{Outcome: payment.OutcomeSuccess, Amount: decimal.RequireFromString("1.00")}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonAmountMismatch, got.FailureReason)
	require.Equal(t, []string{queue.RKPaymentFailed}, e.events.keys)
	assert.Equal(t, model.ReasonAmountMismatch, e.events.events[0].(queue.PaymentFailedEvent).Reason)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestComplete_LateCaptureOnRebookedSeatFlagsRefund(t *testing.T) {
	e := newEnv(t)
	b := sampleBooking()
	b.Status, b.PaymentStatus, b.ExpiresAt = model.BookingExpired, model.PaymentUnpaid, nil
	txn := sampleTxn()
	txn.Status, txn.FailureReason = model.TxnTimeout, model.ReasonBookingExpired

	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectQuery(qLockBooking).WithArgs(b.ID).WillReturnRows(bookingRows(b))
	e.mock.ExpectExec(qMarkSuccess).WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookings b`).
		WithArgs(b.SeatID, b.EndDate, b.StartDate, b.ID, testNow).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	e.mock.ExpectExec(`UPDATE bookings SET payment_status = \?, cancel_reason = \?`).
		WithArgs(model.PaymentRefunded, model.ReasonSeatTakenAfterExpiry, b.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectExec(qFlagTxnRefund).
		WithArgs(model.ReasonSeatTakenAfterExpiry, txn.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectCommit()
	flagged := b
	flagged.PaymentStatus, flagged.CancelReason = model.PaymentRefunded, model.ReasonSeatTakenAfterExpiry
	e.mock.ExpectQuery(qDetail).WithArgs(b.ID).WillReturnRows(detailRows(flagged, 70))
	done := txn
	done.Status, done.FailureReason = model.TxnSuccess, ""
	e.mock.ExpectQuery(qGetTxn).WithArgs(txn.ID).WillReturnRows(txnRows(done))

	got, err := e.pay.Complete(context.Background(), txn.ID, payment.Status{Outcome: payment.OutcomeSuccess, PaymentID: "pay_3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TxnSuccess, got.Status)
	require.Len(t, e.events.events, 1)
	ev := e.events.events[0].(queue.BookingEvent)
	assert.True(t, ev.Refund)
	assert.Equal(t, model.ReasonSeatTakenAfterExpiry, ev.Reason)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestComplete_LapsedHoldOnTakenSeatExpiresAndFlagsRefund(t *testing.T) {
	e := newEnv(t)
	b := sampleBooking()
	lapsed := testNow.Add(-5 * time.Minute)
	b.ExpiresAt = &lapsed
	b.PointsRedeemed = 40
	txn := sampleTxn()

	// the sweeper has not run yet and another student holds the seat
	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectQuery(qLockBooking).WithArgs(b.ID).WillReturnRows(bookingRows(b))
	expectMarkSuccess(e, txn, "ekqr_7")
	expectOverlap(e, b, 1)
	e.mock.ExpectExec(qExpire).
		WithArgs(model.BookingExpired, model.PaymentPending, model.PaymentUnpaid, b.ID, model.BookingPendingPayment).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectQuery(qPendingTxns).WithArgs(b.ID, model.TxnPending).WillReturnRows(txnRows())
	e.mock.ExpectQuery(qBookingPoint).WithArgs(b.ID, model.RewardRedeemed).WillReturnRows(sum(-40))
	e.mock.ExpectQuery(qBookingPoint).WithArgs(b.ID, model.RewardRestored).WillReturnRows(sum(0))
	e.mock.ExpectExec(qAddPoints).WithArgs(b.UserID, sqlmock.AnyArg(), 40, model.RewardRestored).
		WillReturnResult(sqlmock.NewResult(1, 1))
	e.mock.ExpectExec(qFlagRefund).
		WithArgs(model.PaymentRefunded, model.ReasonSeatTakenAfterExpiry, b.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectExec(qFlagTxnRefund).
		WithArgs(model.ReasonSeatTakenAfterExpiry, txn.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectCommit()
	flagged := b
	flagged.Status, flagged.PaymentStatus = model.BookingExpired, model.PaymentRefunded
	expectReload(e, flagged, txn, model.TxnSuccess)

	got, err := e.pay.Complete(context.Background(), txn.ID,
		payment.Status{Outcome: payment.OutcomeSuccess, PaymentID: "ekqr_7"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TxnSuccess, got.Status)
	require.Equal(t, []string{queue.RKBookingConfirmed}, e.events.keys)
	ev := e.events.events[0].(queue.BookingEvent)
	assert.True(t, ev.Refund)
	assert.Equal(t, model.ReasonSeatTakenAfterExpiry, ev.Reason)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestComplete_LapsedHoldOnFreeSeatConfirms(t *testing.T) {
	e := newEnv(t)
	b := sampleBooking()
	lapsed := testNow.Add(-5 * time.Minute)
	b.ExpiresAt = &lapsed
	txn := sampleTxn()

	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectQuery(qLockBooking).WithArgs(b.ID).WillReturnRows(bookingRows(b))
	expectMarkSuccess(e, txn, "ekqr_8")
	expectOverlap(e, b, 0)
	expectConfirm(e, b, model.MethodEKQR)
	e.mock.ExpectCommit()
	expectReload(e, b, txn, model.TxnSuccess)

	_, err := e.pay.Complete(context.Background(), txn.ID,
		payment.Status{Outcome: payment.OutcomeSuccess, PaymentID: "ekqr_8"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{queue.RKBookingConfirmed}, e.events.keys)
	assert.False(t, e.events.events[0].(queue.BookingEvent).Refund)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestComplete_LateCaptureOnExpiredBookingWithFreeSeatConfirms(t *testing.T) {
	e := newEnv(t)
	b := sampleBooking()
	b.Status, b.PaymentStatus, b.ExpiresAt = model.BookingExpired, model.PaymentUnpaid, nil
	b.PointsRedeemed = 40
	txn := sampleTxn()
	txn.Status, txn.FailureReason = model.TxnTimeout, model.ReasonBookingExpired

	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectQuery(qLockBooking).WithArgs(b.ID).WillReturnRows(bookingRows(b))
	expectMarkSuccess(e, txn, "ekqr_9")
	expectOverlap(e, b, 0)
	e.mock.ExpectExec(qConfirm).
		WithArgs(model.BookingConfirmed, model.PaymentPaid, model.MethodEKQR, b.ID, model.BookingPendingPayment, model.BookingExpired).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// points handed back at expiry are spent again
	e.mock.ExpectQuery(qBookingPoint).WithArgs(b.ID, model.RewardRestored).WillReturnRows(sum(40))
	e.mock.ExpectExec(qAddPoints).WithArgs(b.UserID, sqlmock.AnyArg(), -40, model.RewardRedeemed).
		WillReturnResult(sqlmock.NewResult(1, 1))
	e.mock.ExpectQuery(qBookingPoint).WithArgs(b.ID, model.RewardEarned).WillReturnRows(sum(0))
	e.mock.ExpectExec(qAddPoints).WithArgs(b.UserID, sqlmock.AnyArg(), 50, model.RewardEarned).
		WillReturnResult(sqlmock.NewResult(1, 1))
	e.mock.ExpectCommit()
	confirmed := b
	confirmed.Status, confirmed.PaymentStatus = model.BookingConfirmed, model.PaymentPaid
	expectReload(e, confirmed, txn, model.TxnSuccess)

	got, err := e.pay.Complete(context.Background(), txn.ID,
		payment.Status{Outcome: payment.OutcomeSuccess, PaymentID: "ekqr_9"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TxnSuccess, got.Status)
	require.Equal(t, []string{queue.RKBookingConfirmed}, e.events.keys)
	assert.False(t, e.events.events[0].(queue.BookingEvent).Refund)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestComplete_SecondCaptureFlaggedAsDuplicate(t *testing.T) {
	e := newEnv(t)
	b := sampleBooking()
	b.Status, b.PaymentStatus, b.ExpiresAt = model.BookingConfirmed, model.PaymentPaid, nil
	txn := sampleTxn()
	txn.ID = 22

	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectQuery(qLockBooking).WithArgs(b.ID).WillReturnRows(bookingRows(b))
	expectMarkSuccess(e, txn, "ekqr_10")
	e.mock.ExpectExec(qFlagTxnRefund).
		WithArgs(model.ReasonDuplicatePayment, txn.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectCommit()
	expectReload(e, b, txn, model.TxnSuccess)

	got, err := e.pay.Complete(context.Background(), txn.ID,
		payment.Status{Outcome: payment.OutcomeSuccess, PaymentID: "ekqr_10"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TxnSuccess, got.Status)
	assert.Empty(t, e.events.keys)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestComplete_PendingOutcomeIsReadOnly(t *testing.T) {
	e := newEnv(t)
	txn := sampleTxn()
	e.mock.ExpectQuery(qGetTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))

	got, err := e.pay.Complete(context.Background(), txn.ID, payment.Status{Outcome: payment.OutcomePending}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TxnPending, got.Status)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestStartPayment_RejectsForeignAndClosedBookings(t *testing.T) {
	e := newEnv(t, payment.NewOffline("INR"))
	b := sampleBooking()

	e.mock.ExpectQuery(qDetail).WithArgs(b.ID).WillReturnRows(detailRows(b, 70))
	_, err := e.pay.StartPayment(context.Background(), 999, b.ID, model.MethodOffline)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	b.Status = model.BookingExpired
	e.mock.ExpectQuery(qDetail).WithArgs(b.ID).WillReturnRows(detailRows(b, 70))
	_, err = e.pay.StartPayment(context.Background(), b.UserID, b.ID, model.MethodOffline)
	assert.ErrorIs(t, err, ErrNotPayable)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestStartPayment_DisabledRail(t *testing.T) {
	e := newEnv(t)
	b := sampleBooking()
	e.mock.ExpectQuery(qDetail).WithArgs(b.ID).WillReturnRows(detailRows(b, 70))

	_, err := e.pay.StartPayment(context.Background(), b.UserID, b.ID, model.MethodRazorpay)
	assert.ErrorIs(t, err, payment.ErrProviderDisabled)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestStartPayment_OfflineExtendsDeadline(t *testing.T) {
	e := newEnv(t, payment.NewOffline("INR"))
	b := sampleBooking()
	b.PaymentStatus, b.PaymentMethod = model.PaymentUnpaid, ""

	e.mock.ExpectQuery(qDetail).WithArgs(b.ID).WillReturnRows(detailRows(b, 70))
	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockBooking).WithArgs(b.ID).WillReturnRows(bookingRows(b))
	e.mock.ExpectExec(`INSERT INTO transactions`).WillReturnResult(sqlmock.NewResult(31, 1))
	e.mock.ExpectExec(qSetPayment).
		WithArgs(model.PaymentPending, model.MethodOffline, b.ID, model.PaymentPaid).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectExec(`UPDATE bookings SET expires_at = \?`).
		WithArgs(testNow.Add(24*time.Hour), b.ID, model.BookingPendingPayment).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectCommit()
	e.mock.ExpectExec(`UPDATE transactions SET provider_order_id = \?`).
		WithArgs("OFFLINE-"+b.Reference, uint64(31)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := e.pay.StartPayment(context.Background(), b.UserID, b.ID, model.MethodOffline)
	require.NoError(t, err)
	assert.Equal(t, uint64(31), got.Transaction.ID)
	assert.Equal(t, "OFFLINE-"+b.Reference, got.Order.OrderID)
	assert.Equal(t, int64(50000), got.Order.Amount)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestConfirmOffline_RequiresHallAccess(t *testing.T) {
	e := newEnv(t)
	b := sampleBooking()
	txn := sampleTxn()
	txn.Method = model.MethodOffline

	e.mock.ExpectQuery(qGetTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectQuery(qDetail).WithArgs(b.ID).WillReturnRows(detailRows(b, 70))
	_, err := e.pay.ConfirmOffline(context.Background(), Actor{UserID: 71, Role: model.RoleMerchant}, txn.ID)
	assert.ErrorIs(t, err, repository.ErrForbidden)

	e.mock.ExpectQuery(qGetTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectQuery(qDetail).WithArgs(b.ID).WillReturnRows(detailRows(b, 70))
	e.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM incharge_assignments`).
		WithArgs(uint64(90), b.StudyHallID).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	_, err = e.pay.ConfirmOffline(context.Background(), Actor{UserID: 90, Role: model.RoleIncharge}, txn.ID)
	assert.ErrorIs(t, err, repository.ErrForbidden)

	e.mock.ExpectQuery(qGetTxn).WithArgs(txn.ID).WillReturnRows(txnRows(sampleTxn()))
	_, err = e.pay.RejectOffline(context.Background(), Actor{UserID: 70, Role: model.RoleMerchant}, txn.ID, "")
	assert.ErrorIs(t, err, ErrNotOffline)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestVerifyRazorpay_FetchFailureTrustsSignature(t *testing.T) {
	e := newEnv(t)
	e.pay.gateway = &fakeGateway{fetchErr: errors.New("gateway 503")}
	b := sampleBooking()
	b.PaymentMethod = model.MethodRazorpay
	txn := razorpayTxn()

	e.mock.ExpectQuery(qByOrder).WithArgs(model.MethodRazorpay, txn.ProviderOrderID).WillReturnRows(txnRows(txn))
	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectQuery(qLockBooking).WithArgs(b.ID).WillReturnRows(bookingRows(b))
	expectMarkSuccess(e, txn, "pay_77")
	expectConfirm(e, b, model.MethodRazorpay)
	e.mock.ExpectCommit()
	expectReload(e, b, txn, model.TxnSuccess)

	got, err := e.pay.VerifyRazorpay(context.Background(), b.UserID, txn.ProviderOrderID, "pay_77", "sig")
	require.NoError(t, err)
	assert.Equal(t, model.TxnSuccess, got.Status)
	assert.Equal(t, []string{queue.RKBookingConfirmed}, e.events.keys)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestVerifyRazorpay_FetchedFailureFailsAttempt(t *testing.T) {
	e := newEnv(t)
	e.pay.gateway = &fakeGateway{fetched: payment.Status{Outcome: payment.OutcomeFailure, Reason: "card declined"}}
	b := sampleBooking()
	txn := razorpayTxn()

	e.mock.ExpectQuery(qByOrder).WithArgs(model.MethodRazorpay, txn.ProviderOrderID).WillReturnRows(txnRows(txn))
	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectExec(qMarkFailed).
		WithArgs(model.TxnFailed, "card declined", sqlmock.AnyArg(), txn.ID, model.TxnPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectExec(qSetPayment).
		WithArgs(model.PaymentFailed, model.MethodRazorpay, b.ID, model.PaymentPaid).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectCommit()
	expectReload(e, b, txn, model.TxnFailed)

	_, err := e.pay.VerifyRazorpay(context.Background(), b.UserID, txn.ProviderOrderID, "pay_78", "sig")
	require.NoError(t, err)
	require.Equal(t, []string{queue.RKPaymentFailed}, e.events.keys)
	assert.Equal(t, "card declined", e.events.events[0].(queue.PaymentFailedEvent).Reason)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestVerifyRazorpay_Rejections(t *testing.T) {
	e := newEnv(t)
	_, err := e.pay.VerifyRazorpay(context.Background(), 5, "order_9", "pay_1", "sig")
	assert.ErrorIs(t, err, payment.ErrProviderDisabled)

	e.pay.gateway = &fakeGateway{verifyErr: payment.ErrInvalidSignature}
	_, err = e.pay.VerifyRazorpay(context.Background(), 5, "order_9", "pay_1", "forged")
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)

	e.pay.gateway = &fakeGateway{}
	txn := razorpayTxn()
	e.mock.ExpectQuery(qByOrder).WithArgs(model.MethodRazorpay, txn.ProviderOrderID).WillReturnRows(txnRows(txn))
	_, err = e.pay.VerifyRazorpay(context.Background(), 6, txn.ProviderOrderID, "pay_1", "sig")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestHandleRazorpayWebhook(t *testing.T) {
	t.Run("ignored event type", func(t *testing.T) {
		e := newEnv(t)
		e.pay.gateway = &fakeGateway{event: payment.WebhookEvent{Event: "refund.created"}}
		require.NoError(t, e.pay.HandleRazorpayWebhook(context.Background(), []byte(`{}`), "sig"))
		assert.NoError(t, e.mock.ExpectationsWereMet())
	})
	t.Run("order we never created", func(t *testing.T) {
		e := newEnv(t)
		e.pay.gateway = &fakeGateway{event: payment.WebhookEvent{Event: "payment.captured", Known: true,
			Status: payment.Status{Outcome: payment.OutcomeSuccess, OrderID: "order_unknown"}}}
		e.mock.ExpectQuery(qByOrder).WithArgs(model.MethodRazorpay, "order_unknown").WillReturnRows(txnRows())
		require.NoError(t, e.pay.HandleRazorpayWebhook(context.Background(), []byte(`{}`), "sig"))
		assert.Empty(t, e.events.keys)
		assert.NoError(t, e.mock.ExpectationsWereMet())
	})
	t.Run("bad signature", func(t *testing.T) {
		e := newEnv(t)
		e.pay.gateway = &fakeGateway{parseErr: payment.ErrInvalidSignature}
		err := e.pay.HandleRazorpayWebhook(context.Background(), []byte(`{}`), "forged")
		assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	})
	t.Run("failed then captured on one order", func(t *testing.T) {
		e := newEnv(t)
		b := sampleBooking()
		txn := razorpayTxn()
		failed := payment.WebhookEvent{Event: "payment.failed", Known: true,
			Status: payment.Status{Outcome: payment.OutcomeFailure, OrderID: txn.ProviderOrderID, PaymentID: "pay_a", Reason: "insufficient funds"}}
		captured := payment.WebhookEvent{Event: "payment.captured", Known: true,
			Status: payment.Status{Outcome: payment.OutcomeSuccess, OrderID: txn.ProviderOrderID, PaymentID: "pay_b", Amount: txn.Amount}}
		gw := &fakeGateway{event: failed}
		e.pay.gateway = gw

		e.mock.ExpectQuery(qByOrder).WithArgs(model.MethodRazorpay, txn.ProviderOrderID).WillReturnRows(txnRows(txn))
		e.mock.ExpectBegin()
		e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
		e.mock.ExpectExec(qMarkFailed).
			WithArgs(model.TxnFailed, "insufficient funds", sqlmock.AnyArg(), txn.ID, model.TxnPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		e.mock.ExpectExec(qSetPayment).
			WithArgs(model.PaymentFailed, model.MethodRazorpay, b.ID, model.PaymentPaid).
			WillReturnResult(sqlmock.NewResult(0, 1))
		e.mock.ExpectCommit()
		expectReload(e, b, txn, model.TxnFailed)
		require.NoError(t, e.pay.HandleRazorpayWebhook(context.Background(), []byte(`{}`), "sig"))

		closed := txn
		closed.Status, closed.FailureReason = model.TxnFailed, "insufficient funds"
		gw.event = captured
		e.mock.ExpectQuery(qByOrder).WithArgs(model.MethodRazorpay, txn.ProviderOrderID).WillReturnRows(txnRows(closed))
		e.mock.ExpectBegin()
		e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(closed))
		e.mock.ExpectQuery(qLockBooking).WithArgs(b.ID).WillReturnRows(bookingRows(b))
		expectMarkSuccess(e, txn, "pay_b")
		expectConfirm(e, b, model.MethodRazorpay)
		e.mock.ExpectCommit()
		expectReload(e, b, txn, model.TxnSuccess)
		require.NoError(t, e.pay.HandleRazorpayWebhook(context.Background(), []byte(`{}`), "sig"))

		assert.Equal(t, []string{queue.RKPaymentFailed, queue.RKBookingConfirmed}, e.events.keys)
		assert.NoError(t, e.mock.ExpectationsWereMet())
	})
}
