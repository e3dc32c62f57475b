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
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubRail is a polled rail whose answers are scripted per call.
type stubRail struct {
	status payment.Status
	err    error
	calls  int
}

func (s *stubRail) Method() string { return model.MethodEKQR }

func (s *stubRail) CreateOrder(context.Context, payment.OrderRequest) (payment.Order, error) {
	return payment.Order{}, errors.New("not used")
}

func (s *stubRail) CheckStatus(context.Context, string, time.Time) (payment.Status, error) {
	s.calls++
	return s.status, s.err
}

func newTestPoller(t *testing.T, rail *stubRail) (*env, *Poller) {
	t.Helper()
	e := newEnv(t, rail)
	reg := payment.NewRegistry()
	reg.Register(rail)
	p := NewPoller(e.pay, reg, model.MethodEKQR, PollConfig{
		Interval: 5 * time.Second, BackoffStep: 5 * time.Second, MaxAttempts: 3, LateGrace: 30 * time.Minute,
	}, zap.NewNop())
	require.NotNil(t, p)
	p.now = fixedNow
	return e, p
}

func expectPoll(e *env, txn model.Transaction, attempts int) {
	e.mock.ExpectQuery(`WHERE t.method = \? AND \(t.status = \? OR \(t.status IN \(\?, \?\)`).
		WithArgs(model.MethodEKQR, model.TxnPending, model.TxnTimeout, model.TxnFailed,
			model.ReasonBookingExpired, model.ReasonBookingCancelled, testNow.Add(-30*time.Minute),
			int64(5), int64(5), testNow, 50).
		WillReturnRows(txnRows(txn))
	e.mock.ExpectExec(`UPDATE transactions SET poll_attempts = poll_attempts \+ 1`).
		WithArgs(testNow, txn.ID, model.TxnSuccess).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectQuery(`SELECT poll_attempts FROM transactions WHERE id = \?`).WithArgs(txn.ID).
		WillReturnRows(sqlmock.NewRows([]string{"poll_attempts"}).AddRow(attempts))
}

func TestNewPoller_RequiresPolledRail(t *testing.T) {
	e := newEnv(t)
	reg := payment.NewRegistry()
	assert.Nil(t, NewPoller(e.pay, reg, model.MethodEKQR, PollConfig{}, zap.NewNop()))

	reg.Register(payment.NewOffline("INR"))
	assert.Nil(t, NewPoller(e.pay, reg, model.MethodOffline, PollConfig{}, zap.NewNop()))
}

func TestPollOnce_PendingBelowLimitLeavesAttemptOpen(t *testing.T) {
	rail := &stubRail{status: payment.Status{Outcome: payment.OutcomePending}}
	e, p := newTestPoller(t, rail)
	expectPoll(e, sampleTxn(), 1)

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, rail.calls)
	assert.Empty(t, e.events.keys)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestPollOnce_TimesOutAtLimit(t *testing.T) {
	rail := &stubRail{err: errors.New("gateway 502")}
	e, p := newTestPoller(t, rail)
	txn := sampleTxn()
	b := sampleBooking()
	expectPoll(e, txn, 3)

	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectExec(qMarkFailed).
		WithArgs(model.TxnTimeout, model.ReasonTimeout, sqlmock.AnyArg(), txn.ID, model.TxnPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectExec(qSetPayment).WithArgs(model.PaymentFailed, model.MethodEKQR, b.ID, model.PaymentPaid).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectCommit()
	e.mock.ExpectQuery(qDetail).WithArgs(b.ID).WillReturnRows(detailRows(b, 70))
	timedOut := txn
	timedOut.Status, timedOut.FailureReason = model.TxnTimeout, model.ReasonTimeout
	e.mock.ExpectQuery(qGetTxn).WithArgs(txn.ID).WillReturnRows(txnRows(timedOut))

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Equal(t, []string{queue.RKPaymentFailed}, e.events.keys)
	ev := e.events.events[0].(queue.PaymentFailedEvent)
	assert.Equal(t, model.TxnTimeout, ev.Status)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestPollOnce_SuccessConfirmsBooking(t *testing.T) {
	rail := &stubRail{status: payment.Status{Outcome: payment.OutcomeSuccess, OrderID: "c0ffee", PaymentID: "ekqr_1",
		Amount: decimal.RequireFromString("500")}}
	e, p := newTestPoller(t, rail)
	txn := sampleTxn()
	b := sampleBooking()
	expectPoll(e, txn, 1)

	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectQuery(qLockBooking).WithArgs(b.ID).WillReturnRows(bookingRows(b))
	expectMarkSuccess(e, txn, "ekqr_1")
	expectConfirm(e, b, model.MethodEKQR)
	e.mock.ExpectCommit()
	expectReload(e, b, txn, model.TxnSuccess)

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{queue.RKBookingConfirmed}, e.events.keys)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestPollOnce_FailureFailsAttempt(t *testing.T) {
	rail := &stubRail{status: payment.Status{Outcome: payment.OutcomeFailure, Reason: "payment declined"}}
	e, p := newTestPoller(t, rail)
	txn := sampleTxn()
	b := sampleBooking()
	expectPoll(e, txn, 1)

	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectExec(qMarkFailed).
		WithArgs(model.TxnFailed, "payment declined", sqlmock.AnyArg(), txn.ID, model.TxnPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectExec(qSetPayment).WithArgs(model.PaymentFailed, model.MethodEKQR, b.ID, model.PaymentPaid).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectCommit()
	expectReload(e, b, txn, model.TxnFailed)

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Equal(t, []string{queue.RKPaymentFailed}, e.events.keys)
	assert.Equal(t, "payment declined", e.events.events[0].(queue.PaymentFailedEvent).Reason)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestPollOnce_ClosedAttemptStillCatchesLateCapture(t *testing.T) {
	rail := &stubRail{status: payment.Status{Outcome: payment.OutcomeSuccess, OrderID: "c0ffee", PaymentID: "ekqr_2"}}
	e, p := newTestPoller(t, rail)
	txn := sampleTxn()
	txn.Status, txn.FailureReason = model.TxnTimeout, model.ReasonBookingExpired
	b := sampleBooking()
	b.Status, b.PaymentStatus, b.ExpiresAt = model.BookingExpired, model.PaymentUnpaid, nil
	expectPoll(e, txn, 1)

	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectQuery(qLockBooking).WithArgs(b.ID).WillReturnRows(bookingRows(b))
	expectMarkSuccess(e, txn, "ekqr_2")
	expectOverlap(e, b, 0)
	expectConfirm(e, b, model.MethodEKQR)
	e.mock.ExpectCommit()
	expectReload(e, b, txn, model.TxnSuccess)

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{queue.RKBookingConfirmed}, e.events.keys)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}

func TestPollOnce_ClosedAttemptWithoutCaptureIsLeftAlone(t *testing.T) {
	for _, outcome := range []payment.Outcome{payment.OutcomePending, payment.OutcomeFailure} {
		rail := &stubRail{status: payment.Status{Outcome: outcome}}
		e, p := newTestPoller(t, rail)
		txn := sampleTxn()
		txn.Status, txn.FailureReason = model.TxnTimeout, model.ReasonBookingCancelled
		// past the attempt ceiling, yet a closed attempt is never timed out again
		expectPoll(e, txn, 5)

		n, err := p.PollOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n, outcome)
		assert.Empty(t, e.events.keys)
		assert.NoError(t, e.mock.ExpectationsWereMet())
	}
}

func TestRefreshStatus_ClosedAttemptRecordsLateCapture(t *testing.T) {
	rail := &stubRail{status: payment.Status{Outcome: payment.OutcomeSuccess, OrderID: "c0ffee", PaymentID: "ekqr_3"}}
	e := newEnv(t, rail)
	txn := sampleTxn()
	txn.Status, txn.FailureReason = model.TxnFailed, model.ReasonBookingCancelled
	b := sampleBooking()
	b.Status, b.PaymentStatus, b.ExpiresAt = model.BookingCancelled, model.PaymentUnpaid, nil

	e.mock.ExpectQuery(qGetTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectBegin()
	e.mock.ExpectQuery(qLockTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	e.mock.ExpectQuery(qLockBooking).WithArgs(b.ID).WillReturnRows(bookingRows(b))
	expectMarkSuccess(e, txn, "ekqr_3")
	e.mock.ExpectExec(qFlagRefund).
		WithArgs(model.PaymentRefunded, model.ReasonPaidAfterCancel, b.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectExec(qFlagTxnRefund).
		WithArgs(model.ReasonPaidAfterCancel, txn.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	e.mock.ExpectCommit()
	expectReload(e, b, txn, model.TxnSuccess)

	got, err := e.pay.RefreshStatus(context.Background(), b.UserID, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxnSuccess, got.Status)
	require.Equal(t, []string{queue.RKBookingCancelled}, e.events.keys)
	assert.True(t, e.events.events[0].(queue.BookingEvent).Refund)
	assert.NoError(t, e.mock.ExpectationsWereMet())

	// a closed attempt that is still unpaid is returned as stored
	rail.status = payment.Status{Outcome: payment.OutcomeFailure}
	e.mock.ExpectQuery(qGetTxn).WithArgs(txn.ID).WillReturnRows(txnRows(txn))
	got, err = e.pay.RefreshStatus(context.Background(), b.UserID, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TxnFailed, got.Status)
	assert.NoError(t, e.mock.ExpectationsWereMet())
}
