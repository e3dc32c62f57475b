package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/shopspring/decimal"
)

// TransactionRepo stores payment attempts.
type TransactionRepo struct{ db *sql.DB }

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

const txnCols = `t.id, t.booking_id, t.user_id, t.method, t.provider_order_id, t.provider_payment_id,
	t.amount, t.currency, t.status, t.failure_reason, t.refund_reason, t.poll_attempts, t.last_polled_at,
	t.confirmed_by, t.settlement_id, t.created_at, t.updated_at`

func scanTxn(sc scanner, t *model.Transaction) error {
	var (
		lastPolled  sql.NullTime
		confirmedBy sql.NullInt64
		settlement  sql.NullInt64
	)
	if err := sc.Scan(&t.ID, &t.BookingID, &t.UserID, &t.Method, &t.ProviderOrderID, &t.ProviderPaymentID,
		&t.Amount, &t.Currency, &t.Status, &t.FailureReason, &t.RefundReason, &t.PollAttempts, &lastPolled,
		&confirmedBy, &settlement, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return err
	}
	t.LastPolledAt = nullTime(lastPolled)
	t.ConfirmedBy = nullUint(confirmedBy)
	t.SettlementID = nullUint(settlement)
	return nil
}

// Create inserts a PENDING transaction and populates its ID.
func (r *TransactionRepo) Create(ctx context.Context, t *model.Transaction) error {
	return r.create(ctx, r.db, t)
}

// CreateTx is Create inside the caller's transaction.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx *sql.Tx, t *model.Transaction) error {
	return r.create(ctx, tx, t)
}

func (r *TransactionRepo) create(ctx context.Context, q querier, t *model.Transaction) error {
	if t.Status == "" {
		t.Status = model.TxnPending
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO transactions (booking_id, user_id, method, provider_order_id, amount, currency, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.BookingID, t.UserID, t.Method, t.ProviderOrderID, t.Amount, t.Currency, t.Status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// SetProviderOrder stores the provider's order id once it is known.
func (r *TransactionRepo) SetProviderOrder(ctx context.Context, id uint64, orderID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE transactions SET provider_order_id = ? WHERE id = ?`, orderID, id)
	return err
}

// GetByID returns one transaction.
func (r *TransactionRepo) GetByID(ctx context.Context, id uint64) (model.Transaction, error) {
	var t model.Transaction
	err := scanTxn(r.db.QueryRowContext(ctx, `SELECT `+txnCols+` FROM transactions t WHERE t.id = ?`, id), &t)
	return t, notFound(err)
}

// LockTx reads a transaction with FOR UPDATE.
func (r *TransactionRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Transaction, error) {
	var t model.Transaction
	err := scanTxn(tx.QueryRowContext(ctx, `SELECT `+txnCols+` FROM transactions t WHERE t.id = ? FOR UPDATE`, id), &t)
	return t, notFound(err)
}

// GetByProviderOrder finds the attempt a provider order id belongs to.
func (r *TransactionRepo) GetByProviderOrder(ctx context.Context, method, orderID string) (model.Transaction, error) {
	var t model.Transaction
	err := scanTxn(r.db.QueryRowContext(ctx,
		`SELECT `+txnCols+` FROM transactions t WHERE t.method = ? AND t.provider_order_id = ? ORDER BY t.id DESC LIMIT 1`,
		method, orderID), &t)
	return t, notFound(err)
}

// ListByBooking returns every attempt for a booking, oldest first.
func (r *TransactionRepo) ListByBooking(ctx context.Context, bookingID uint64) ([]model.Transaction, error) {
	return r.list(ctx, `SELECT `+txnCols+` FROM transactions t WHERE t.booking_id = ? ORDER BY t.id`, bookingID)
}

// ListPendingByBookingTx returns the pending attempts of a booking.
func (r *TransactionRepo) ListPendingByBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64) ([]model.Transaction, error) {
	return r.listQ(ctx, tx, `SELECT `+txnCols+` FROM transactions t WHERE t.booking_id = ? AND t.status = ? FOR UPDATE`,
		bookingID, model.TxnPending)
}

// HasSuccessTx reports whether a booking already has a successful payment.
func (r *TransactionRepo) HasSuccessTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE booking_id = ? AND status = ?`, bookingID, model.TxnSuccess).Scan(&n)
	return n > 0, err
}

func (r *TransactionRepo) list(ctx context.Context, q string, args ...any) ([]model.Transaction, error) {
	return r.listQ(ctx, r.db, q, args...)
}

func (r *TransactionRepo) listQ(ctx context.Context, qr querier, q string, args ...any) ([]model.Transaction, error) {
	rows, err := qr.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Transaction, 0)
	for rows.Next() {
		var t model.Transaction
		if err := scanTxn(rows, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkSuccessTx finalises an attempt as paid.  Closed attempts are
// accepted too so a late or retried capture is still recorded; the caller
// decides which closed attempts qualify.
func (r *TransactionRepo) MarkSuccessTx(ctx context.Context, tx *sql.Tx, id uint64, paymentID string, confirmedBy *uint64) error {
	return r.finish(ctx, tx,
		`UPDATE transactions SET status = ?, provider_payment_id = ?, confirmed_by = ?, failure_reason = ''
		 WHERE id = ? AND status <> ?`,
		model.TxnSuccess, paymentID, confirmedBy, id, model.TxnSuccess)
}

// FlagRefundTx marks a successful attempt whose money must be returned.
// Flagged attempts are never settled.
func (r *TransactionRepo) FlagRefundTx(ctx context.Context, tx *sql.Tx, id uint64, reason string) error {
	_, err := tx.ExecContext(ctx, `UPDATE transactions SET refund_reason = ? WHERE id = ?`, reason, id)
	return err
}

// MarkFailedTx finalises a pending attempt as FAILED or TIMEOUT.
func (r *TransactionRepo) MarkFailedTx(ctx context.Context, tx *sql.Tx, id uint64, status, reason string, confirmedBy *uint64) error {
	return r.finish(ctx, tx,
		`UPDATE transactions SET status = ?, failure_reason = ?, confirmed_by = ? WHERE id = ? AND status = ?`,
		status, reason, confirmedBy, id, model.TxnPending)
}

func (r *TransactionRepo) finish(ctx context.Context, tx *sql.Tx, q string, args ...any) error {
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// ListDueForPoll returns transactions of method whose next status check
// is due at now.  Pending attempts always qualify.  Attempts closed only
// because their booking expired or was cancelled qualify while they were
// created at or after lateSince, since the customer may still pay them.
// The next check of an attempt is scheduled at last_polled_at + interval +
// poll_attempts*step (created_at stands in before the first poll), which
// backs off linearly.
func (r *TransactionRepo) ListDueForPoll(ctx context.Context, method string, now, lateSince time.Time, interval, step time.Duration, limit int) ([]model.Transaction, error) {
	q := `SELECT ` + txnCols + ` FROM transactions t
	      WHERE t.method = ?
	        AND (t.status = ? OR (t.status IN (?, ?) AND t.failure_reason IN (?, ?) AND t.created_at >= ?))
	        AND DATE_ADD(COALESCE(t.last_polled_at, t.created_at),
	                     INTERVAL (? + t.poll_attempts * ?) SECOND) <= ?
	      ORDER BY COALESCE(t.last_polled_at, t.created_at)
	      LIMIT ?`
	return r.list(ctx, q, method, model.TxnPending,
		model.TxnTimeout, model.TxnFailed, model.ReasonBookingExpired, model.ReasonBookingCancelled, lateSince.UTC(),
		int64(interval/time.Second), int64(step/time.Second), now.UTC(), limit)
}

// RecordPoll increments the poll counter of an unpaid attempt and returns
// the new attempt count.
func (r *TransactionRepo) RecordPoll(ctx context.Context, id uint64, now time.Time) (int, error) {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET poll_attempts = poll_attempts + 1, last_polled_at = ? WHERE id = ? AND status <> ?`,
		now.UTC(), id, model.TxnSuccess); err != nil {
		return 0, err
	}
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT poll_attempts FROM transactions WHERE id = ?`, id).Scan(&n)
	return n, notFound(err)
}

// UnsettledTotalsTx sums successful online payments on ownerID's halls
// created in [from, to) that are not yet part of a settlement, locking
// them for linking.  Money owed back to the student is left out: attempts
// flagged for refund and payments of bookings marked REFUNDED.
func (r *TransactionRepo) UnsettledTotalsTx(ctx context.Context, tx *sql.Tx, ownerID uint64, from, to time.Time) ([]uint64, decimal.Decimal, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT t.id, t.amount FROM transactions t
		 JOIN bookings b    ON b.id = t.booking_id
		 JOIN study_halls h ON h.id = b.study_hall_id
		 WHERE h.owner_id = ? AND t.status = ? AND t.method IN (?, ?)
		   AND t.refund_reason = '' AND b.payment_status <> ?
		   AND t.settlement_id IS NULL AND t.created_at >= ? AND t.created_at < ?
		 FOR UPDATE`,
		ownerID, model.TxnSuccess, model.MethodRazorpay, model.MethodEKQR, model.PaymentRefunded, from.UTC(), to.UTC())
	if err != nil {
		return nil, decimal.Zero, err
	}
	defer rows.Close()
	var ids []uint64
	gross := decimal.Zero
	for rows.Next() {
		var id uint64
		var amt decimal.Decimal
		if err := rows.Scan(&id, &amt); err != nil {
			return nil, decimal.Zero, err
		}
		ids = append(ids, id)
		gross = gross.Add(amt)
	}
	return ids, gross, rows.Err()
}

// LinkSettlementTx attaches transactions to a settlement.
func (r *TransactionRepo) LinkSettlementTx(ctx context.Context, tx *sql.Tx, settlementID uint64, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{settlementID}, idArgs(ids)...)
	_, err := tx.ExecContext(ctx,
		`UPDATE transactions SET settlement_id = ? WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	return err
}
