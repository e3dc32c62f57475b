package repository

import (
    "context"
    "database/sql"
    "strings"
    "time"

    "github.com/iliyamo/studyhall-marketplace/internal/model"
)

// BookingRepo provides persistence for seat bookings.  Booking dates are
// DATE columns holding UTC calendar days; the range is inclusive on both
// ends.  Every state change is guarded by the expected current status in
// the WHERE clause so racing writers cannot move a booking twice.
type BookingRepo struct {
    db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// DB exposes the underlying sql.DB so services can open transactions
// spanning several repositories.
func (r *BookingRepo) DB() *sql.DB { return r.db }

const bookingCols = `b.id, b.reference, b.user_id, b.study_hall_id, b.seat_id, b.start_date, b.end_date, b.days,
    b.base_amount, b.coupon_id, b.coupon_discount, b.points_redeemed, b.points_discount, b.final_amount,
    b.status, b.payment_status, b.payment_method, b.expires_at, b.cancelled_at, b.cancel_reason,
    b.created_at, b.updated_at`

const bookingDetailFrom = ` FROM bookings b
    JOIN study_halls h ON h.id = b.study_hall_id
    JOIN seats s       ON s.id = b.seat_id
    JOIN users u       ON u.id = b.user_id`

const bookingDetailSelect = `SELECT ` + bookingCols + `, h.name, s.label, u.full_name, u.email, u.phone, h.owner_id` + bookingDetailFrom

// activeBookingCond matches bookings that occupy their seat at the time
// bound to its single placeholder.
const activeBookingCond = `(b.status = 'CONFIRMED' OR (b.status = 'PENDING_PAYMENT' AND b.expires_at > ?))`

func scanBooking(sc scanner, b *model.Booking, extra ...any) error {
    var (
        couponID    sql.NullInt64
        expiresAt   sql.NullTime
        cancelledAt sql.NullTime
    )
    dest := []any{
        &b.ID, &b.Reference, &b.UserID, &b.StudyHallID, &b.SeatID, &b.StartDate, &b.EndDate, &b.Days,
        &b.BaseAmount, &couponID, &b.CouponDiscount, &b.PointsRedeemed, &b.PointsDiscount, &b.FinalAmount,
        &b.Status, &b.PaymentStatus, &b.PaymentMethod, &expiresAt, &cancelledAt, &b.CancelReason,
        &b.CreatedAt, &b.UpdatedAt,
    }
    if err := sc.Scan(append(dest, extra...)...); err != nil {
        return err
    }
    b.CouponID = nullUint(couponID)
    b.ExpiresAt = nullTime(expiresAt)
    b.CancelledAt = nullTime(cancelledAt)
    return nil
}

func scanBookingDetail(sc scanner, d *model.BookingDetail) error {
    return scanBooking(sc, &d.Booking, &d.HallName, &d.SeatLabel, &d.StudentName, &d.StudentEmail, &d.StudentPhone, &d.OwnerID)
}

// CreateTx inserts a booking within the caller's transaction and
// populates the generated ID.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
    const q = `INSERT INTO bookings (reference, user_id, study_hall_id, seat_id, start_date, end_date, days,
                   base_amount, coupon_id, coupon_discount, points_redeemed, points_discount, final_amount,
                   status, payment_status, payment_method, expires_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
    res, err := tx.ExecContext(ctx, q,
        b.Reference, b.UserID, b.StudyHallID, b.SeatID, b.StartDate, b.EndDate, b.Days,
        b.BaseAmount, b.CouponID, b.CouponDiscount, b.PointsRedeemed, b.PointsDiscount, b.FinalAmount,
        b.Status, b.PaymentStatus, b.PaymentMethod, b.ExpiresAt)
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    b.ID = uint64(id)
    return nil
}

// GetByID returns a booking without joins.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (model.Booking, error) {
    var b model.Booking
    err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingCols+` FROM bookings b WHERE b.id = ?`, id), &b)
    return b, notFound(err)
}

// LockTx reads a booking with FOR UPDATE inside tx.
func (r *BookingRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Booking, error) {
    var b model.Booking
    err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingCols+` FROM bookings b WHERE b.id = ? FOR UPDATE`, id), &b)
    return b, notFound(err)
}

// GetDetail returns a booking with hall, seat and student display fields.
func (r *BookingRepo) GetDetail(ctx context.Context, id uint64) (model.BookingDetail, error) {
    var d model.BookingDetail
    err := scanBookingDetail(r.db.QueryRowContext(ctx, bookingDetailSelect+` WHERE b.id = ?`, id), &d)
    return d, notFound(err)
}

// HasOverlapTx reports whether another booking occupies seatID on any day
// of [start, end] at now.  excludeID skips the booking being re-checked
// (0 checks against all bookings).
func (r *BookingRepo) HasOverlapTx(ctx context.Context, tx *sql.Tx, seatID uint64, start, end, now time.Time, excludeID uint64) (bool, error) {
    q := `SELECT COUNT(*) FROM bookings b
          WHERE b.seat_id = ? AND b.start_date <= ? AND b.end_date >= ? AND b.id <> ? AND ` + activeBookingCond
    var n int
    if err := tx.QueryRowContext(ctx, q, seatID, end, start, excludeID, now).Scan(&n); err != nil {
        return false, err
    }
    return n > 0, nil
}

// BookedSeatIDs returns the seats of hallID that are occupied on at least
// one day of [start, end] at now.
func (r *BookingRepo) BookedSeatIDs(ctx context.Context, hallID uint64, start, end, now time.Time) (map[uint64]bool, error) {
    q := `SELECT DISTINCT b.seat_id FROM bookings b
          WHERE b.study_hall_id = ? AND b.start_date <= ? AND b.end_date >= ? AND ` + activeBookingCond
    rows, err := r.db.QueryContext(ctx, q, hallID, end, start, now)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := make(map[uint64]bool)
    for rows.Next() {
        var id uint64
        if err := rows.Scan(&id); err != nil {
            return nil, err
        }
        out[id] = true
    }
    return out, rows.Err()
}

// BookingFilter narrows booking listings for back-office surfaces.  Zero
// values disable a filter.  From/To select bookings whose stay overlaps
// the given dates.
type BookingFilter struct {
    UserID  uint64
    OwnerID uint64
    HallIDs []uint64
    HallID  uint64
    Status  string
    From    *time.Time
    To      *time.Time
    Page    Page
}

// List returns bookings matching f, newest first.  A filter with HallIDs
// set but empty matches nothing.
func (r *BookingRepo) List(ctx context.Context, f BookingFilter) ([]model.BookingDetail, error) {
    where := []string{"1=1"}
    args := []any{}
    if f.UserID != 0 {
        where = append(where, "b.user_id = ?")
        args = append(args, f.UserID)
    }
    if f.OwnerID != 0 {
        where = append(where, "h.owner_id = ?")
        args = append(args, f.OwnerID)
    }
    if f.HallIDs != nil {
        if len(f.HallIDs) == 0 {
            return []model.BookingDetail{}, nil
        }
        where = append(where, "b.study_hall_id IN ("+placeholders(len(f.HallIDs))+")")
        args = append(args, idArgs(f.HallIDs)...)
    }
    if f.HallID != 0 {
        where = append(where, "b.study_hall_id = ?")
        args = append(args, f.HallID)
    }
    if f.Status != "" {
        where = append(where, "b.status = ?")
        args = append(args, f.Status)
    }
    if f.From != nil {
        where = append(where, "b.end_date >= ?")
        args = append(args, *f.From)
    }
    if f.To != nil {
        where = append(where, "b.start_date <= ?")
        args = append(args, *f.To)
    }
    q := bookingDetailSelect + ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY b.created_at DESC, b.id DESC`
    if f.Page.Limit > 0 {
        q += ` LIMIT ? OFFSET ?`
        args = append(args, f.Page.Limit, f.Page.Offset)
    }
    return r.listDetails(ctx, q, args...)
}

// Search finds bookings for customer care by exact reference, or by the
// student's email or phone.
func (r *BookingRepo) Search(ctx context.Context, term string, limit int) ([]model.BookingDetail, error) {
    term = strings.TrimSpace(term)
    if term == "" {
        return []model.BookingDetail{}, nil
    }
    q := bookingDetailSelect + ` WHERE b.reference = ? OR u.email = ? OR u.phone = ?
        ORDER BY b.created_at DESC LIMIT ?`
    return r.listDetails(ctx, q, strings.ToUpper(term), strings.ToLower(term), term, limit)
}

func (r *BookingRepo) listDetails(ctx context.Context, q string, args ...any) ([]model.BookingDetail, error) {
    rows, err := r.db.QueryContext(ctx, q, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := make([]model.BookingDetail, 0)
    for rows.Next() {
        var d model.BookingDetail
        if err := scanBookingDetail(rows, &d); err != nil {
            return nil, err
        }
        out = append(out, d)
    }
    return out, rows.Err()
}

// ConfirmTx marks a booking CONFIRMED and PAID via method and clears its
// expiry.  Allowed from PENDING_PAYMENT and EXPIRED.
func (r *BookingRepo) ConfirmTx(ctx context.Context, tx *sql.Tx, id uint64, method string) error {
    return r.transition(ctx, tx,
        `UPDATE bookings SET status = ?, payment_status = ?, payment_method = ?, expires_at = NULL
         WHERE id = ? AND status IN (?, ?)`,
        model.BookingConfirmed, model.PaymentPaid, method, id, model.BookingPendingPayment, model.BookingExpired)
}

// SetPaymentTx records the payment state and rail of an unpaid booking.
func (r *BookingRepo) SetPaymentTx(ctx context.Context, tx *sql.Tx, id uint64, paymentStatus, method string) error {
    _, err := tx.ExecContext(ctx,
        `UPDATE bookings SET payment_status = ?, payment_method = ? WHERE id = ? AND payment_status <> ?`,
        paymentStatus, method, id, model.PaymentPaid)
    return err
}

// ExtendExpiryTx moves the payment deadline of a pending booking.
func (r *BookingRepo) ExtendExpiryTx(ctx context.Context, tx *sql.Tx, id uint64, expiresAt time.Time) error {
    return r.transition(ctx, tx,
        `UPDATE bookings SET expires_at = ? WHERE id = ? AND status = ?`,
        expiresAt.UTC(), id, model.BookingPendingPayment)
}

// CancelTx cancels a pending or confirmed booking.
func (r *BookingRepo) CancelTx(ctx context.Context, tx *sql.Tx, id uint64, paymentStatus, reason string, now time.Time) error {
    return r.transition(ctx, tx,
        `UPDATE bookings SET status = ?, payment_status = ?, cancel_reason = ?, cancelled_at = ?, expires_at = NULL
         WHERE id = ? AND status IN (?, ?)`,
        model.BookingCancelled, paymentStatus, reason, now.UTC(), id, model.BookingPendingPayment, model.BookingConfirmed)
}

// ExpireTx moves a pending booking to EXPIRED.
func (r *BookingRepo) ExpireTx(ctx context.Context, tx *sql.Tx, id uint64) error {
    return r.transition(ctx, tx,
        `UPDATE bookings SET status = ?, payment_status = CASE WHEN payment_status = ? THEN ? ELSE payment_status END
         WHERE id = ? AND status = ?`,
        model.BookingExpired, model.PaymentPending, model.PaymentUnpaid, id, model.BookingPendingPayment)
}

// FlagRefundTx records that money was captured for a booking that can no
// longer be honoured.
func (r *BookingRepo) FlagRefundTx(ctx context.Context, tx *sql.Tx, id uint64, reason string) error {
    _, err := tx.ExecContext(ctx,
        `UPDATE bookings SET payment_status = ?, cancel_reason = ? WHERE id = ?`,
        model.PaymentRefunded, reason, id)
    return err
}

func (r *BookingRepo) transition(ctx context.Context, tx *sql.Tx, q string, args ...any) error {
    res, err := tx.ExecContext(ctx, q, args...)
    if err != nil {
        return err
    }
    if n, _ := res.RowsAffected(); n == 0 {
        return ErrConflict
    }
    return nil
}

// ListExpiredIDs returns pending bookings whose deadline passed before now.
func (r *BookingRepo) ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT id FROM bookings WHERE status = ? AND expires_at <= ? ORDER BY expires_at LIMIT ?`,
        model.BookingPendingPayment, now.UTC(), limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var ids []uint64
    for rows.Next() {
        var id uint64
        if err := rows.Scan(&id); err != nil {
            return nil, err
        }
        ids = append(ids, id)
    }
    return ids, rows.Err()
}

// CompleteFinished marks confirmed bookings whose last day is before
// today as COMPLETED and returns how many changed.
func (r *BookingRepo) CompleteFinished(ctx context.Context, today time.Time) (int64, error) {
    res, err := r.db.ExecContext(ctx,
        `UPDATE bookings SET status = ? WHERE status = ? AND end_date < ?`,
        model.BookingCompleted, model.BookingConfirmed, today)
    if err != nil {
        return 0, err
    }
    return res.RowsAffected()
}
