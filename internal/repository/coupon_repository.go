package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/studyhall-marketplace/internal/database"
	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// CouponRepo manages coupons and their per-booking redemptions.
type CouponRepo struct{ db *sql.DB }

func NewCouponRepo(db *sql.DB) *CouponRepo { return &CouponRepo{db: db} }

const couponCols = `id, code, description, discount_type, discount_value, max_discount, min_amount,
	study_hall_id, valid_from, valid_until, usage_limit, per_user_limit, used_count, is_active,
	created_by, created_at`

func scanCoupon(sc scanner, c *model.Coupon) error {
	var hall sql.NullInt64
	if err := sc.Scan(&c.ID, &c.Code, &c.Description, &c.DiscountType, &c.DiscountValue, &c.MaxDiscount,
		&c.MinAmount, &hall, &c.ValidFrom, &c.ValidUntil, &c.UsageLimit, &c.PerUserLimit, &c.UsedCount,
		&c.IsActive, &c.CreatedBy, &c.CreatedAt); err != nil {
		return err
	}
	c.StudyHallID = nullUint(hall)
	return nil
}

// NormalizeCode upper-cases and trims a coupon code.
func NormalizeCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// Create inserts a coupon.  Duplicate codes yield ErrConflict.
func (r *CouponRepo) Create(ctx context.Context, c *model.Coupon) error {
	c.Code = NormalizeCode(c.Code)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO coupons (code, description, discount_type, discount_value, max_discount, min_amount,
		     study_hall_id, valid_from, valid_until, usage_limit, per_user_limit, is_active, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Code, c.Description, c.DiscountType, c.DiscountValue, c.MaxDiscount, c.MinAmount,
		c.StudyHallID, c.ValidFrom.UTC(), c.ValidUntil.UTC(), c.UsageLimit, c.PerUserLimit, c.IsActive, c.CreatedBy)
	if err != nil {
		if database.IsDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = uint64(id)
	return nil
}

// List returns all coupons, newest first.
func (r *CouponRepo) List(ctx context.Context) ([]model.Coupon, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+couponCols+` FROM coupons ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Coupon, 0)
	for rows.Next() {
		var c model.Coupon
		if err := scanCoupon(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetByCode looks a coupon up by its normalised code.
func (r *CouponRepo) GetByCode(ctx context.Context, code string) (model.Coupon, error) {
	return r.getByCode(ctx, r.db, code, "")
}

// LockByCodeTx reads a coupon with FOR UPDATE so usage counts are checked
// and incremented atomically with the booking insert.
func (r *CouponRepo) LockByCodeTx(ctx context.Context, tx *sql.Tx, code string) (model.Coupon, error) {
	return r.getByCode(ctx, tx, code, " FOR UPDATE")
}

func (r *CouponRepo) getByCode(ctx context.Context, q querier, code, suffix string) (model.Coupon, error) {
	var c model.Coupon
	err := scanCoupon(q.QueryRowContext(ctx, `SELECT `+couponCols+` FROM coupons WHERE code = ?`+suffix, NormalizeCode(code)), &c)
	return c, notFound(err)
}

// SetActive toggles a coupon.
func (r *CouponRepo) SetActive(ctx context.Context, id uint64, active bool) (model.Coupon, error) {
	if _, err := r.db.ExecContext(ctx, `UPDATE coupons SET is_active = ? WHERE id = ?`, active, id); err != nil {
		return model.Coupon{}, err
	}
	var c model.Coupon
	err := scanCoupon(r.db.QueryRowContext(ctx, `SELECT `+couponCols+` FROM coupons WHERE id = ?`, id), &c)
	return c, notFound(err)
}

// UserRedemptions counts how often userID has redeemed couponID.
func (r *CouponRepo) UserRedemptions(ctx context.Context, couponID, userID uint64) (int, error) {
	return r.userRedemptions(ctx, r.db, couponID, userID)
}

// UserRedemptionsTx is UserRedemptions inside a transaction.
func (r *CouponRepo) UserRedemptionsTx(ctx context.Context, tx *sql.Tx, couponID, userID uint64) (int, error) {
	return r.userRedemptions(ctx, tx, couponID, userID)
}

func (r *CouponRepo) userRedemptions(ctx context.Context, q querier, couponID, userID uint64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = ? AND user_id = ?`, couponID, userID).Scan(&n)
	return n, err
}

// RedeemTx records that bookingID used couponID and bumps the usage
// counter.  Redeeming the same booking twice is a no-op.
func (r *CouponRepo) RedeemTx(ctx context.Context, tx *sql.Tx, couponID, userID, bookingID uint64) error {
	res, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO coupon_redemptions (coupon_id, user_id, booking_id) VALUES (?, ?, ?)`,
		couponID, userID, bookingID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, `UPDATE coupons SET used_count = used_count + 1 WHERE id = ?`, couponID)
	return err
}

// ReleaseTx undoes the redemption of couponID by bookingID so a cancelled
// booking no longer counts against the coupon's limits.  Releasing a
// booking that never redeemed is a no-op.
func (r *CouponRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, couponID, bookingID uint64) error {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM coupon_redemptions WHERE coupon_id = ? AND booking_id = ?`, couponID, bookingID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE coupons SET used_count = used_count - 1 WHERE id = ? AND used_count > 0`, couponID)
	return err
}
