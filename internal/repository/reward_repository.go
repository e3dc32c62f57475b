package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// RewardRepo is an append-only points ledger.  A user's balance is the sum
// of their rows.
type RewardRepo struct{ db *sql.DB }

func NewRewardRepo(db *sql.DB) *RewardRepo { return &RewardRepo{db: db} }

// Balance returns the current points balance of userID.
func (r *RewardRepo) Balance(ctx context.Context, userID uint64) (int, error) {
	return r.balance(ctx, r.db, userID, "")
}

// BalanceTx reads the balance while locking the user's ledger rows, so two
// checkouts cannot spend the same points.
func (r *RewardRepo) BalanceTx(ctx context.Context, tx *sql.Tx, userID uint64) (int, error) {
	return r.balance(ctx, tx, userID, " FOR UPDATE")
}

func (r *RewardRepo) balance(ctx context.Context, q querier, userID uint64, suffix string) (int, error) {
	var n int
	// FOR UPDATE cannot be applied to an aggregate; lock in a derived table.
	query := `SELECT COALESCE(SUM(points), 0) FROM reward_ledger WHERE user_id = ?`
	if suffix != "" {
		query = `SELECT COALESCE(SUM(points), 0) FROM (SELECT points FROM reward_ledger WHERE user_id = ?` + suffix + `) l`
	}
	err := q.QueryRowContext(ctx, query, userID).Scan(&n)
	return n, err
}

// AddTx appends a ledger row.  Zero-point entries are skipped.
func (r *RewardRepo) AddTx(ctx context.Context, tx *sql.Tx, e model.RewardEntry) error {
	if e.Points == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO reward_ledger (user_id, booking_id, points, reason) VALUES (?, ?, ?, ?)`,
		e.UserID, e.BookingID, e.Points, e.Reason)
	return err
}

// BookingPointsTx returns the net points recorded for bookingID under reason.
func (r *RewardRepo) BookingPointsTx(ctx context.Context, tx *sql.Tx, bookingID uint64, reason string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM reward_ledger WHERE booking_id = ? AND reason = ?`,
		bookingID, reason).Scan(&n)
	return n, err
}

// ListByUser returns the ledger of userID, newest first.
func (r *RewardRepo) ListByUser(ctx context.Context, userID uint64, p Page) ([]model.RewardEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, booking_id, points, reason, created_at FROM reward_ledger
		 WHERE user_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`, userID, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.RewardEntry, 0)
	for rows.Next() {
		var e model.RewardEntry
		var booking sql.NullInt64
		if err := rows.Scan(&e.ID, &e.UserID, &booking, &e.Points, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.BookingID = nullUint(booking)
		out = append(out, e)
	}
	return out, rows.Err()
}
