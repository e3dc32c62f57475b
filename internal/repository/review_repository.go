package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/studyhall-marketplace/internal/database"
	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// ReviewRepo stores hall reviews; one per booking.
type ReviewRepo struct{ db *sql.DB }

func NewReviewRepo(db *sql.DB) *ReviewRepo { return &ReviewRepo{db: db} }

// Create inserts a review.  A second review for the same booking is
// ErrConflict.
func (r *ReviewRepo) Create(ctx context.Context, rv *model.Review) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO reviews (booking_id, user_id, study_hall_id, rating, comment) VALUES (?, ?, ?, ?, ?)`,
		rv.BookingID, rv.UserID, rv.StudyHallID, rv.Rating, rv.Comment)
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
	rv.ID = uint64(id)
	return nil
}

// ListVisibleByHall returns non-hidden reviews of a hall, newest first.
func (r *ReviewRepo) ListVisibleByHall(ctx context.Context, hallID uint64, p Page) ([]model.Review, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT rv.id, rv.booking_id, rv.user_id, rv.study_hall_id, rv.rating, COALESCE(rv.comment, ''),
		        rv.is_hidden, u.full_name, rv.created_at
		 FROM reviews rv JOIN users u ON u.id = rv.user_id
		 WHERE rv.study_hall_id = ? AND rv.is_hidden = 0
		 ORDER BY rv.created_at DESC, rv.id DESC
		 LIMIT ? OFFSET ?`, hallID, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Review, 0)
	for rows.Next() {
		var rv model.Review
		if err := rows.Scan(&rv.ID, &rv.BookingID, &rv.UserID, &rv.StudyHallID, &rv.Rating, &rv.Comment,
			&rv.IsHidden, &rv.AuthorName, &rv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

// Hide removes a review from public listings.
func (r *ReviewRepo) Hide(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE reviews SET is_hidden = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM reviews WHERE id = ?`, id).Scan(&exists); err != nil {
			return notFound(err)
		}
	}
	return nil
}
