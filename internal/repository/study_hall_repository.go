package repository // repository holds data access logic for domain entities

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

const hallCols = `h.id, h.owner_id, h.name, COALESCE(h.description, ''), h.address, h.city, h.amenities,
	h.daily_price, h.weekly_price, h.monthly_price, h.status, h.opening_time, h.closing_time,
	h.created_at, h.updated_at`

// StudyHallRepo provides methods to create, edit and search study halls.
type StudyHallRepo struct {
	db *sql.DB
}

// NewStudyHallRepo constructs a StudyHallRepo with the given DB handle.
func NewStudyHallRepo(db *sql.DB) *StudyHallRepo {
	return &StudyHallRepo{db: db}
}

func scanHall(s scanner, h *model.StudyHall, extra ...any) error {
	dest := []any{
		&h.ID, &h.OwnerID, &h.Name, &h.Description, &h.Address, &h.City, &h.Amenities,
		&h.DailyPrice, &h.WeeklyPrice, &h.MonthlyPrice, &h.Status, &h.OpeningTime, &h.ClosingTime,
		&h.CreatedAt, &h.UpdatedAt,
	}
	return s.Scan(append(dest, extra...)...)
}

// Create inserts a new hall in PENDING_APPROVAL and populates its ID and
// timestamps.
func (r *StudyHallRepo) Create(ctx context.Context, h *model.StudyHall) error {
	const q = `INSERT INTO study_halls (owner_id, name, description, address, city, amenities,
	               daily_price, weekly_price, monthly_price, status, opening_time, closing_time)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	h.Status = model.HallPendingApproval
	res, err := r.db.ExecContext(ctx, q, h.OwnerID, h.Name, h.Description, h.Address, h.City, h.Amenities,
		h.DailyPrice, h.WeeklyPrice, h.MonthlyPrice, h.Status, h.OpeningTime, h.ClosingTime)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	created, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*h = created
	return nil
}

// GetByID retrieves a hall regardless of owner or status.
func (r *StudyHallRepo) GetByID(ctx context.Context, id uint64) (model.StudyHall, error) {
	var h model.StudyHall
	err := scanHall(r.db.QueryRowContext(ctx, "SELECT "+hallCols+" FROM study_halls h WHERE h.id = ?", id), &h)
	return h, notFound(err)
}

// GetByIDAndOwner retrieves a hall but only if it belongs to ownerID.
// A hall owned by someone else is reported as ErrNotFound so ids do not
// leak across merchants.
func (r *StudyHallRepo) GetByIDAndOwner(ctx context.Context, id, ownerID uint64) (model.StudyHall, error) {
	var h model.StudyHall
	err := scanHall(r.db.QueryRowContext(ctx,
		"SELECT "+hallCols+" FROM study_halls h WHERE h.id = ? AND h.owner_id = ?", id, ownerID), &h)
	return h, notFound(err)
}

// GetApproved returns a publicly visible hall with its rating aggregate.
func (r *StudyHallRepo) GetApproved(ctx context.Context, id uint64) (model.StudyHall, error) {
	q := `SELECT ` + hallCols + `,
	             (SELECT AVG(rv.rating) FROM reviews rv WHERE rv.study_hall_id = h.id AND rv.is_hidden = 0),
	             (SELECT COUNT(*) FROM reviews rv WHERE rv.study_hall_id = h.id AND rv.is_hidden = 0),
	             (SELECT COUNT(*) FROM seats s WHERE s.study_hall_id = h.id AND s.is_active = 1)
	      FROM study_halls h
	      WHERE h.id = ? AND h.status = ?`
	var h model.StudyHall
	var avg sql.NullFloat64
	err := scanHall(r.db.QueryRowContext(ctx, q, id, model.HallApproved), &h, &avg, &h.ReviewCount, &h.SeatCount)
	if err != nil {
		return h, notFound(err)
	}
	if avg.Valid {
		h.AvgRating = &avg.Float64
	}
	return h, nil
}

// ListByOwner returns all halls of an owner, newest first.
func (r *StudyHallRepo) ListByOwner(ctx context.Context, ownerID uint64) ([]model.StudyHall, error) {
	return r.list(ctx, "SELECT "+hallCols+" FROM study_halls h WHERE h.owner_id = ? ORDER BY h.id DESC", ownerID)
}

// ListByStatus returns halls in a status for the admin approval queue.
// An empty status lists everything.
func (r *StudyHallRepo) ListByStatus(ctx context.Context, status string, p Page) ([]model.StudyHall, error) {
	if status == "" {
		return r.list(ctx, "SELECT "+hallCols+" FROM study_halls h ORDER BY h.id DESC LIMIT ? OFFSET ?", p.Limit, p.Offset)
	}
	return r.list(ctx, "SELECT "+hallCols+" FROM study_halls h WHERE h.status = ? ORDER BY h.id DESC LIMIT ? OFFSET ?",
		status, p.Limit, p.Offset)
}

// ListByIDs returns the halls with the given ids.
func (r *StudyHallRepo) ListByIDs(ctx context.Context, ids []uint64) ([]model.StudyHall, error) {
	if len(ids) == 0 {
		return []model.StudyHall{}, nil
	}
	return r.list(ctx, "SELECT "+hallCols+" FROM study_halls h WHERE h.id IN ("+placeholders(len(ids))+") ORDER BY h.name",
		idArgs(ids)...)
}

func (r *StudyHallRepo) list(ctx context.Context, q string, args ...any) ([]model.StudyHall, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.StudyHall, 0)
	for rows.Next() {
		var h model.StudyHall
		if err := scanHall(rows, &h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// HallSearch defines filters and pagination for the public hall list.
type HallSearch struct {
	City  string
	Query string
	Page  Page
}

// SearchApproved lists APPROVED halls matching the filters together with
// their average rating, review count and active seat count.  The second
// return value is the total number of matches.
func (r *StudyHallRepo) SearchApproved(ctx context.Context, s HallSearch) ([]model.StudyHall, int64, error) {
	where := []string{"h.status = ?"}
	args := []any{model.HallApproved}
	if c := strings.TrimSpace(s.City); c != "" {
		where = append(where, "LOWER(h.city) = ?")
		args = append(args, strings.ToLower(c))
	}
	if q := strings.TrimSpace(s.Query); q != "" {
		where = append(where, "(LOWER(h.name) LIKE ? OR LOWER(h.address) LIKE ? OR LOWER(h.amenities) LIKE ?)")
		like := "%" + strings.ToLower(q) + "%"
		args = append(args, like, like, like)
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM study_halls h WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := `SELECT ` + hallCols + `,
			AVG(rv.rating), COUNT(DISTINCT rv.id),
			(SELECT COUNT(*) FROM seats s WHERE s.study_hall_id = h.id AND s.is_active = 1)
		FROM study_halls h
		LEFT JOIN reviews rv ON rv.study_hall_id = h.id AND rv.is_hidden = 0
		WHERE ` + cond + `
		GROUP BY h.id
		ORDER BY h.name ASC
		LIMIT ? OFFSET ?`
	argsData := append(append([]any{}, args...), s.Page.Limit, s.Page.Offset)

	rows, err := r.db.QueryContext(ctx, dataSQL, argsData...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]model.StudyHall, 0, s.Page.Limit)
	for rows.Next() {
		var h model.StudyHall
		var avg sql.NullFloat64
		if err := scanHall(rows, &h, &avg, &h.ReviewCount, &h.SeatCount); err != nil {
			return nil, 0, err
		}
		if avg.Valid {
			v := avg.Float64
			h.AvgRating = &v
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// UpdateByOwner overwrites the editable fields of a hall and sends it back
// to PENDING_APPROVAL.  Returns ErrNotFound when the hall does not belong
// to the owner.
func (r *StudyHallRepo) UpdateByOwner(ctx context.Context, h *model.StudyHall) error {
	const q = `UPDATE study_halls
	           SET name = ?, description = ?, address = ?, city = ?, amenities = ?,
	               daily_price = ?, weekly_price = ?, monthly_price = ?,
	               opening_time = ?, closing_time = ?, status = ?
	           WHERE id = ? AND owner_id = ?`
	res, err := r.db.ExecContext(ctx, q, h.Name, h.Description, h.Address, h.City, h.Amenities,
		h.DailyPrice, h.WeeklyPrice, h.MonthlyPrice, h.OpeningTime, h.ClosingTime,
		model.HallPendingApproval, h.ID, h.OwnerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByIDAndOwner(ctx, h.ID, h.OwnerID); err != nil {
			return err
		}
	}
	updated, err := r.GetByID(ctx, h.ID)
	if err != nil {
		return err
	}
	*h = updated
	return nil
}

// SetStatus moves a hall through the approval workflow.
func (r *StudyHallRepo) SetStatus(ctx context.Context, id uint64, status string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE study_halls SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteByOwner removes a hall and its seats.  Halls with CONFIRMED
// bookings ending on or after today are refused with ErrConflict; halls
// with any booking history are deactivated instead of deleted so the
// financial record stays intact.
func (r *StudyHallRepo) DeleteByOwner(ctx context.Context, id, ownerID uint64, today time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var owner uint64
	if err := tx.QueryRowContext(ctx, "SELECT owner_id FROM study_halls WHERE id = ? FOR UPDATE", id).Scan(&owner); err != nil {
		return notFound(err)
	}
	if owner != ownerID {
		return ErrForbidden
	}
	var upcoming, history int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(CASE WHEN status = ? AND end_date >= ? THEN 1 END), COUNT(*)
		 FROM bookings WHERE study_hall_id = ?`,
		model.BookingConfirmed, today, id).Scan(&upcoming, &history); err != nil {
		return err
	}
	if upcoming > 0 {
		return ErrConflict
	}
	if history > 0 {
		if _, err := tx.ExecContext(ctx, "UPDATE study_halls SET status = ? WHERE id = ?", model.HallInactive, id); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, "DELETE FROM study_halls WHERE id = ?", id); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
