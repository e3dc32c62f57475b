package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// EnquiryRepo stores public leads for the telemarketing team.
type EnquiryRepo struct{ db *sql.DB }

func NewEnquiryRepo(db *sql.DB) *EnquiryRepo { return &EnquiryRepo{db: db} }

const enquiryCols = `id, name, phone, email, study_hall_id, COALESCE(message, ''), status, COALESCE(notes, ''),
	assigned_to, created_at, updated_at`

func scanEnquiry(sc scanner, e *model.Enquiry) error {
	var hall, assigned sql.NullInt64
	if err := sc.Scan(&e.ID, &e.Name, &e.Phone, &e.Email, &hall, &e.Message, &e.Status, &e.Notes,
		&assigned, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return err
	}
	e.StudyHallID = nullUint(hall)
	e.AssignedTo = nullUint(assigned)
	return nil
}

// Create inserts a NEW enquiry.
func (r *EnquiryRepo) Create(ctx context.Context, e *model.Enquiry) error {
	e.Status = model.EnquiryNew
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO enquiries (name, phone, email, study_hall_id, message, status) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Name, e.Phone, e.Email, e.StudyHallID, e.Message, e.Status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// List returns enquiries, optionally filtered by status, oldest open first.
func (r *EnquiryRepo) List(ctx context.Context, status string, p Page) ([]model.Enquiry, error) {
	q := `SELECT ` + enquiryCols + ` FROM enquiries`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, p.Limit, p.Offset)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Enquiry, 0)
	for rows.Next() {
		var e model.Enquiry
		if err := scanEnquiry(rows, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Update sets status and notes and assigns the enquiry to agentID.
func (r *EnquiryRepo) Update(ctx context.Context, id uint64, status, notes string, agentID uint64) (model.Enquiry, error) {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE enquiries SET status = ?, notes = ?, assigned_to = ? WHERE id = ?`,
		status, notes, agentID, id); err != nil {
		return model.Enquiry{}, err
	}
	var e model.Enquiry
	err := scanEnquiry(r.db.QueryRowContext(ctx, `SELECT `+enquiryCols+` FROM enquiries WHERE id = ?`, id), &e)
	return e, notFound(err)
}
