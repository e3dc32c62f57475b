package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// InchargeRepo links incharge users to the halls they operate.
type InchargeRepo struct{ db *sql.DB }

func NewInchargeRepo(db *sql.DB) *InchargeRepo { return &InchargeRepo{db: db} }

// AssignTx grants inchargeID access to hallID.  Existing assignments are
// left untouched.
func (r *InchargeRepo) AssignTx(ctx context.Context, tx *sql.Tx, inchargeID, hallID, merchantID uint64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO incharge_assignments (incharge_id, study_hall_id, merchant_id) VALUES (?, ?, ?)`,
		inchargeID, hallID, merchantID)
	return err
}

// Unassign removes one hall from an incharge of merchantID.
func (r *InchargeRepo) Unassign(ctx context.Context, merchantID, inchargeID, hallID uint64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM incharge_assignments WHERE incharge_id = ? AND study_hall_id = ? AND merchant_id = ?`,
		inchargeID, hallID, merchantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HallIDs returns the halls assigned to inchargeID.
func (r *InchargeRepo) HallIDs(ctx context.Context, inchargeID uint64) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT study_hall_id FROM incharge_assignments WHERE incharge_id = ? ORDER BY study_hall_id`, inchargeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]uint64, 0)
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsAssigned reports whether inchargeID may operate hallID.
func (r *InchargeRepo) IsAssigned(ctx context.Context, inchargeID, hallID uint64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incharge_assignments WHERE incharge_id = ? AND study_hall_id = ?`,
		inchargeID, hallID).Scan(&n)
	return n > 0, err
}

// ListByMerchant returns merchantID's incharges with their assigned halls.
func (r *InchargeRepo) ListByMerchant(ctx context.Context, merchantID uint64) ([]model.Incharge, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.phone, u.full_name, u.role, u.is_active, u.created_at, u.updated_at, a.study_hall_id
		 FROM incharge_assignments a
		 JOIN users u ON u.id = a.incharge_id
		 WHERE a.merchant_id = ?
		 ORDER BY u.id, a.study_hall_id`, merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Incharge, 0)
	index := make(map[uint64]int)
	for rows.Next() {
		var u model.User
		var hallID uint64
		if err := rows.Scan(&u.ID, &u.Email, &u.Phone, &u.FullName, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt, &hallID); err != nil {
			return nil, err
		}
		idx, ok := index[u.ID]
		if !ok {
			idx = len(out)
			index[u.ID] = idx
			out = append(out, model.Incharge{User: u, StudyHallIDs: []uint64{}})
		}
		out[idx].StudyHallIDs = append(out[idx].StudyHallIDs, hallID)
	}
	return out, rows.Err()
}
