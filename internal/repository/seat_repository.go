package repository // repository defines data access for seats

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// SeatRepo provides methods to work with seats in the database.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

const seatCols = `s.id, s.study_hall_id, s.label, s.row_label, s.col_number, s.is_active`

func scanSeat(sc scanner, s *model.Seat) error {
	return sc.Scan(&s.ID, &s.StudyHallID, &s.Label, &s.RowLabel, &s.ColNumber, &s.IsActive)
}

// CreateBulk inserts multiple seats in a single statement.  Seats whose
// label already exists in the hall are skipped by the unique key, which
// makes re-running the generator safe.  It returns the number inserted.
func (r *SeatRepo) CreateBulk(ctx context.Context, seats []model.Seat) (int64, error) {
	if len(seats) == 0 {
		return 0, nil
	}
	var b strings.Builder
	b.WriteString(`INSERT IGNORE INTO seats (study_hall_id, label, row_label, col_number) VALUES `)
	args := make([]any, 0, len(seats)*4)
	for i, seat := range seats {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?, ?, ?, ?)")
		args = append(args, seat.StudyHallID, seat.Label, seat.RowLabel, seat.ColNumber)
	}
	res, err := r.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListByHall retrieves all seats of a hall ordered by row then column.
// When activeOnly is set, deactivated seats are omitted.
func (r *SeatRepo) ListByHall(ctx context.Context, hallID uint64, activeOnly bool) ([]model.Seat, error) {
	q := `SELECT ` + seatCols + ` FROM seats s WHERE s.study_hall_id = ?`
	if activeOnly {
		q += ` AND s.is_active = 1`
	}
	q += ` ORDER BY LENGTH(s.row_label), s.row_label, s.col_number`
	rows, err := r.db.QueryContext(ctx, q, hallID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]model.Seat, 0)
	for rows.Next() {
		var s model.Seat
		if err := scanSeat(rows, &s); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetByID retrieves a seat by its id (no ownership check).
func (r *SeatRepo) GetByID(ctx context.Context, id uint64) (model.Seat, error) {
	var s model.Seat
	err := scanSeat(r.db.QueryRowContext(ctx, `SELECT `+seatCols+` FROM seats s WHERE s.id = ?`, id), &s)
	return s, notFound(err)
}

// LockTx reads the seat row with FOR UPDATE so concurrent checkouts for
// the same seat serialise on it until the caller's transaction ends.
func (r *SeatRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Seat, error) {
	var s model.Seat
	err := scanSeat(tx.QueryRowContext(ctx, `SELECT `+seatCols+` FROM seats s WHERE s.id = ? FOR UPDATE`, id), &s)
	return s, notFound(err)
}

// SetActiveByOwner toggles a seat while enforcing that its hall belongs
// to ownerID.  Returns ErrNotFound when the seat is missing or foreign.
func (r *SeatRepo) SetActiveByOwner(ctx context.Context, id, ownerID uint64, active bool) (model.Seat, error) {
	const q = `UPDATE seats s
	           JOIN study_halls h ON h.id = s.study_hall_id
	           SET s.is_active = ?
	           WHERE s.id = ? AND h.owner_id = ?`
	if _, err := r.db.ExecContext(ctx, q, active, id, ownerID); err != nil {
		return model.Seat{}, err
	}
	var s model.Seat
	err := scanSeat(r.db.QueryRowContext(ctx,
		`SELECT `+seatCols+` FROM seats s JOIN study_halls h ON h.id = s.study_hall_id WHERE s.id = ? AND h.owner_id = ?`,
		id, ownerID), &s)
	return s, notFound(err)
}
