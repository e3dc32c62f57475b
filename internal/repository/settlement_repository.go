package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
)

// SettlementRepo stores merchant payouts.
type SettlementRepo struct{ db *sql.DB }

func NewSettlementRepo(db *sql.DB) *SettlementRepo { return &SettlementRepo{db: db} }

// DB exposes the handle for transactions spanning transactions and settlements.
func (r *SettlementRepo) DB() *sql.DB { return r.db }

const settlementCols = `id, merchant_id, period_start, period_end, gross_amount, commission_amount, net_amount,
	transaction_count, status, payout_reference, created_by, paid_at, created_at`

func scanSettlement(sc scanner, s *model.Settlement) error {
	var paid sql.NullTime
	if err := sc.Scan(&s.ID, &s.MerchantID, &s.PeriodStart, &s.PeriodEnd, &s.GrossAmount, &s.CommissionAmount,
		&s.NetAmount, &s.TransactionCount, &s.Status, &s.PayoutReference, &s.CreatedBy, &paid, &s.CreatedAt); err != nil {
		return err
	}
	s.PaidAt = nullTime(paid)
	return nil
}

// CreateTx inserts a PENDING settlement.
func (r *SettlementRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Settlement) error {
	s.Status = model.SettlementPending
	res, err := tx.ExecContext(ctx,
		`INSERT INTO settlements (merchant_id, period_start, period_end, gross_amount, commission_amount,
		     net_amount, transaction_count, status, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.MerchantID, s.PeriodStart.UTC(), s.PeriodEnd.UTC(), s.GrossAmount, s.CommissionAmount,
		s.NetAmount, s.TransactionCount, s.Status, s.CreatedBy)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// GetByID returns one settlement.
func (r *SettlementRepo) GetByID(ctx context.Context, id uint64) (model.Settlement, error) {
	var s model.Settlement
	err := scanSettlement(r.db.QueryRowContext(ctx, `SELECT `+settlementCols+` FROM settlements WHERE id = ?`, id), &s)
	return s, notFound(err)
}

// List returns settlements filtered by merchant and status, newest first.
func (r *SettlementRepo) List(ctx context.Context, merchantID uint64, status string) ([]model.Settlement, error) {
	where := []string{"1=1"}
	args := []any{}
	if merchantID != 0 {
		where = append(where, "merchant_id = ?")
		args = append(args, merchantID)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+settlementCols+` FROM settlements WHERE `+strings.Join(where, " AND ")+` ORDER BY id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Settlement, 0)
	for rows.Next() {
		var s model.Settlement
		if err := scanSettlement(rows, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkPaid records the payout of a pending settlement.  Paying twice is
// ErrConflict.
func (r *SettlementRepo) MarkPaid(ctx context.Context, id uint64, reference string, now time.Time) (model.Settlement, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE settlements SET status = ?, payout_reference = ?, paid_at = ? WHERE id = ? AND status = ?`,
		model.SettlementPaid, reference, now.UTC(), id, model.SettlementPending)
	if err != nil {
		return model.Settlement{}, err
	}
	n, _ := res.RowsAffected()
	s, err := r.GetByID(ctx, id)
	if err != nil {
		return s, err
	}
	if n == 0 {
		return s, ErrConflict
	}
	return s, nil
}
