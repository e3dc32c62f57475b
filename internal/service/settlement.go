package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SettlementService computes merchant payouts from online collections.
// Offline payments are collected by the merchant directly and are never
// settled.
type SettlementService struct {
	db         *sql.DB
	repos      Repos
	commission decimal.Decimal // percent
	log        *zap.Logger
}

func NewSettlementService(db *sql.DB, repos Repos, commissionPercent decimal.Decimal, log *zap.Logger) *SettlementService {
	return &SettlementService{db: db, repos: repos, commission: commissionPercent, log: log}
}

// Commission splits gross into the platform commission at percent
// (rounded to 2 places) and the merchant's net.
func Commission(gross, percent decimal.Decimal) (commission, net decimal.Decimal) {
	commission = gross.Mul(percent).Div(decimal.NewFromInt(100)).Round(2)
	return commission, gross.Sub(commission)
}

// Create settles merchantID's unsettled online payments created in
// [start, end).  The included transactions are linked to the settlement
// in the same database transaction so they cannot be settled twice.
func (s *SettlementService) Create(ctx context.Context, createdBy, merchantID uint64, start, end time.Time) (model.Settlement, error) {
	if !end.After(start) {
		return model.Settlement{}, ErrInvalidPeriod
	}
	merchant, err := s.repos.Users.GetByID(ctx, merchantID)
	if err != nil {
		return model.Settlement{}, err
	}
	if !model.IsHallOwnerRole(merchant.Role) {
		return model.Settlement{}, ErrNotHallOwner
	}

	var st model.Settlement
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		ids, gross, err := s.repos.Transactions.UnsettledTotalsTx(ctx, tx, merchantID, start, end)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return ErrEmptySettlement
		}
		commission, net := Commission(gross, s.commission)
		st = model.Settlement{
			MerchantID:       merchantID,
			PeriodStart:      start,
			PeriodEnd:        end,
			GrossAmount:      gross,
			CommissionAmount: commission,
			NetAmount:        net,
			TransactionCount: len(ids),
			Status:           model.SettlementPending,
			CreatedBy:        createdBy,
		}
		if err := s.repos.Settlements.CreateTx(ctx, tx, &st); err != nil {
			return err
		}
		return s.repos.Transactions.LinkSettlementTx(ctx, tx, st.ID, ids)
	})
	if err != nil {
		return model.Settlement{}, err
	}
	s.log.Info("settlement created", zap.Uint64("settlement_id", st.ID), zap.Uint64("merchant_id", merchantID),
		zap.String("gross", st.GrossAmount.StringFixed(2)), zap.String("net", st.NetAmount.StringFixed(2)))
	return st, nil
}

// MarkPaid records the payout of a pending settlement.
func (s *SettlementService) MarkPaid(ctx context.Context, id uint64, reference string) (model.Settlement, error) {
	st, err := s.repos.Settlements.MarkPaid(ctx, id, reference, time.Now().UTC())
	if err != nil {
		return model.Settlement{}, err
	}
	s.log.Info("settlement paid", zap.Uint64("settlement_id", id), zap.String("reference", reference))
	return st, nil
}
