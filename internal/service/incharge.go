package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/repository"
	"github.com/iliyamo/studyhall-marketplace/internal/utils"
	"go.uber.org/zap"
)

const tempPasswordLen = 12

// InchargeService lets merchants delegate day-to-day hall operations.
type InchargeService struct {
	db         *sql.DB
	repos      Repos
	bcryptCost int
	log        *zap.Logger
}

func NewInchargeService(db *sql.DB, repos Repos, bcryptCost int, log *zap.Logger) *InchargeService {
	return &InchargeService{db: db, repos: repos, bcryptCost: bcryptCost, log: log}
}

// InviteRequest names the incharge and the merchant's halls to assign.
type InviteRequest struct {
	Email    string
	FullName string
	Phone    string
	HallIDs  []uint64
}

// Invite creates an INCHARGE account, or reuses an existing one, and
// assigns it to halls owned by merchantID.  TempPassword is set only when
// a new account was created and must be handed over out of band.
func (s *InchargeService) Invite(ctx context.Context, merchantID uint64, req InviteRequest) (inc model.Incharge, tempPassword string, err error) {
	for _, id := range req.HallIDs {
		if _, err := s.repos.Halls.GetByIDAndOwner(ctx, id, merchantID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return model.Incharge{}, "", repository.ErrForbidden
			}
			return model.Incharge{}, "", err
		}
	}

	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		u, err := s.repos.Users.GetByEmailTx(ctx, tx, req.Email)
		switch {
		case err == nil:
			if u.Role != model.RoleIncharge {
				return repository.ErrConflict
			}
		case errors.Is(err, repository.ErrNotFound):
			if tempPassword, err = utils.TempPassword(tempPasswordLen); err != nil {
				return err
			}
			u = model.User{Email: req.Email, FullName: req.FullName, Phone: req.Phone, Role: model.RoleIncharge}
			if err := s.repos.Users.CreateTx(ctx, tx, &u, tempPassword, s.bcryptCost); err != nil {
				return err
			}
		default:
			return err
		}
		for _, id := range req.HallIDs {
			if err := s.repos.Incharges.AssignTx(ctx, tx, u.ID, id, merchantID); err != nil {
				return err
			}
		}
		inc = model.Incharge{User: u, StudyHallIDs: req.HallIDs}
		return nil
	})
	if err != nil {
		return model.Incharge{}, "", err
	}
	s.log.Info("incharge invited", zap.Uint64("merchant_id", merchantID), zap.Uint64("incharge_id", inc.ID),
		zap.Bool("new_account", tempPassword != ""))
	return inc, tempPassword, nil
}
