// Package service holds the workflows that span several repositories:
// booking checkout, payment reconciliation and the background workers
// that keep bookings and payment attempts moving.  Handlers stay thin and
// call into these types.
package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/studyhall-marketplace/internal/repository"
)

var (
	ErrHallNotBookable = errors.New("study hall is not accepting bookings")
	ErrSeatNotFound    = errors.New("seat not found in this study hall")
	ErrSeatUnavailable = errors.New("seat is already booked for some of the selected dates")
	ErrSeatLocked      = errors.New("seat is being booked by someone else, try again shortly")
	ErrNotCancellable  = errors.New("booking can no longer be cancelled")
	ErrNotPayable      = errors.New("booking is not awaiting payment")
	ErrNotOffline      = errors.New("transaction is not an offline payment")
	ErrInvalidPeriod   = errors.New("period end must be after period start")
	ErrEmptySettlement = errors.New("no unsettled payments in this period")
	ErrNotHallOwner    = errors.New("user does not own study halls")
)

// EventPublisher sends domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, key string, v any) error
}

// ChangeNotifier pushes change hints to realtime subscribers.
type ChangeNotifier interface {
	Publish(ctx context.Context, entity string, id uint64, action string, topics ...string)
}

// Actor is the authenticated caller of a back-office operation.
type Actor struct {
	UserID uint64
	Role   string
}

// Repos bundles the repositories the services share.
type Repos struct {
	Users        *repository.UserRepo
	Halls        *repository.StudyHallRepo
	Seats        *repository.SeatRepo
	Bookings     *repository.BookingRepo
	Transactions *repository.TransactionRepo
	Coupons      *repository.CouponRepo
	Rewards      *repository.RewardRepo
	Incharges    *repository.InchargeRepo
	Settlements  *repository.SettlementRepo

	// used by the HTTP surfaces only
	Tokens        *repository.TokenRepo
	Reviews       *repository.ReviewRepo
	Enquiries     *repository.EnquiryRepo
	Notifications *repository.NotificationRepo
	Analytics     *repository.AnalyticsRepo
}

// NewRepos builds every repository on db.
func NewRepos(db *sql.DB) Repos {
	return Repos{
		Users:        repository.NewUserRepo(db),
		Halls:        repository.NewStudyHallRepo(db),
		Seats:        repository.NewSeatRepo(db),
		Bookings:     repository.NewBookingRepo(db),
		Transactions: repository.NewTransactionRepo(db),
		Coupons:      repository.NewCouponRepo(db),
		Rewards:      repository.NewRewardRepo(db),
		Incharges:    repository.NewInchargeRepo(db),
		Settlements:  repository.NewSettlementRepo(db),

		Tokens:        repository.NewTokenRepo(db),
		Reviews:       repository.NewReviewRepo(db),
		Enquiries:     repository.NewEnquiryRepo(db),
		Notifications: repository.NewNotificationRepo(db),
		Analytics:     repository.NewAnalyticsRepo(db),
	}
}

type noopEvents struct{}

func (noopEvents) Publish(context.Context, string, any) error { return nil }

type noopChanges struct{}

func (noopChanges) Publish(context.Context, string, uint64, string, ...string) {}

// withTx runs fn inside a transaction, committing when it returns nil.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
