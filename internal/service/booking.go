package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/monitoring"
	"github.com/iliyamo/studyhall-marketplace/internal/pricing"
	"github.com/iliyamo/studyhall-marketplace/internal/queue"
	"github.com/iliyamo/studyhall-marketplace/internal/realtime"
	"github.com/iliyamo/studyhall-marketplace/internal/repository"
	"github.com/iliyamo/studyhall-marketplace/internal/utils"
	"go.uber.org/zap"
)

const expireBatch = 100

// BookingService owns the seat checkout and the booking lifecycle outside
// of payment reconciliation.
type BookingService struct {
	db      *sql.DB
	repos   Repos
	locker  *SeatLocker
	rules   pricing.Rules
	window  time.Duration
	events  EventPublisher
	changes ChangeNotifier
	log     *zap.Logger
	now     func() time.Time
}

// NewBookingService wires the booking workflows.  events and changes may be
// nil.
func NewBookingService(db *sql.DB, repos Repos, locker *SeatLocker, rules pricing.Rules, paymentWindow time.Duration,
	events EventPublisher, changes ChangeNotifier, log *zap.Logger) *BookingService {
	if events == nil {
		events = noopEvents{}
	}
	if changes == nil {
		changes = noopChanges{}
	}
	return &BookingService{
		db: db, repos: repos, locker: locker, rules: rules, window: paymentWindow,
		events: events, changes: changes, log: log, now: time.Now,
	}
}

// QuoteRequest asks for a price preview.  UserID is zero for anonymous
// callers, in which case points are ignored.
type QuoteRequest struct {
	UserID     uint64
	HallID     uint64
	Start      time.Time
	End        time.Time
	CouponCode string
	Points     int
}

// Quote prices a prospective booking without reserving anything.
func (s *BookingService) Quote(ctx context.Context, req QuoteRequest) (pricing.Quote, error) {
	hall, err := s.repos.Halls.GetApproved(ctx, req.HallID)
	if err != nil {
		return pricing.Quote{}, err
	}
	in := pricing.QuoteInput{
		HallID: hall.ID,
		Tiers:  pricing.TiersOf(hall),
		Start:  req.Start,
		End:    req.End,
		Now:    s.now().UTC(),
	}
	if code := repository.NormalizeCode(req.CouponCode); code != "" {
		cp, err := s.repos.Coupons.GetByCode(ctx, code)
		if err != nil {
			return pricing.Quote{}, couponErr(err)
		}
		in.Coupon = &cp
		if req.UserID != 0 && cp.PerUserLimit > 0 {
			if in.CouponUserUses, err = s.repos.Coupons.UserRedemptions(ctx, cp.ID, req.UserID); err != nil {
				return pricing.Quote{}, err
			}
		}
	}
	if req.UserID != 0 && req.Points > 0 {
		bal, err := s.repos.Rewards.Balance(ctx, req.UserID)
		if err != nil {
			return pricing.Quote{}, err
		}
		in.PointsRequested, in.PointsBalance = req.Points, bal
	}
	return s.rules.Price(in)
}

func couponErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return pricing.ErrCouponNotFound
	}
	return err
}

// CreateBookingRequest is a student's checkout.
type CreateBookingRequest struct {
	UserID     uint64
	HallID     uint64
	SeatID     uint64
	Start      time.Time
	End        time.Time
	CouponCode string
	Points     int
}

// Create reserves a seat for the requested dates and returns the pending
// booking with its quote.  The seat row is locked and re-checked for
// overlapping bookings inside the transaction that inserts the booking.
func (s *BookingService) Create(ctx context.Context, req CreateBookingRequest) (model.Booking, pricing.Quote, error) {
	b, q, err := s.create(ctx, req)
	outcome := "created"
	if err != nil {
		outcome = bookingOutcome(err)
	}
	monitoring.TrackBooking(outcome)
	return b, q, err
}

func bookingOutcome(err error) string {
	switch {
	case errors.Is(err, ErrSeatUnavailable):
		return "seat_unavailable"
	case errors.Is(err, ErrSeatLocked):
		return "seat_locked"
	case errors.Is(err, ErrHallNotBookable), errors.Is(err, ErrSeatNotFound):
		return "not_bookable"
	default:
		return "rejected"
	}
}

func (s *BookingService) create(ctx context.Context, req CreateBookingRequest) (model.Booking, pricing.Quote, error) {
	now := s.now().UTC()
	hall, err := s.repos.Halls.GetApproved(ctx, req.HallID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Booking{}, pricing.Quote{}, ErrHallNotBookable
	}
	if err != nil {
		return model.Booking{}, pricing.Quote{}, err
	}
	seat, err := s.repos.Seats.GetByID(ctx, req.SeatID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && (seat.StudyHallID != hall.ID || !seat.IsActive)) {
		return model.Booking{}, pricing.Quote{}, ErrSeatNotFound
	}
	if err != nil {
		return model.Booking{}, pricing.Quote{}, err
	}
	// fail fast on bad dates before touching the lock
	if _, err := s.rules.ValidateRange(req.Start, req.End, now); err != nil {
		return model.Booking{}, pricing.Quote{}, err
	}

	release, err := s.locker.Acquire(ctx, seat.ID)
	defer release()
	if err != nil {
		return model.Booking{}, pricing.Quote{}, err
	}

	var (
		b model.Booking
		q pricing.Quote
	)
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		locked, err := s.repos.Seats.LockTx(ctx, tx, seat.ID)
		if err != nil {
			return err
		}
		if !locked.IsActive {
			return ErrSeatNotFound
		}
		start, end := pricing.DateOf(req.Start), pricing.DateOf(req.End)
		busy, err := s.repos.Bookings.HasOverlapTx(ctx, tx, seat.ID, start, end, now, 0)
		if err != nil {
			return err
		}
		if busy {
			return ErrSeatUnavailable
		}

		in := pricing.QuoteInput{HallID: hall.ID, Tiers: pricing.TiersOf(hall), Start: start, End: end, Now: now}
		if code := repository.NormalizeCode(req.CouponCode); code != "" {
			cp, err := s.repos.Coupons.LockByCodeTx(ctx, tx, code)
			if err != nil {
				return couponErr(err)
			}
			in.Coupon = &cp
			if cp.PerUserLimit > 0 {
				if in.CouponUserUses, err = s.repos.Coupons.UserRedemptionsTx(ctx, tx, cp.ID, req.UserID); err != nil {
					return err
				}
			}
		}
		if req.Points > 0 {
			bal, err := s.repos.Rewards.BalanceTx(ctx, tx, req.UserID)
			if err != nil {
				return err
			}
			in.PointsRequested, in.PointsBalance = req.Points, bal
		}
		if q, err = s.rules.Price(in); err != nil {
			return err
		}

		expires := now.Add(s.window)
		b = model.Booking{
			Reference:      utils.NewBookingReference(),
			UserID:         req.UserID,
			StudyHallID:    hall.ID,
			SeatID:         seat.ID,
			StartDate:      start,
			EndDate:        end,
			Days:           q.Days,
			BaseAmount:     q.Base,
			CouponID:       q.CouponID,
			CouponDiscount: q.CouponDiscount,
			PointsRedeemed: q.PointsRedeemed,
			PointsDiscount: q.PointsDiscount,
			FinalAmount:    q.Final,
			Status:         model.BookingPendingPayment,
			PaymentStatus:  model.PaymentUnpaid,
			ExpiresAt:      &expires,
		}
		if err := s.repos.Bookings.CreateTx(ctx, tx, &b); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		if q.PointsRedeemed > 0 {
			id := b.ID
			if err := s.repos.Rewards.AddTx(ctx, tx, model.RewardEntry{
				UserID: req.UserID, BookingID: &id, Points: -q.PointsRedeemed, Reason: model.RewardRedeemed,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Booking{}, pricing.Quote{}, err
	}
	b.CreatedAt, b.UpdatedAt = now, now

	s.log.Info("booking created",
		zap.Uint64("booking_id", b.ID), zap.String("reference", b.Reference),
		zap.Uint64("seat_id", b.SeatID), zap.String("final", b.FinalAmount.StringFixed(2)))
	s.changes.Publish(ctx, "booking", b.ID, "created",
		realtime.HallTopic(hall.ID), realtime.MerchantTopic(hall.OwnerID))
	return b, q, nil
}

// Cancel cancels a booking on behalf of actor.  Students may only cancel
// their own bookings; customer care and admins may cancel any.  A booking
// can be cancelled while awaiting payment, or once confirmed until its
// first day begins.
func (s *BookingService) Cancel(ctx context.Context, actor Actor, bookingID uint64, reason string) (model.BookingDetail, error) {
	now := s.now().UTC()
	if reason == "" {
		reason = "cancelled by " + actor.Role
	}
	var refund bool
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		b, err := s.repos.Bookings.LockTx(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if !canManageBooking(actor, b) {
			return repository.ErrNotFound
		}
		switch {
		case b.Status == model.BookingPendingPayment:
		case b.Status == model.BookingConfirmed && pricing.DateOf(now).Before(b.StartDate):
		default:
			return ErrNotCancellable
		}

		ps := b.PaymentStatus
		switch ps {
		case model.PaymentPaid:
			ps, refund = model.PaymentRefunded, true
		case model.PaymentPending:
			ps = model.PaymentUnpaid
		}
		if err := s.repos.Bookings.CancelTx(ctx, tx, b.ID, ps, reason, now); err != nil {
			return err
		}
		if err := s.closePendingTx(ctx, tx, b.ID, model.TxnFailed, model.ReasonBookingCancelled); err != nil {
			return err
		}
		if b.CouponID != nil {
			if err := s.repos.Coupons.ReleaseTx(ctx, tx, *b.CouponID, b.ID); err != nil {
				return err
			}
		}
		if err := s.restorePointsTx(ctx, tx, b); err != nil {
			return err
		}
		return s.reverseEarnedTx(ctx, tx, b)
	})
	if err != nil {
		return model.BookingDetail{}, err
	}

	d, err := s.repos.Bookings.GetDetail(ctx, bookingID)
	if err != nil {
		return model.BookingDetail{}, err
	}
	s.log.Info("booking cancelled", zap.Uint64("booking_id", d.ID), zap.String("by", actor.Role), zap.Bool("refund", refund))
	ev := bookingEvent(d, now)
	ev.Reason, ev.Refund = reason, refund
	_ = s.events.Publish(ctx, queue.RKBookingCancelled, ev)
	s.changes.Publish(ctx, "booking", d.ID, "cancelled",
		realtime.BookingTopic(d.ID), realtime.HallTopic(d.StudyHallID), realtime.MerchantTopic(d.OwnerID))
	return d, nil
}

func canManageBooking(actor Actor, b model.Booking) bool {
	switch actor.Role {
	case model.RoleAdmin, model.RoleCustomerCare:
		return true
	}
	return b.UserID == actor.UserID
}

// closePendingTx ends every pending attempt of bookingID.
func (s *BookingService) closePendingTx(ctx context.Context, tx *sql.Tx, bookingID uint64, status, reason string) error {
	return closePendingTx(ctx, tx, s.repos.Transactions, bookingID, status, reason)
}

func closePendingTx(ctx context.Context, tx *sql.Tx, txns *repository.TransactionRepo, bookingID uint64, status, reason string) error {
	pending, err := txns.ListPendingByBookingTx(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	for _, t := range pending {
		if err := txns.MarkFailedTx(ctx, tx, t.ID, status, reason, nil); err != nil {
			return err
		}
		monitoring.TrackPayment(t.Method, status)
	}
	return nil
}

// restorePointsTx gives back points redeemed on b that were not restored
// yet.
func (s *BookingService) restorePointsTx(ctx context.Context, tx *sql.Tx, b model.Booking) error {
	return restorePointsTx(ctx, tx, s.repos.Rewards, b)
}

func restorePointsTx(ctx context.Context, tx *sql.Tx, rewards *repository.RewardRepo, b model.Booking) error {
	if b.PointsRedeemed == 0 {
		return nil
	}
	redeemed, err := rewards.BookingPointsTx(ctx, tx, b.ID, model.RewardRedeemed)
	if err != nil {
		return err
	}
	restored, err := rewards.BookingPointsTx(ctx, tx, b.ID, model.RewardRestored)
	if err != nil {
		return err
	}
	owed := -(redeemed + restored)
	if owed <= 0 {
		return nil
	}
	id := b.ID
	return rewards.AddTx(ctx, tx, model.RewardEntry{UserID: b.UserID, BookingID: &id, Points: owed, Reason: model.RewardRestored})
}

// reverseEarnedTx takes back points earned by a booking that is being
// cancelled.  The balance may go negative if they were already spent.
func (s *BookingService) reverseEarnedTx(ctx context.Context, tx *sql.Tx, b model.Booking) error {
	earned, err := s.repos.Rewards.BookingPointsTx(ctx, tx, b.ID, model.RewardEarned)
	if err != nil || earned == 0 {
		return err
	}
	reversed, err := s.repos.Rewards.BookingPointsTx(ctx, tx, b.ID, model.RewardReversed)
	if err != nil {
		return err
	}
	left := earned + reversed
	if left <= 0 {
		return nil
	}
	id := b.ID
	return s.repos.Rewards.AddTx(ctx, tx, model.RewardEntry{UserID: b.UserID, BookingID: &id, Points: -left, Reason: model.RewardReversed})
}

// Expire moves one overdue pending booking to EXPIRED.  It reports false
// when the booking was no longer eligible, which includes bookings that
// already have a successful payment waiting to be reconciled.
func (s *BookingService) Expire(ctx context.Context, bookingID uint64) (bool, error) {
	now := s.now().UTC()
	expired := false
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		b, err := s.repos.Bookings.LockTx(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != model.BookingPendingPayment || b.ExpiresAt == nil || b.ExpiresAt.After(now) {
			return nil
		}
		paid, err := s.repos.Transactions.HasSuccessTx(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if paid {
			s.log.Warn("expiry skipped, booking has a successful payment", zap.Uint64("booking_id", b.ID))
			return nil
		}
		if err := s.repos.Bookings.ExpireTx(ctx, tx, b.ID); err != nil {
			return err
		}
		if err := s.closePendingTx(ctx, tx, b.ID, model.TxnTimeout, model.ReasonBookingExpired); err != nil {
			return err
		}
		if err := s.restorePointsTx(ctx, tx, b); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil || !expired {
		return false, err
	}

	if d, err := s.repos.Bookings.GetDetail(ctx, bookingID); err == nil {
		_ = s.events.Publish(ctx, queue.RKBookingExpired, bookingEvent(d, now))
		s.changes.Publish(ctx, "booking", d.ID, "expired",
			realtime.BookingTopic(d.ID), realtime.HallTopic(d.StudyHallID))
	}
	return true, nil
}

// ExpireOverdue expires every pending booking past its deadline and
// returns how many changed.  A failing booking is logged and skipped.
func (s *BookingService) ExpireOverdue(ctx context.Context) (int, error) {
	ids, err := s.repos.Bookings.ListExpiredIDs(ctx, s.now().UTC(), expireBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		ok, err := s.Expire(ctx, id)
		if err != nil {
			s.log.Error("expire booking failed", zap.Uint64("booking_id", id), zap.Error(err))
			continue
		}
		if ok {
			n++
		}
	}
	monitoring.TrackSweep("expired", int64(n))
	return n, nil
}

// CompleteFinished marks confirmed bookings whose stay has ended.
func (s *BookingService) CompleteFinished(ctx context.Context) (int64, error) {
	n, err := s.repos.Bookings.CompleteFinished(ctx, pricing.DateOf(s.now()))
	if err != nil {
		return 0, err
	}
	monitoring.TrackSweep("completed", n)
	return n, nil
}

func bookingEvent(d model.BookingDetail, at time.Time) queue.BookingEvent {
	return queue.BookingEvent{
		BookingID:   d.ID,
		Reference:   d.Reference,
		UserID:      d.UserID,
		OwnerID:     d.OwnerID,
		StudyHallID: d.StudyHallID,
		HallName:    d.HallName,
		SeatLabel:   d.SeatLabel,
		StartDate:   d.StartDate.Format(pricing.DateLayout),
		EndDate:     d.EndDate.Format(pricing.DateLayout),
		Amount:      d.FinalAmount.StringFixed(2),
		Method:      d.PaymentMethod,
		OccurredAt:  at,
	}
}
