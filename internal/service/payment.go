package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/monitoring"
	"github.com/iliyamo/studyhall-marketplace/internal/payment"
	"github.com/iliyamo/studyhall-marketplace/internal/pricing"
	"github.com/iliyamo/studyhall-marketplace/internal/queue"
	"github.com/iliyamo/studyhall-marketplace/internal/realtime"
	"github.com/iliyamo/studyhall-marketplace/internal/repository"
	"go.uber.org/zap"
)

// Gateway is the part of the card/UPI gateway whose outcomes arrive
// through browser callbacks and webhooks rather than polling.
type Gateway interface {
	VerifyCheckout(orderID, paymentID, signature string) error
	FetchPayment(ctx context.Context, paymentID string) (payment.Status, error)
	ParseWebhook(body []byte, signature string) (payment.WebhookEvent, error)
}

// PaymentService starts payment attempts on the configured rails and
// reconciles their outcomes with bookings.  Every outcome, whichever path
// reports it, goes through Complete.
type PaymentService struct {
	db            *sql.DB
	repos         Repos
	registry      *payment.Registry
	gateway       Gateway // nil when the gateway is not configured
	rules         pricing.Rules
	currency      string
	offlineWindow time.Duration
	events        EventPublisher
	changes       ChangeNotifier
	log           *zap.Logger
	now           func() time.Time
}

// PaymentOptions carries the settings PaymentService needs from config.
type PaymentOptions struct {
	Currency      string
	OfflineWindow time.Duration
}

func NewPaymentService(db *sql.DB, repos Repos, registry *payment.Registry, gateway Gateway, rules pricing.Rules,
	opts PaymentOptions, events EventPublisher, changes ChangeNotifier, log *zap.Logger) *PaymentService {
	if events == nil {
		events = noopEvents{}
	}
	if changes == nil {
		changes = noopChanges{}
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	return &PaymentService{
		db: db, repos: repos, registry: registry, gateway: gateway, rules: rules,
		currency: opts.Currency, offlineWindow: opts.OfflineWindow,
		events: events, changes: changes, log: log, now: time.Now,
	}
}

// Started is the result of StartPayment.
type Started struct {
	Transaction model.Transaction `json:"transaction"`
	Order       payment.Order     `json:"order"`
}

// StartPayment opens a payment attempt for the student's booking on
// method.  The attempt row is written before the provider order is
// created so no provider order exists without a matching transaction.
// Bookings whose final amount is zero are confirmed immediately.
func (s *PaymentService) StartPayment(ctx context.Context, userID, bookingID uint64, method string) (Started, error) {
	now := s.now().UTC()
	d, err := s.repos.Bookings.GetDetail(ctx, bookingID)
	if err != nil {
		return Started{}, err
	}
	if d.UserID != userID {
		return Started{}, repository.ErrNotFound
	}
	if !d.IsActive(now) || d.Status != model.BookingPendingPayment {
		return Started{}, ErrNotPayable
	}
	if !d.FinalAmount.IsPositive() {
		return s.completeFree(ctx, d)
	}
	provider, err := s.registry.Get(method)
	if err != nil {
		return Started{}, err
	}

	clientTxnID := uuid.NewString()
	t := model.Transaction{
		BookingID: d.ID,
		UserID:    d.UserID,
		Method:    method,
		Amount:    d.FinalAmount,
		Currency:  s.currency,
		Status:    model.TxnPending,
	}
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		b, err := s.repos.Bookings.LockTx(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if !b.IsActive(now) || b.Status != model.BookingPendingPayment {
			return ErrNotPayable
		}
		if err := s.repos.Transactions.CreateTx(ctx, tx, &t); err != nil {
			return err
		}
		if err := s.repos.Bookings.SetPaymentTx(ctx, tx, b.ID, model.PaymentPending, method); err != nil {
			return err
		}
		if method == model.MethodOffline && s.offlineWindow > 0 {
			return s.repos.Bookings.ExtendExpiryTx(ctx, tx, b.ID, now.Add(s.offlineWindow))
		}
		return nil
	})
	if err != nil {
		return Started{}, err
	}

	order, err := provider.CreateOrder(ctx, payment.OrderRequest{
		Reference:     d.Reference,
		ClientTxnID:   clientTxnID,
		Amount:        d.FinalAmount,
		Currency:      s.currency,
		Description:   fmt.Sprintf("%s seat %s, %s to %s", d.HallName, d.SeatLabel, d.StartDate.Format(pricing.DateLayout), d.EndDate.Format(pricing.DateLayout)),
		CustomerName:  d.StudentName,
		CustomerEmail: d.StudentEmail,
		CustomerPhone: d.StudentPhone,
	})
	if err != nil {
		s.log.Warn("create provider order failed", zap.String("method", method), zap.Uint64("transaction_id", t.ID), zap.Error(err))
		if _, ferr := s.Complete(ctx, t.ID, payment.Status{Outcome: payment.OutcomeFailure, Reason: "could not start payment"}, nil); ferr != nil {
			s.log.Error("close failed attempt", zap.Uint64("transaction_id", t.ID), zap.Error(ferr))
		}
		return Started{}, err
	}
	if err := s.repos.Transactions.SetProviderOrder(ctx, t.ID, order.OrderID); err != nil {
		return Started{}, err
	}
	t.ProviderOrderID = order.OrderID
	t.CreatedAt, t.UpdatedAt = now, now

	s.log.Info("payment started", zap.String("method", method), zap.Uint64("booking_id", d.ID),
		zap.Uint64("transaction_id", t.ID), zap.String("order_id", order.OrderID))
	s.changes.Publish(ctx, "transaction", t.ID, "created", realtime.BookingTopic(d.ID))
	return Started{Transaction: t, Order: order}, nil
}

// completeFree confirms a booking fully paid by discounts through an
// offline attempt of zero amount.
func (s *PaymentService) completeFree(ctx context.Context, d model.BookingDetail) (Started, error) {
	t := model.Transaction{
		BookingID: d.ID, UserID: d.UserID, Method: model.MethodOffline,
		Amount: d.FinalAmount, Currency: s.currency, Status: model.TxnPending,
		ProviderOrderID: "FREE-" + d.Reference,
	}
	if err := s.repos.Transactions.Create(ctx, &t); err != nil {
		return Started{}, err
	}
	done, err := s.Complete(ctx, t.ID, payment.Status{Outcome: payment.OutcomeSuccess, OrderID: t.ProviderOrderID}, nil)
	if err != nil {
		return Started{}, err
	}
	return Started{Transaction: done, Order: payment.Order{OrderID: t.ProviderOrderID, Currency: s.currency}}, nil
}

// resolution collects what happened inside Complete so events can be
// published after commit.
type resolution struct {
	txn       model.Transaction
	booking   model.Booking
	changed   bool
	confirmed bool
	refund    string // non-empty when captured money must be returned
	failed    bool
	duplicate bool
}

// Complete applies a provider outcome to transaction txnID.  It is
// idempotent: final attempts are returned unchanged, except that a success
// may still land on an attempt closed only because its booking expired or
// was cancelled, or on a failed gateway attempt whose order was retried.
// confirmedBy is set for staff decisions.
func (s *PaymentService) Complete(ctx context.Context, txnID uint64, st payment.Status, confirmedBy *uint64) (model.Transaction, error) {
	switch st.Outcome {
	case payment.OutcomeSuccess:
		return s.finish(ctx, txnID, func(tx *sql.Tx, r *resolution) error { return s.applySuccess(ctx, tx, r, st, confirmedBy) })
	case payment.OutcomeFailure:
		reason := st.Reason
		if reason == "" {
			reason = "payment failed"
		}
		return s.finish(ctx, txnID, func(tx *sql.Tx, r *resolution) error {
			return s.applyFailure(ctx, tx, r, model.TxnFailed, reason, confirmedBy)
		})
	default:
		return s.repos.Transactions.GetByID(ctx, txnID)
	}
}

// Timeout ends a pending attempt that never produced an outcome.
func (s *PaymentService) Timeout(ctx context.Context, txnID uint64) (model.Transaction, error) {
	return s.finish(ctx, txnID, func(tx *sql.Tx, r *resolution) error {
		return s.applyFailure(ctx, tx, r, model.TxnTimeout, model.ReasonTimeout, nil)
	})
}

func (s *PaymentService) finish(ctx context.Context, txnID uint64, apply func(tx *sql.Tx, r *resolution) error) (model.Transaction, error) {
	var r resolution
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := s.repos.Transactions.LockTx(ctx, tx, txnID)
		if err != nil {
			return err
		}
		r.txn = t
		return apply(tx, &r)
	})
	if err != nil {
		return model.Transaction{}, err
	}
	if !r.changed {
		return r.txn, nil
	}
	s.announce(ctx, r)
	return s.repos.Transactions.GetByID(ctx, txnID)
}

func (s *PaymentService) applySuccess(ctx context.Context, tx *sql.Tx, r *resolution, st payment.Status, confirmedBy *uint64) error {
	t := r.txn
	if !t.AcceptsLateCapture() && !t.AcceptsRetriedCapture(st.OrderID) {
		if t.Status != model.TxnSuccess {
			s.log.Warn("success reported for a closed attempt, ignored",
				zap.Uint64("transaction_id", t.ID), zap.String("status", t.Status), zap.String("reason", t.FailureReason))
		}
		return nil
	}
	if st.Amount.IsPositive() && !st.Amount.Equal(t.Amount) {
		s.log.Warn("captured amount does not match attempt",
			zap.Uint64("transaction_id", t.ID), zap.String("expected", t.Amount.StringFixed(2)), zap.String("captured", st.Amount.StringFixed(2)))
		if t.Status != model.TxnPending {
			return nil
		}
		return s.applyFailure(ctx, tx, r, model.TxnFailed, model.ReasonAmountMismatch, confirmedBy)
	}

	b, err := s.repos.Bookings.LockTx(ctx, tx, t.BookingID)
	if err != nil {
		return err
	}
	if err := s.repos.Transactions.MarkSuccessTx(ctx, tx, t.ID, st.PaymentID, confirmedBy); err != nil {
		return err
	}
	r.changed = true
	r.txn.Status = model.TxnSuccess
	r.booking = b

	now := s.now().UTC()
	switch b.Status {
	case model.BookingPendingPayment, model.BookingExpired:
		if b.IsActive(now) {
			if err := s.confirmTx(ctx, tx, b, t.Method); err != nil {
				return err
			}
			r.confirmed = true
			return nil
		}
		// the hold lapsed, so the seat may have been booked by someone else
		busy, err := s.repos.Bookings.HasOverlapTx(ctx, tx, b.SeatID, b.StartDate, b.EndDate, now, b.ID)
		if err != nil {
			return err
		}
		if !busy {
			if err := s.confirmTx(ctx, tx, b, t.Method); err != nil {
				return err
			}
			r.confirmed = true
			return nil
		}
		if b.Status == model.BookingPendingPayment {
			// the sweeper has not reached it yet
			if err := s.expireLapsedTx(ctx, tx, b); err != nil {
				return err
			}
		}
		r.refund = model.ReasonSeatTakenAfterExpiry
		if err := s.repos.Bookings.FlagRefundTx(ctx, tx, b.ID, r.refund); err != nil {
			return err
		}
		return s.repos.Transactions.FlagRefundTx(ctx, tx, t.ID, r.refund)
	case model.BookingCancelled:
		r.refund = model.ReasonPaidAfterCancel
		if err := s.repos.Bookings.FlagRefundTx(ctx, tx, b.ID, r.refund); err != nil {
			return err
		}
		return s.repos.Transactions.FlagRefundTx(ctx, tx, t.ID, r.refund)
	default:
		// CONFIRMED or COMPLETED through another attempt
		r.duplicate = true
		s.log.Warn("duplicate payment captured for booking, refund required",
			zap.Uint64("booking_id", b.ID), zap.Uint64("transaction_id", t.ID), zap.String("method", t.Method))
		return s.repos.Transactions.FlagRefundTx(ctx, tx, t.ID, model.ReasonDuplicatePayment)
	}
}

// expireLapsedTx expires a pending booking whose hold ran out, the way the
// sweeper would: other open attempts time out and redeemed points return.
func (s *PaymentService) expireLapsedTx(ctx context.Context, tx *sql.Tx, b model.Booking) error {
	if err := s.repos.Bookings.ExpireTx(ctx, tx, b.ID); err != nil {
		return err
	}
	if err := closePendingTx(ctx, tx, s.repos.Transactions, b.ID, model.TxnTimeout, model.ReasonBookingExpired); err != nil {
		return err
	}
	return restorePointsTx(ctx, tx, s.repos.Rewards, b)
}

// confirmTx confirms b and books the side effects of a paid booking:
// coupon usage and earned points.  Points restored when b expired are
// debited again.
func (s *PaymentService) confirmTx(ctx context.Context, tx *sql.Tx, b model.Booking, method string) error {
	if err := s.repos.Bookings.ConfirmTx(ctx, tx, b.ID, method); err != nil {
		return err
	}
	id := b.ID
	if b.CouponID != nil {
		if err := s.repos.Coupons.RedeemTx(ctx, tx, *b.CouponID, b.UserID, b.ID); err != nil {
			return err
		}
	}
	if b.Status == model.BookingExpired && b.PointsRedeemed > 0 {
		restored, err := s.repos.Rewards.BookingPointsTx(ctx, tx, b.ID, model.RewardRestored)
		if err != nil {
			return err
		}
		if restored > 0 {
			if err := s.repos.Rewards.AddTx(ctx, tx, model.RewardEntry{
				UserID: b.UserID, BookingID: &id, Points: -restored, Reason: model.RewardRedeemed,
			}); err != nil {
				return err
			}
		}
	}
	earned, err := s.repos.Rewards.BookingPointsTx(ctx, tx, b.ID, model.RewardEarned)
	if err != nil {
		return err
	}
	if earned == 0 {
		return s.repos.Rewards.AddTx(ctx, tx, model.RewardEntry{
			UserID: b.UserID, BookingID: &id, Points: s.rules.EarnedPoints(b.FinalAmount), Reason: model.RewardEarned,
		})
	}
	return nil
}

func (s *PaymentService) applyFailure(ctx context.Context, tx *sql.Tx, r *resolution, status, reason string, confirmedBy *uint64) error {
	t := r.txn
	if t.IsTerminal() {
		return nil
	}
	if err := s.repos.Transactions.MarkFailedTx(ctx, tx, t.ID, status, reason, confirmedBy); err != nil {
		return err
	}
	// the booking stays pending so another rail can be tried before expiry
	if err := s.repos.Bookings.SetPaymentTx(ctx, tx, t.BookingID, model.PaymentFailed, t.Method); err != nil {
		return err
	}
	r.changed, r.failed = true, true
	r.txn.Status, r.txn.FailureReason = status, reason
	return nil
}

// announce publishes the events and realtime hints of a resolution.
func (s *PaymentService) announce(ctx context.Context, r resolution) {
	now := s.now().UTC()
	t := r.txn
	monitoring.TrackPayment(t.Method, t.Status)
	if r.duplicate {
		monitoring.TrackPayment(t.Method, "duplicate")
	}

	d, err := s.repos.Bookings.GetDetail(ctx, t.BookingID)
	if err != nil {
		s.log.Error("load booking for events", zap.Uint64("booking_id", t.BookingID), zap.Error(err))
		return
	}
	switch {
	case r.failed:
		s.log.Info("payment failed", zap.Uint64("transaction_id", t.ID), zap.String("status", t.Status), zap.String("reason", t.FailureReason))
		_ = s.events.Publish(ctx, queue.RKPaymentFailed, queue.PaymentFailedEvent{
			BookingID: d.ID, Reference: d.Reference, TransactionID: t.ID, UserID: d.UserID,
			Method: t.Method, Status: t.Status, Reason: t.FailureReason, OccurredAt: now,
		})
	case r.confirmed:
		s.log.Info("booking confirmed", zap.Uint64("booking_id", d.ID), zap.Uint64("transaction_id", t.ID), zap.String("method", t.Method))
		ev := bookingEvent(d, now)
		ev.Method = t.Method
		_ = s.events.Publish(ctx, queue.RKBookingConfirmed, ev)
	case r.refund == model.ReasonSeatTakenAfterExpiry:
		s.log.Warn("late payment on re-booked seat, refund required", zap.Uint64("booking_id", d.ID), zap.Uint64("transaction_id", t.ID))
		ev := bookingEvent(d, now)
		ev.Method, ev.Refund, ev.Reason = t.Method, true, r.refund
		_ = s.events.Publish(ctx, queue.RKBookingConfirmed, ev)
	case r.refund != "":
		s.log.Warn("payment captured after cancellation, refund required", zap.Uint64("booking_id", d.ID), zap.Uint64("transaction_id", t.ID))
		ev := bookingEvent(d, now)
		ev.Method, ev.Refund, ev.Reason = t.Method, true, r.refund
		_ = s.events.Publish(ctx, queue.RKBookingCancelled, ev)
	}
	s.changes.Publish(ctx, "booking", d.ID, "payment",
		realtime.BookingTopic(d.ID), realtime.HallTopic(d.StudyHallID), realtime.MerchantTopic(d.OwnerID))
}

// VerifyRazorpay handles the browser callback after a gateway checkout.
// The signature proves the payment; the gateway is asked for the captured
// amount when reachable.
func (s *PaymentService) VerifyRazorpay(ctx context.Context, userID uint64, orderID, paymentID, signature string) (model.Transaction, error) {
	if s.gateway == nil {
		return model.Transaction{}, fmt.Errorf("%w: %s", payment.ErrProviderDisabled, model.MethodRazorpay)
	}
	if err := s.gateway.VerifyCheckout(orderID, paymentID, signature); err != nil {
		return model.Transaction{}, err
	}
	t, err := s.repos.Transactions.GetByProviderOrder(ctx, model.MethodRazorpay, orderID)
	if err != nil {
		return model.Transaction{}, err
	}
	if t.UserID != userID {
		return model.Transaction{}, repository.ErrNotFound
	}
	st := payment.Status{Outcome: payment.OutcomeSuccess, OrderID: orderID, PaymentID: paymentID}
	if fetched, err := s.gateway.FetchPayment(ctx, paymentID); err != nil {
		s.log.Warn("fetch payment failed, trusting checkout signature", zap.String("payment_id", paymentID), zap.Error(err))
	} else if fetched.Outcome == payment.OutcomeFailure {
		st = fetched
	} else {
		st.Amount = fetched.Amount
	}
	return s.Complete(ctx, t.ID, st, nil)
}

// HandleRazorpayWebhook applies a signed gateway webhook.  Unknown events
// and orders we never created are acknowledged without effect.
func (s *PaymentService) HandleRazorpayWebhook(ctx context.Context, body []byte, signature string) error {
	if s.gateway == nil {
		return fmt.Errorf("%w: %s", payment.ErrProviderDisabled, model.MethodRazorpay)
	}
	ev, err := s.gateway.ParseWebhook(body, signature)
	if err != nil {
		return err
	}
	if !ev.Known {
		s.log.Debug("razorpay webhook ignored", zap.String("event", ev.Event))
		return nil
	}
	t, err := s.repos.Transactions.GetByProviderOrder(ctx, model.MethodRazorpay, ev.Status.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Warn("razorpay webhook for unknown order", zap.String("event", ev.Event), zap.String("order_id", ev.Status.OrderID))
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.Complete(ctx, t.ID, ev.Status, nil)
	return err
}

// RefreshStatus returns the student's transaction, asking the provider
// once first when a polled rail may still be paid: the attempt is pending,
// or was closed only because its booking went away.  Manual refreshes do
// not count towards the poller's attempt ceiling.
func (s *PaymentService) RefreshStatus(ctx context.Context, userID, txnID uint64) (model.Transaction, error) {
	t, err := s.repos.Transactions.GetByID(ctx, txnID)
	if err != nil {
		return model.Transaction{}, err
	}
	if t.UserID != userID {
		return model.Transaction{}, repository.ErrNotFound
	}
	if !t.AcceptsLateCapture() || t.ProviderOrderID == "" {
		return t, nil
	}
	p, err := s.registry.Get(t.Method)
	if err != nil {
		return t, nil
	}
	checker, ok := p.(payment.StatusChecker)
	if !ok {
		return t, nil
	}
	st, err := checker.CheckStatus(ctx, t.ProviderOrderID, t.CreatedAt)
	if err != nil {
		s.log.Warn("status refresh failed", zap.Uint64("transaction_id", t.ID), zap.Error(err))
		return t, nil
	}
	if st.Outcome == payment.OutcomePending || (t.IsTerminal() && st.Outcome != payment.OutcomeSuccess) {
		return t, nil
	}
	return s.Complete(ctx, t.ID, st, nil)
}

// ConfirmOffline records that staff received cash or a bank transfer for
// an offline attempt.
func (s *PaymentService) ConfirmOffline(ctx context.Context, actor Actor, txnID uint64) (model.Transaction, error) {
	t, err := s.offlineForStaff(ctx, actor, txnID)
	if err != nil {
		return model.Transaction{}, err
	}
	by := actor.UserID
	return s.Complete(ctx, t.ID, payment.Status{
		Outcome: payment.OutcomeSuccess, OrderID: t.ProviderOrderID, PaymentID: fmt.Sprintf("STAFF-%d", by),
	}, &by)
}

// RejectOffline closes an offline attempt the staff could not verify.
func (s *PaymentService) RejectOffline(ctx context.Context, actor Actor, txnID uint64, reason string) (model.Transaction, error) {
	t, err := s.offlineForStaff(ctx, actor, txnID)
	if err != nil {
		return model.Transaction{}, err
	}
	if t.IsTerminal() {
		return model.Transaction{}, repository.ErrConflict
	}
	if reason == "" {
		reason = model.ReasonRejected
	}
	by := actor.UserID
	return s.Complete(ctx, t.ID, payment.Status{Outcome: payment.OutcomeFailure, Reason: reason}, &by)
}

func (s *PaymentService) offlineForStaff(ctx context.Context, actor Actor, txnID uint64) (model.Transaction, error) {
	t, err := s.repos.Transactions.GetByID(ctx, txnID)
	if err != nil {
		return model.Transaction{}, err
	}
	if t.Method != model.MethodOffline {
		return model.Transaction{}, ErrNotOffline
	}
	d, err := s.repos.Bookings.GetDetail(ctx, t.BookingID)
	if err != nil {
		return model.Transaction{}, err
	}
	ok, err := s.canActOnHall(ctx, actor, d.StudyHallID, d.OwnerID)
	if err != nil {
		return model.Transaction{}, err
	}
	if !ok {
		return model.Transaction{}, repository.ErrForbidden
	}
	return t, nil
}

// canActOnHall reports whether staff actor may handle payments of a hall:
// its owner, an incharge assigned to it, or an admin.
func (s *PaymentService) canActOnHall(ctx context.Context, actor Actor, hallID, ownerID uint64) (bool, error) {
	switch {
	case actor.Role == model.RoleAdmin:
		return true, nil
	case model.IsHallOwnerRole(actor.Role):
		return ownerID == actor.UserID, nil
	case actor.Role == model.RoleIncharge:
		return s.repos.Incharges.IsAssigned(ctx, actor.UserID, hallID)
	}
	return false, nil
}
