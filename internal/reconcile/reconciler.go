// Package reconcile applies externally observed payment statuses to
// the local booking and payment records.  Statuses arrive from two
// independent channels, gateway webhooks and on-demand polls, in any
// order and any number of times; reconciliation makes every
// confirmation happen exactly once no matter how the signals race.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prasetyautama/park-entry-booking/internal/booking"
	"github.com/prasetyautama/park-entry-booking/internal/gateway"
	"github.com/prasetyautama/park-entry-booking/internal/metrics"
	"github.com/prasetyautama/park-entry-booking/internal/model"
	"github.com/prasetyautama/park-entry-booking/internal/notify"
	"github.com/prasetyautama/park-entry-booking/internal/repository"
)

// Source names the channel a status signal arrived through.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceCounter Source = "counter"
)

// Outcome is the result of applying one status signal.
type Outcome string

const (
	// OutcomeConfirmed means this call moved the booking to confirmed.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeFailed means this call cancelled or expired the booking.
	OutcomeFailed Outcome = "failed"
	// OutcomeChallenge means the payment is held for manual review.
	OutcomeChallenge Outcome = "challenge"
	// OutcomeHealed means the booking was already confirmed but its
	// ticket was missing and has now been issued.
	OutcomeHealed Outcome = "healed"
	// OutcomeNoop means the signal carried no new information.
	OutcomeNoop Outcome = "noop"
)

// Signal is one externally observed payment status.
type Signal struct {
	Source        Source
	OrderNumber   string
	Status        gateway.Status
	TransactionID string
	Raw           []byte // provider payload snapshot, stored for audit
}

// BookingStore is the booking persistence surface reconciliation needs.
type BookingStore interface {
	GetByOrderForUpdate(ctx context.Context, orderNumber string) (*model.Booking, error)
	UpdateStatus(ctx context.Context, orderNumber string, status model.BookingStatus, at time.Time) error
}

// PaymentStore is the payment persistence surface.
type PaymentStore interface {
	GetByOrderForUpdate(ctx context.Context, orderNumber string) (*model.Payment, error)
	Update(ctx context.Context, p *model.Payment) error
}

// CouponStore records redemptions for settled bookings.
type CouponStore interface {
	RecordUsageOnce(ctx context.Context, code string, userID *uint64, bookingOrder string) error
}

// TicketIssuer creates the entry ticket, idempotently.
type TicketIssuer interface {
	GenerateForBooking(ctx context.Context, b *model.Booking) (*model.Ticket, bool, error)
}

// Notifier delivers lifecycle notifications after commit.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event) error
	ResendConfirmation(b *model.Booking, t *model.Ticket)
}

// TxRunner runs a callback inside one database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Reconciler serializes status application per booking.  Inside the
// transaction both rows are locked, the idempotency guard is checked
// and the transition is persisted; ticket issuance, coupon redemption
// and notifications run after commit and are each idempotent on their
// own, so a crash between commit and side effects is healed by the
// next signal for the same order.
type Reconciler struct {
	tx       TxRunner
	bookings BookingStore
	payments PaymentStore
	coupons  CouponStore
	tickets  TicketIssuer
	notifier Notifier
	gw       gateway.Adapter
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New builds a Reconciler.  All dependencies are required except gw,
// which is only needed for Poll.
func New(tx TxRunner, bookings BookingStore, payments PaymentStore, coupons CouponStore,
	tickets TicketIssuer, notifier Notifier, gw gateway.Adapter, m *metrics.Metrics) *Reconciler {
	if tx == nil || bookings == nil || payments == nil || coupons == nil ||
		tickets == nil || notifier == nil || m == nil {
		panic("nil dependency passed to reconcile.New")
	}
	return &Reconciler{
		tx: tx, bookings: bookings, payments: payments, coupons: coupons,
		tickets: tickets, notifier: notifier, gw: gw, metrics: m, now: time.Now,
	}
}

// applied captures what the transaction decided, for the post-commit
// side effects.
type applied struct {
	outcome Outcome
	booking *model.Booking
	reason  string
}

// Apply reconciles one status signal.  It returns the outcome and an
// error only for infrastructure failures; a signal that carries no new
// information is a successful no-op.
func (r *Reconciler) Apply(ctx context.Context, sig Signal) (Outcome, error) {
	if sig.Status == gateway.StatusUnknown || sig.Status == gateway.StatusPending {
		// No information, or nothing actionable yet.
		r.metrics.ReconcileOutcomes.WithLabelValues(string(sig.Source), string(OutcomeNoop)).Inc()
		return OutcomeNoop, nil
	}

	var res applied
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		// Lock order: booking first, then payment.  Every writer takes
		// the locks in this order so racing webhooks and polls queue up
		// instead of deadlocking.
		b, err := r.bookings.GetByOrderForUpdate(ctx, sig.OrderNumber)
		if err != nil {
			return fmt.Errorf("lock booking %s: %w", sig.OrderNumber, err)
		}
		p, err := r.payments.GetByOrderForUpdate(ctx, sig.OrderNumber)
		if err != nil {
			return fmt.Errorf("lock payment %s: %w", sig.OrderNumber, err)
		}
		res, err = r.applyLocked(ctx, sig, b, p)
		return err
	})
	if err != nil {
		return OutcomeNoop, err
	}

	r.sideEffects(ctx, sig, res)
	r.metrics.ReconcileOutcomes.WithLabelValues(string(sig.Source), string(res.outcome)).Inc()
	return res.outcome, nil
}

// applyLocked holds both row locks.  It decides the transition and
// persists it; it never performs side effects.
func (r *Reconciler) applyLocked(ctx context.Context, sig Signal, b *model.Booking, p *model.Payment) (applied, error) {
	now := r.now().UTC()

	// Idempotency guard: a settled payment never regresses.  A repeat
	// success signal is the heal probe; anything else is stale noise.
	if p.Status.TerminalSuccess() {
		if sig.Status == gateway.StatusSettled {
			return applied{outcome: OutcomeHealed, booking: b}, nil
		}
		log.Printf("reconcile: %s: ignoring %s after settled payment", sig.OrderNumber, sig.Status)
		return applied{outcome: OutcomeNoop, booking: b}, nil
	}

	switch sig.Status {
	case gateway.StatusSettled:
		if !booking.CanTransition(b.Status, model.BookingConfirmed) {
			// Terminal booking with an unsettled payment: the visitor
			// cancelled while the charge went through.  Record the
			// payment truthfully and leave the booking for the refund
			// desk.
			log.Printf("reconcile: %s: settled payment for %s booking, flagging for refund", sig.OrderNumber, b.Status)
			r.stampSuccess(p, sig, now)
			if err := r.payments.Update(ctx, p); err != nil {
				return applied{}, err
			}
			return applied{outcome: OutcomeNoop, booking: b}, nil
		}
		r.stampSuccess(p, sig, now)
		if err := r.payments.Update(ctx, p); err != nil {
			return applied{}, err
		}
		if err := r.bookings.UpdateStatus(ctx, b.OrderNumber, model.BookingConfirmed, now); err != nil {
			return applied{}, err
		}
		b.Status = model.BookingConfirmed
		b.ConfirmedAt = &now
		return applied{outcome: OutcomeConfirmed, booking: b}, nil

	case gateway.StatusDenied, gateway.StatusCancelled, gateway.StatusExpired:
		target := model.BookingCancelled
		pStatus := model.PaymentDeny
		reason := "payment denied"
		switch sig.Status {
		case gateway.StatusCancelled:
			pStatus = model.PaymentFailed
			reason = "payment cancelled"
		case gateway.StatusExpired:
			target = model.BookingExpired
			pStatus = model.PaymentExpired
			reason = "payment window expired"
		}
		if p.Status == pStatus && booking.Terminal(b.Status) {
			return applied{outcome: OutcomeNoop, booking: b}, nil
		}
		p.Status = pStatus
		r.stampSignal(p, sig, now)
		if err := r.payments.Update(ctx, p); err != nil {
			return applied{}, err
		}
		if booking.CanTransition(b.Status, target) {
			if err := r.bookings.UpdateStatus(ctx, b.OrderNumber, target, now); err != nil {
				return applied{}, err
			}
			b.Status = target
			return applied{outcome: OutcomeFailed, booking: b, reason: reason}, nil
		}
		return applied{outcome: OutcomeNoop, booking: b}, nil

	case gateway.StatusChallenge:
		if p.Status == model.PaymentChallenge {
			return applied{outcome: OutcomeNoop, booking: b}, nil
		}
		p.Status = model.PaymentChallenge
		r.stampSignal(p, sig, now)
		if err := r.payments.Update(ctx, p); err != nil {
			return applied{}, err
		}
		// The booking stays pending until fraud review resolves.
		return applied{outcome: OutcomeChallenge, booking: b}, nil
	}

	return applied{outcome: OutcomeNoop, booking: b}, nil
}

func (r *Reconciler) stampSuccess(p *model.Payment, sig Signal, now time.Time) {
	p.Status = model.PaymentSuccess
	p.PaidAt = &now
	r.stampSignal(p, sig, now)
}

func (r *Reconciler) stampSignal(p *model.Payment, sig Signal, now time.Time) {
	if sig.TransactionID != "" {
		v := sig.TransactionID
		p.TransactionID = &v
	}
	if len(sig.Raw) > 0 {
		p.RawResponse = sig.Raw
	}
	if p.Status == model.PaymentExpired {
		p.ExpiredAt = &now
	}
}

// sideEffects runs after the transaction committed.  Every effect is
// idempotent, so a repeat signal re-runs them harmlessly and a crash
// in the middle is repaired by the next signal.
func (r *Reconciler) sideEffects(ctx context.Context, sig Signal, res applied) {
	b := res.booking
	switch res.outcome {
	case OutcomeConfirmed:
		t := r.issueTicket(ctx, b)
		r.redeemCoupon(ctx, b)
		var ev notify.Event
		if b.PaymentMethod == model.PaymentMethodCash {
			ev = notify.CashPaymentConfirmed{B: b, Ticket: t}
		} else {
			ev = notify.PaymentSucceeded{B: b, Ticket: t}
		}
		if err := r.notifier.Dispatch(ctx, ev); err != nil {
			log.Printf("reconcile: %s: notify confirm failed: %v", b.OrderNumber, err)
		}

	case OutcomeHealed:
		// The confirmation already went out once; only the missing
		// ticket and its mail are repaired.
		t, created, err := r.tickets.GenerateForBooking(ctx, b)
		if err != nil {
			log.Printf("reconcile: %s: heal ticket failed: %v", b.OrderNumber, err)
			return
		}
		r.redeemCoupon(ctx, b)
		if created {
			r.metrics.TicketsIssued.Inc()
			r.notifier.ResendConfirmation(b, t)
		}

	case OutcomeFailed:
		ev := notify.PaymentFailed{B: b, Reason: res.reason}
		if err := r.notifier.Dispatch(ctx, ev); err != nil {
			log.Printf("reconcile: %s: notify failure failed: %v", b.OrderNumber, err)
		}
	}
}

func (r *Reconciler) issueTicket(ctx context.Context, b *model.Booking) *model.Ticket {
	t, created, err := r.tickets.GenerateForBooking(ctx, b)
	if err != nil {
		// The next signal or booking read heals this.
		log.Printf("reconcile: %s: issue ticket failed: %v", b.OrderNumber, err)
		return nil
	}
	if created {
		r.metrics.TicketsIssued.Inc()
	}
	return t
}

// redeemCoupon records the coupon usage for a settled booking.  The
// write is idempotent on the order number; hitting a limit here means
// concurrent bookings raced the last slot and this one keeps its
// discount anyway, which is logged for the finance report.
func (r *Reconciler) redeemCoupon(ctx context.Context, b *model.Booking) {
	if b.DiscountCode == nil {
		return
	}
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		return r.coupons.RecordUsageOnce(ctx, *b.DiscountCode, b.UserID, b.OrderNumber)
	})
	switch {
	case err == nil:
		r.metrics.CouponsRedeemed.Inc()
	case errors.Is(err, repository.ErrConflict):
		log.Printf("reconcile: %s: coupon %s over limit at settlement", b.OrderNumber, *b.DiscountCode)
	default:
		log.Printf("reconcile: %s: record coupon usage failed: %v", b.OrderNumber, err)
	}
}

// Poll asks the gateway for the order's current status and applies it.
// A gateway outage or an order the provider has never seen leaves the
// local state untouched.
func (r *Reconciler) Poll(ctx context.Context, orderNumber string) (Outcome, error) {
	if r.gw == nil {
		return OutcomeNoop, nil
	}
	status, raw, err := r.gw.QueryStatus(ctx, orderNumber)
	if err != nil {
		r.metrics.GatewayErrors.Inc()
		return OutcomeNoop, err
	}
	return r.Apply(ctx, Signal{
		Source:      SourcePoll,
		OrderNumber: orderNumber,
		Status:      status,
		Raw:         raw,
	})
}

// Refresh is Poll without the outcome, for callers that only want the
// local state brought up to date.
func (r *Reconciler) Refresh(ctx context.Context, orderNumber string) error {
	_, err := r.Poll(ctx, orderNumber)
	return err
}
