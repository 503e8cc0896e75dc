package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prasetyautama/park-entry-booking/internal/gateway"
	"github.com/prasetyautama/park-entry-booking/internal/metrics"
	"github.com/prasetyautama/park-entry-booking/internal/model"
	"github.com/prasetyautama/park-entry-booking/internal/notify"
	"github.com/prasetyautama/park-entry-booking/internal/pricing"
	"github.com/prasetyautama/park-entry-booking/internal/repository"
)

// Lifecycle rejections surfaced to handlers.
var (
	ErrNotEditable    = errors.New("only pending bookings can be edited")
	ErrNotCancellable = errors.New("booking can no longer be cancelled")
)

// Store is the booking persistence surface the service needs.  The SQL
// implementation is repository.BookingRepo.
type Store interface {
	Create(ctx context.Context, b *model.Booking, items []model.BookingItem) error
	GetByOrder(ctx context.Context, orderNumber string) (*model.Booking, error)
	GetByOrderForUpdate(ctx context.Context, orderNumber string) (*model.Booking, error)
	UpdateStatus(ctx context.Context, orderNumber string, status model.BookingStatus, at time.Time) error
	UpdatePricing(ctx context.Context, b *model.Booking) error
	ReplaceItems(ctx context.Context, bookingID uint64, items []model.BookingItem) error
	ListItems(ctx context.Context, bookingID uint64) ([]model.BookingItem, error)
	Archive(ctx context.Context, orderNumber string) error
}

// PaymentStore is the payment persistence surface.
type PaymentStore interface {
	Create(ctx context.Context, p *model.Payment) error
	GetByOrderForUpdate(ctx context.Context, orderNumber string) (*model.Payment, error)
	Update(ctx context.Context, p *model.Payment) error
}

// PriceStore reads a destination's active price list.
type PriceStore interface {
	ListActive(ctx context.Context, destinationID uint64) ([]model.Price, error)
}

// CouponApplier prices a coupon code against order context.
type CouponApplier interface {
	Apply(ctx context.Context, code string, grossTotal int64, destinationID uint64, userID *uint64) (int64, *model.Coupon, error)
}

// CouponRedeemer records a redemption once a booking confirms.  The
// usage rows are what make the limits bind, so every confirmation path
// must write one; fully discounted bookings never reach the
// reconciliation engine and record theirs here.
type CouponRedeemer interface {
	RecordUsageOnce(ctx context.Context, code string, userID *uint64, bookingOrder string) error
}

// TicketIssuer creates tickets for auto-confirmed bookings.
type TicketIssuer interface {
	GenerateForBooking(ctx context.Context, b *model.Booking) (*model.Ticket, bool, error)
}

// Notifier delivers lifecycle notifications after commit.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event) error
}

// Poller refreshes a pending gateway booking from the provider before
// it is shown to the visitor.
type Poller interface {
	Refresh(ctx context.Context, orderNumber string) error
}

// TxRunner runs a callback inside one database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CreateInput is a booking creation request after transport decoding.
type CreateInput struct {
	UserID        *uint64
	DestinationID uint64
	VisitDate     time.Time
	LeaderName    string
	LeaderEmail   string
	LeaderPhone   string
	Quantities    map[uint64]uint32 // price id -> qty
	CouponCode    string
	PaymentMethod string
}

// EditInput replaces a pending booking's contents wholesale.  A nil
// CouponCode keeps the current coupon; an empty string removes it.
type EditInput struct {
	VisitDate  time.Time
	Quantities map[uint64]uint32
	CouponCode *string
}

// Service orchestrates the booking lifecycle.  It owns pricing and
// coupon application at the edges; everything that settles a payment
// goes through the reconciliation engine instead.
type Service struct {
	tx       TxRunner
	store    Store
	payments PaymentStore
	prices   PriceStore
	coupons  CouponApplier
	redeems  CouponRedeemer
	tickets  TicketIssuer
	notifier Notifier
	poller   Poller
	gw       gateway.Adapter
	metrics  *metrics.Metrics

	serviceFee    int64
	sessionExpiry time.Duration
	now           func() time.Time
}

// NewService builds a Service.  poller may be nil to disable
// reconcile-on-read; everything else is required.
func NewService(tx TxRunner, store Store, payments PaymentStore, prices PriceStore,
	coupons CouponApplier, redeems CouponRedeemer, tickets TicketIssuer, notifier Notifier,
	poller Poller, gw gateway.Adapter, m *metrics.Metrics, serviceFee int64, sessionExpiry time.Duration) *Service {
	if tx == nil || store == nil || payments == nil || prices == nil || coupons == nil ||
		redeems == nil || tickets == nil || notifier == nil || gw == nil || m == nil {
		panic("nil dependency passed to booking.NewService")
	}
	if sessionExpiry <= 0 {
		sessionExpiry = 2 * time.Hour
	}
	return &Service{
		tx: tx, store: store, payments: payments, prices: prices, coupons: coupons,
		redeems: redeems, tickets: tickets, notifier: notifier, poller: poller,
		gw: gw, metrics: m,
		serviceFee: serviceFee, sessionExpiry: sessionExpiry, now: time.Now,
	}
}

// priced is the result of running input through pricing and the coupon
// engine.
type priced struct {
	result   *pricing.Result
	discount int64
	code     *string
	total    int64
}

// price validates quantities against the destination's active list and
// applies the coupon, if any.  Coupon rejections are returned verbatim
// so handlers can show the reason.
func (s *Service) price(ctx context.Context, destinationID uint64, quantities map[uint64]uint32, couponCode string, userID *uint64) (*priced, error) {
	list, err := s.prices.ListActive(ctx, destinationID)
	if err != nil {
		return nil, fmt.Errorf("load price list: %w", err)
	}
	res, err := pricing.ComputeItems(quantities, list)
	if err != nil {
		return nil, err
	}
	gross := res.Subtotal + s.serviceFee
	p := &priced{result: res, total: gross}
	if code := strings.TrimSpace(couponCode); code != "" {
		discount, cp, err := s.coupons.Apply(ctx, code, gross, destinationID, userID)
		if err != nil {
			return nil, err
		}
		p.discount = discount
		p.code = &cp.Code
		p.total = gross - discount
	}
	return p, nil
}

// Create prices the request, persists the booking with its payment
// record and opens the payment path the visitor chose.  A zero total
// (fully discounted) confirms immediately with a synthetic settled
// payment; cash waits at the counter; everything else gets a gateway
// checkout session.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Booking, *gateway.Session, error) {
	now := s.now().UTC()
	if err := s.validateCreate(in, now); err != nil {
		return nil, nil, err
	}
	p, err := s.price(ctx, in.DestinationID, in.Quantities, in.CouponCode, in.UserID)
	if err != nil {
		return nil, nil, err
	}

	b := &model.Booking{
		OrderNumber:   newOrderNumber(now),
		UserID:        in.UserID,
		DestinationID: in.DestinationID,
		Status:        model.BookingPending,
		VisitDate:     in.VisitDate,
		LeaderName:    strings.TrimSpace(in.LeaderName),
		LeaderEmail:   strings.TrimSpace(in.LeaderEmail),
		LeaderPhone:   strings.TrimSpace(in.LeaderPhone),
		VisitorCount:  p.result.VisitorCount,
		VehicleCount:  p.result.VehicleCount,
		Subtotal:      p.result.Subtotal,
		ServiceFee:    s.serviceFee,
		Discount:      p.discount,
		DiscountCode:  p.code,
		TotalAmount:   p.total,
		PaymentMethod: in.PaymentMethod,
	}
	pay := &model.Payment{
		OrderNumber: b.OrderNumber,
		Status:      model.PaymentPending,
		GrossAmount: b.TotalAmount,
	}

	switch {
	case b.TotalAmount == 0:
		// Fully discounted: nothing to collect, confirm on the spot.
		b.Status = model.BookingConfirmed
		b.ConfirmedAt = &now
		pay.Status = model.PaymentSuccess
		pay.PaidAt = &now
	case b.PaymentMethod == model.PaymentMethodCash:
		b.Status = model.BookingAwaitingCash
		exp := CashExpiry(now, b.VisitDate)
		b.ExpiresAt = &exp
	default:
		exp := now.Add(s.sessionExpiry)
		b.ExpiresAt = &exp
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, b, p.result.Items); err != nil {
			return fmt.Errorf("create booking: %w", err)
		}
		if err := s.payments.Create(ctx, pay); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.metrics.BookingsCreated.WithLabelValues(b.PaymentMethod).Inc()

	var session *gateway.Session
	if b.Status == model.BookingPending {
		session, err = s.openSession(ctx, b, p.result.Items)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := s.notifier.Dispatch(ctx, notify.BookingCreated{B: b}); err != nil {
		log.Printf("booking: %s: notify created failed: %v", b.OrderNumber, err)
	}
	if b.Status == model.BookingConfirmed {
		t, created, err := s.tickets.GenerateForBooking(ctx, b)
		if err != nil {
			log.Printf("booking: %s: issue ticket failed: %v", b.OrderNumber, err)
		} else if created {
			s.metrics.TicketsIssued.Inc()
		}
		s.redeemCoupon(ctx, b)
		if err := s.notifier.Dispatch(ctx, notify.PaymentSucceeded{B: b, Ticket: t}); err != nil {
			log.Printf("booking: %s: notify confirmed failed: %v", b.OrderNumber, err)
		}
	}
	return b, session, nil
}

// redeemCoupon records the coupon usage for a confirmed booking.  The
// write is idempotent on the order number; a limit hit here means
// concurrent bookings raced the last slot and this one keeps its
// discount anyway, which is logged for the finance report.
func (s *Service) redeemCoupon(ctx context.Context, b *model.Booking) {
	if b.DiscountCode == nil {
		return
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.redeems.RecordUsageOnce(ctx, *b.DiscountCode, b.UserID, b.OrderNumber)
	})
	switch {
	case err == nil:
		s.metrics.CouponsRedeemed.Inc()
	case errors.Is(err, repository.ErrConflict):
		log.Printf("booking: %s: coupon %s over limit at confirmation", b.OrderNumber, *b.DiscountCode)
	default:
		log.Printf("booking: %s: record coupon usage failed: %v", b.OrderNumber, err)
	}
}

// openSession asks the gateway for a checkout session.  When the
// provider rejects or times out the fresh booking is cancelled so the
// visitor can simply retry; the rows never linger in pending with no
// way to pay.
func (s *Service) openSession(ctx context.Context, b *model.Booking, items []model.BookingItem) (*gateway.Session, error) {
	session, err := s.gw.CreateSession(ctx, gateway.SessionRequest{
		OrderNumber:   b.OrderNumber,
		GrossAmount:   b.TotalAmount,
		Items:         checkoutLines(b, items),
		CustomerName:  b.LeaderName,
		CustomerEmail: b.LeaderEmail,
		CustomerPhone: b.LeaderPhone,
		Expiry:        s.sessionExpiry,
	})
	if err == nil {
		return session, nil
	}
	s.metrics.GatewayErrors.Inc()
	now := s.now().UTC()
	txErr := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetByOrderForUpdate(ctx, b.OrderNumber); err != nil {
			return err
		}
		return s.store.UpdateStatus(ctx, b.OrderNumber, model.BookingCancelled, now)
	})
	if txErr != nil {
		log.Printf("booking: %s: cancel after session failure failed: %v", b.OrderNumber, txErr)
	} else {
		b.Status = model.BookingCancelled
	}
	return nil, fmt.Errorf("open checkout session: %w", err)
}

// checkoutLines renders the booking as gateway line items.  The
// service fee is its own line and the coupon discount travels as a
// negative line so the provider's line sum matches the gross amount.
func checkoutLines(b *model.Booking, items []model.BookingItem) []gateway.LineItem {
	lines := make([]gateway.LineItem, 0, len(items)+2)
	for _, it := range items {
		lines = append(lines, gateway.LineItem{
			ID:    fmt.Sprintf("price-%d", it.PriceID),
			Name:  it.Label,
			Price: it.UnitPrice,
			Qty:   it.Quantity,
		})
	}
	if b.ServiceFee > 0 {
		lines = append(lines, gateway.LineItem{ID: "service-fee", Name: "Service fee", Price: b.ServiceFee, Qty: 1})
	}
	if b.Discount > 0 {
		name := "Discount"
		if b.DiscountCode != nil {
			name = "Discount (" + *b.DiscountCode + ")"
		}
		lines = append(lines, gateway.LineItem{ID: "discount", Name: name, Price: -b.Discount, Qty: 1})
	}
	return lines
}

// Get returns the booking with its items, applying the lazy repairs a
// read implies: an awaiting_cash booking past its window flips to
// expired, a pending gateway booking is refreshed from the provider so
// a missed webhook cannot strand it, and a confirmed booking missing
// its ticket gets one issued.
func (s *Service) Get(ctx context.Context, orderNumber string, userID *uint64) (*model.Booking, []model.BookingItem, error) {
	b, err := s.store.GetByOrder(ctx, orderNumber)
	if err != nil {
		return nil, nil, err
	}
	if err := authorize(b, userID); err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	if CashExpired(b, now) {
		if err := s.expireCash(ctx, b, now); err != nil {
			return nil, nil, err
		}
	}
	if b.Status == model.BookingPending && b.PaymentMethod == model.PaymentMethodGateway && s.poller != nil {
		if err := s.poller.Refresh(ctx, orderNumber); err != nil {
			// Provider trouble never blocks the read; the visitor sees
			// the last known state.
			log.Printf("booking: %s: refresh from gateway failed: %v", orderNumber, err)
		}
		if fresh, err := s.store.GetByOrder(ctx, orderNumber); err == nil {
			b = fresh
		}
	}
	if b.Status == model.BookingConfirmed {
		// A crash between confirmation and issuance leaves a confirmed
		// booking with no ticket; the next read repairs it.
		if _, created, err := s.tickets.GenerateForBooking(ctx, b); err != nil {
			log.Printf("booking: %s: heal ticket failed: %v", b.OrderNumber, err)
		} else if created {
			s.metrics.TicketsIssued.Inc()
			s.redeemCoupon(ctx, b)
		}
	}

	items, err := s.store.ListItems(ctx, b.ID)
	if err != nil {
		return nil, nil, err
	}
	return b, items, nil
}

// expireCash flips a lapsed awaiting_cash booking to expired.  The
// window is re-checked under the row lock because a counter payment
// may have landed between the read and the lock.
func (s *Service) expireCash(ctx context.Context, b *model.Booking, now time.Time) error {
	var expired bool
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := s.store.GetByOrderForUpdate(ctx, b.OrderNumber)
		if err != nil {
			return err
		}
		if !CashExpired(locked, now) {
			*b = *locked
			return nil
		}
		if err := s.store.UpdateStatus(ctx, b.OrderNumber, model.BookingExpired, now); err != nil {
			return err
		}
		p, err := s.payments.GetByOrderForUpdate(ctx, b.OrderNumber)
		if err != nil {
			return err
		}
		p.Status = model.PaymentExpired
		p.ExpiredAt = &now
		if err := s.payments.Update(ctx, p); err != nil {
			return err
		}
		b.Status = model.BookingExpired
		b.ExpiredAt = &now
		expired = true
		return nil
	})
	if err != nil {
		return err
	}
	if expired {
		ev := notify.BookingCancelled{B: b, Reason: "cash payment window lapsed"}
		if err := s.notifier.Dispatch(ctx, ev); err != nil {
			log.Printf("booking: %s: notify expiry failed: %v", b.OrderNumber, err)
		}
	}
	return nil
}

// Edit replaces a pending booking's visit date, quantities and coupon
// wholesale and reprices it.  Anything past pending is immutable; the
// visitor cancels and rebooks instead.
func (s *Service) Edit(ctx context.Context, orderNumber string, userID *uint64, in EditInput) (*model.Booking, *gateway.Session, error) {
	now := s.now().UTC()
	if in.VisitDate.Before(startOfDay(now)) {
		return nil, nil, pricing.NewValidationError("visit date is in the past")
	}

	current, err := s.store.GetByOrder(ctx, orderNumber)
	if err != nil {
		return nil, nil, err
	}
	if err := authorize(current, userID); err != nil {
		return nil, nil, err
	}
	if current.Status != model.BookingPending {
		return nil, nil, ErrNotEditable
	}

	code := ""
	if in.CouponCode != nil {
		code = *in.CouponCode
	} else if current.DiscountCode != nil {
		code = *current.DiscountCode
	}
	p, err := s.price(ctx, current.DestinationID, in.Quantities, code, userID)
	if err != nil {
		return nil, nil, err
	}

	var b *model.Booking
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := s.store.GetByOrderForUpdate(ctx, orderNumber)
		if err != nil {
			return err
		}
		if locked.Status != model.BookingPending {
			return ErrNotEditable
		}
		locked.VisitDate = in.VisitDate
		locked.VisitorCount = p.result.VisitorCount
		locked.VehicleCount = p.result.VehicleCount
		locked.Subtotal = p.result.Subtotal
		locked.ServiceFee = s.serviceFee
		locked.Discount = p.discount
		locked.DiscountCode = p.code
		locked.TotalAmount = p.total
		exp := now.Add(s.sessionExpiry)
		locked.ExpiresAt = &exp
		if err := s.store.UpdatePricing(ctx, locked); err != nil {
			return err
		}
		if err := s.store.ReplaceItems(ctx, locked.ID, p.result.Items); err != nil {
			return err
		}
		pay, err := s.payments.GetByOrderForUpdate(ctx, orderNumber)
		if err != nil {
			return err
		}
		pay.GrossAmount = locked.TotalAmount
		if err := s.payments.Update(ctx, pay); err != nil {
			return err
		}
		b = locked
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	// The old checkout session prices the old totals; void it and open
	// a fresh one.
	if ok, err := s.gw.Cancel(ctx, orderNumber); err != nil {
		log.Printf("booking: %s: void stale session failed: %v", orderNumber, err)
	} else if !ok {
		log.Printf("booking: %s: provider kept the stale session", orderNumber)
	}
	session, err := s.openSession(ctx, b, p.result.Items)
	if err != nil {
		return nil, nil, err
	}
	return b, session, nil
}

// Cancel cancels a pending or awaiting_cash booking on the visitor's
// request.  Confirmed bookings are money already taken and go through
// the refund desk instead.
func (s *Service) Cancel(ctx context.Context, orderNumber string, userID *uint64) (*model.Booking, error) {
	now := s.now().UTC()
	var b *model.Booking
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := s.store.GetByOrderForUpdate(ctx, orderNumber)
		if err != nil {
			return err
		}
		if err := authorize(locked, userID); err != nil {
			return err
		}
		if locked.Status != model.BookingPending && locked.Status != model.BookingAwaitingCash {
			return ErrNotCancellable
		}
		if err := s.store.UpdateStatus(ctx, orderNumber, model.BookingCancelled, now); err != nil {
			return err
		}
		p, err := s.payments.GetByOrderForUpdate(ctx, orderNumber)
		if err != nil {
			return err
		}
		if !p.Status.TerminalSuccess() {
			p.Status = model.PaymentFailed
			if err := s.payments.Update(ctx, p); err != nil {
				return err
			}
		}
		locked.Status = model.BookingCancelled
		locked.CancelledAt = &now
		b = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	if b.PaymentMethod == model.PaymentMethodGateway {
		if _, err := s.gw.Cancel(ctx, orderNumber); err != nil {
			log.Printf("booking: %s: gateway cancel failed: %v", orderNumber, err)
		}
	}
	ev := notify.BookingCancelled{B: b, Reason: "cancelled by visitor"}
	if err := s.notifier.Dispatch(ctx, ev); err != nil {
		log.Printf("booking: %s: notify cancel failed: %v", orderNumber, err)
	}
	return b, nil
}

// Archive soft-deletes a terminal booking for the admin console.
func (s *Service) Archive(ctx context.Context, orderNumber string) error {
	b, err := s.store.GetByOrder(ctx, orderNumber)
	if err != nil {
		return err
	}
	if !Terminal(b.Status) {
		return ErrNotCancellable
	}
	return s.store.Archive(ctx, orderNumber)
}

func (s *Service) validateCreate(in CreateInput, now time.Time) error {
	if in.DestinationID == 0 {
		return pricing.NewValidationError("destination is required")
	}
	if in.VisitDate.Before(startOfDay(now)) {
		return pricing.NewValidationError("visit date is in the past")
	}
	if strings.TrimSpace(in.LeaderName) == "" || strings.TrimSpace(in.LeaderEmail) == "" {
		return pricing.NewValidationError("leader name and email are required")
	}
	if in.PaymentMethod != model.PaymentMethodGateway && in.PaymentMethod != model.PaymentMethodCash {
		return pricing.NewValidationError("payment method must be %q or %q", model.PaymentMethodGateway, model.PaymentMethodCash)
	}
	return nil
}

// authorize enforces ownership: a booking bound to an account is
// invisible to everyone else, while guest bookings are addressable by
// anyone holding the order number.
func authorize(b *model.Booking, userID *uint64) error {
	if b.UserID == nil {
		return nil
	}
	if userID == nil || *userID != *b.UserID {
		return repository.ErrForbidden
	}
	return nil
}

// newOrderNumber builds the unique order reference shared with the
// gateway, e.g. PB-20260310-9F4C21D0.
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return "PB-" + now.Format("20060102") + "-" + suffix
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
