package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasetyautama/park-entry-booking/internal/coupon"
	"github.com/prasetyautama/park-entry-booking/internal/gateway"
	"github.com/prasetyautama/park-entry-booking/internal/metrics"
	"github.com/prasetyautama/park-entry-booking/internal/model"
	"github.com/prasetyautama/park-entry-booking/internal/notify"
	"github.com/prasetyautama/park-entry-booking/internal/pricing"
	"github.com/prasetyautama/park-entry-booking/internal/repository"
)

type svcTx struct{}

func (svcTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type svcBookingStore struct {
	b      *model.Booking
	items  []model.BookingItem
	nextID uint64
}

func (f *svcBookingStore) Create(_ context.Context, b *model.Booking, items []model.BookingItem) error {
	f.nextID++
	b.ID = f.nextID
	cp := *b
	f.b = &cp
	f.items = append([]model.BookingItem(nil), items...)
	return nil
}

func (f *svcBookingStore) get(order string) (*model.Booking, error) {
	if f.b == nil || f.b.OrderNumber != order {
		return nil, repository.ErrNotFound
	}
	cp := *f.b
	return &cp, nil
}

func (f *svcBookingStore) GetByOrder(_ context.Context, order string) (*model.Booking, error) {
	return f.get(order)
}

func (f *svcBookingStore) GetByOrderForUpdate(_ context.Context, order string) (*model.Booking, error) {
	return f.get(order)
}

func (f *svcBookingStore) UpdateStatus(_ context.Context, order string, status model.BookingStatus, _ time.Time) error {
	if f.b == nil || f.b.OrderNumber != order {
		return repository.ErrNotFound
	}
	f.b.Status = status
	return nil
}

func (f *svcBookingStore) UpdatePricing(_ context.Context, b *model.Booking) error {
	if f.b == nil || f.b.OrderNumber != b.OrderNumber {
		return repository.ErrNotFound
	}
	cp := *b
	f.b = &cp
	return nil
}

func (f *svcBookingStore) ReplaceItems(_ context.Context, bookingID uint64, items []model.BookingItem) error {
	f.items = append([]model.BookingItem(nil), items...)
	return nil
}

func (f *svcBookingStore) ListItems(_ context.Context, bookingID uint64) ([]model.BookingItem, error) {
	return f.items, nil
}

func (f *svcBookingStore) Archive(_ context.Context, order string) error {
	if f.b == nil || f.b.OrderNumber != order {
		return repository.ErrNotFound
	}
	now := time.Now()
	f.b.DeletedAt = &now
	return nil
}

type svcPaymentStore struct {
	p *model.Payment
}

func (f *svcPaymentStore) Create(_ context.Context, p *model.Payment) error {
	cp := *p
	f.p = &cp
	return nil
}

func (f *svcPaymentStore) GetByOrderForUpdate(_ context.Context, order string) (*model.Payment, error) {
	if f.p == nil || f.p.OrderNumber != order {
		return nil, repository.ErrNotFound
	}
	cp := *f.p
	return &cp, nil
}

func (f *svcPaymentStore) Update(_ context.Context, p *model.Payment) error {
	cp := *p
	f.p = &cp
	return nil
}

type svcPriceStore struct{ list []model.Price }

func (f *svcPriceStore) ListActive(context.Context, uint64) ([]model.Price, error) {
	return f.list, nil
}

type svcCoupons struct {
	discount int64
	cp       *model.Coupon
	err      error
}

func (f *svcCoupons) Apply(_ context.Context, code string, gross int64, _ uint64, _ *uint64) (int64, *model.Coupon, error) {
	if f.err != nil {
		return 0, nil, f.err
	}
	d := f.discount
	if d > gross {
		d = gross
	}
	return d, f.cp, nil
}

type svcRedeemCall struct {
	code   string
	userID *uint64
	order  string
}

type svcRedeemer struct {
	calls []svcRedeemCall
	err   error
}

func (f *svcRedeemer) RecordUsageOnce(_ context.Context, code string, userID *uint64, order string) error {
	if f.err != nil {
		return f.err
	}
	for _, c := range f.calls {
		if c.order == order {
			return nil
		}
	}
	f.calls = append(f.calls, svcRedeemCall{code: code, userID: userID, order: order})
	return nil
}

type svcIssuer struct {
	tickets map[uint64]*model.Ticket
	issued  int
}

func (f *svcIssuer) GenerateForBooking(_ context.Context, b *model.Booking) (*model.Ticket, bool, error) {
	if f.tickets == nil {
		f.tickets = map[uint64]*model.Ticket{}
	}
	if t, ok := f.tickets[b.ID]; ok {
		return t, false, nil
	}
	t := &model.Ticket{BookingID: b.ID, Code: "PRK-TEST", Status: model.TicketValid}
	f.tickets[b.ID] = t
	f.issued++
	return t, true, nil
}

type svcNotifier struct{ events []notify.Event }

func (f *svcNotifier) Dispatch(_ context.Context, ev notify.Event) error {
	f.events = append(f.events, ev)
	return nil
}

type svcPoller struct {
	calls int
	apply func()
}

func (f *svcPoller) Refresh(context.Context, string) error {
	f.calls++
	if f.apply != nil {
		f.apply()
	}
	return nil
}

type svcAdapter struct {
	lastReq    *gateway.SessionRequest
	sessionErr error
	cancels    int
}

func (f *svcAdapter) CreateSession(_ context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	f.lastReq = &req
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return &gateway.Session{Token: "tok-1", RedirectURL: "https://pay.example/tok-1"}, nil
}

func (f *svcAdapter) QueryStatus(context.Context, string) (gateway.Status, []byte, error) {
	return gateway.StatusUnknown, nil, nil
}

func (f *svcAdapter) Cancel(context.Context, string) (bool, error) {
	f.cancels++
	return true, nil
}

type svcFixture struct {
	svc      *Service
	store    *svcBookingStore
	payments *svcPaymentStore
	coupons  *svcCoupons
	redeems  *svcRedeemer
	issuer   *svcIssuer
	notifier *svcNotifier
	poller   *svcPoller
	adapter  *svcAdapter
	now      time.Time
}

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()
	f := &svcFixture{
		store:    &svcBookingStore{},
		payments: &svcPaymentStore{},
		coupons:  &svcCoupons{},
		redeems:  &svcRedeemer{},
		issuer:   &svcIssuer{},
		notifier: &svcNotifier{},
		poller:   &svcPoller{},
		adapter:  &svcAdapter{},
		now:      time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
	}
	prices := &svcPriceStore{list: []model.Price{
		{ID: 1, DestinationID: 5, Category: "adult", Label: "Adult entry", Amount: 10000, Active: true},
		{ID: 2, DestinationID: 5, Category: "child", Label: "Child entry", Amount: 5000, Active: true},
		{ID: 3, DestinationID: 5, Category: "car", Label: "Car parking", Amount: 15000, Active: true},
	}}
	m := metrics.New(prometheus.NewRegistry())
	f.svc = NewService(svcTx{}, f.store, f.payments, prices, f.coupons, f.redeems,
		f.issuer, f.notifier, f.poller, f.adapter, m, 2000, 2*time.Hour)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func validInput() CreateInput {
	return CreateInput{
		DestinationID: 5,
		VisitDate:     time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		LeaderName:    "Ani Wijaya",
		LeaderEmail:   "ani@example.com",
		LeaderPhone:   "+62-812-000",
		Quantities:    map[uint64]uint32{1: 2, 2: 1},
		PaymentMethod: model.PaymentMethodGateway,
	}
}

func TestCreateGatewayBooking(t *testing.T) {
	f := newSvcFixture(t)

	b, session, err := f.svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "tok-1", session.Token)

	assert.Equal(t, model.BookingPending, b.Status)
	assert.Equal(t, int64(25000), b.Subtotal)
	assert.Equal(t, int64(2000), b.ServiceFee)
	assert.Equal(t, int64(27000), b.TotalAmount)
	assert.Equal(t, uint32(3), b.VisitorCount)
	assert.Equal(t, uint32(0), b.VehicleCount)
	require.NotNil(t, b.ExpiresAt)
	assert.Equal(t, f.now.Add(2*time.Hour), *b.ExpiresAt)

	// Payment record mirrors the booking total.
	require.NotNil(t, f.payments.p)
	assert.Equal(t, b.OrderNumber, f.payments.p.OrderNumber)
	assert.Equal(t, model.PaymentPending, f.payments.p.Status)
	assert.Equal(t, b.TotalAmount, f.payments.p.GrossAmount)

	// The checkout line sum must equal the gross amount.
	require.NotNil(t, f.adapter.lastReq)
	var sum int64
	for _, l := range f.adapter.lastReq.Items {
		sum += l.Price * int64(l.Qty)
	}
	assert.Equal(t, f.adapter.lastReq.GrossAmount, sum)

	require.Len(t, f.notifier.events, 1)
	_, ok := f.notifier.events[0].(notify.BookingCreated)
	assert.True(t, ok)
	assert.Zero(t, f.issuer.issued)
}

func TestCreateCashBooking(t *testing.T) {
	f := newSvcFixture(t)
	in := validInput()
	in.PaymentMethod = model.PaymentMethodCash

	b, session, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Nil(t, f.adapter.lastReq)

	assert.Equal(t, model.BookingAwaitingCash, b.Status)
	require.NotNil(t, b.ExpiresAt)
	assert.Equal(t, CashExpiry(f.now, b.VisitDate), *b.ExpiresAt)
}

func TestCreateFullyDiscountedAutoConfirms(t *testing.T) {
	f := newSvcFixture(t)
	f.coupons.discount = 1000000 // clamped to gross by the applier
	f.coupons.cp = &model.Coupon{Code: "FREEDAY"}

	in := validInput()
	in.CouponCode = "FREEDAY"

	b, session, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, session)

	assert.Equal(t, model.BookingConfirmed, b.Status)
	assert.Zero(t, b.TotalAmount)
	require.NotNil(t, b.ConfirmedAt)

	assert.Equal(t, model.PaymentSuccess, f.payments.p.Status)
	assert.NotNil(t, f.payments.p.PaidAt)
	assert.Zero(t, f.payments.p.GrossAmount)

	assert.Equal(t, 1, f.issuer.issued)
	require.Len(t, f.notifier.events, 2)
	_, ok := f.notifier.events[1].(notify.PaymentSucceeded)
	assert.True(t, ok)
}

func TestCreateFullyDiscountedRecordsCouponUsage(t *testing.T) {
	f := newSvcFixture(t)
	user := uint64(7)
	f.coupons.discount = 1000000
	f.coupons.cp = &model.Coupon{Code: "FREEDAY", UsageLimit: 1, PerUserLimit: 1}

	in := validInput()
	in.UserID = &user
	in.CouponCode = "FREEDAY"

	b, _, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, model.BookingConfirmed, b.Status)

	// The usage row is what makes usage_limit and per_user_limit bind;
	// a booking that confirms without ever touching the gateway must
	// write it like any other settlement, or a 100%-off coupon becomes
	// redeemable without limit.
	require.Len(t, f.redeems.calls, 1)
	call := f.redeems.calls[0]
	assert.Equal(t, "FREEDAY", call.code)
	assert.Equal(t, b.OrderNumber, call.order)
	require.NotNil(t, call.userID)
	assert.Equal(t, user, *call.userID)
}

func TestCreateFullyDiscountedKeepsDiscountOnRedeemConflict(t *testing.T) {
	f := newSvcFixture(t)
	f.coupons.discount = 1000000
	f.coupons.cp = &model.Coupon{Code: "FREEDAY", UsageLimit: 1}
	f.redeems.err = repository.ErrConflict

	in := validInput()
	in.CouponCode = "FREEDAY"

	// Losing the race for the last slot is logged, never surfaced: the
	// booking stays confirmed with its discount.
	b, _, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, b.Status)
	assert.Zero(t, b.TotalAmount)
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newSvcFixture(t)

	past := validInput()
	past.VisitDate = time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	_, _, err := f.svc.Create(context.Background(), past)
	var ve *pricing.ValidationError
	require.ErrorAs(t, err, &ve)

	method := validInput()
	method.PaymentMethod = "crypto"
	_, _, err = f.svc.Create(context.Background(), method)
	require.ErrorAs(t, err, &ve)

	contact := validInput()
	contact.LeaderEmail = "  "
	_, _, err = f.svc.Create(context.Background(), contact)
	require.ErrorAs(t, err, &ve)

	assert.Nil(t, f.store.b)
}

func TestCreateCouponRejectionFailsClosed(t *testing.T) {
	f := newSvcFixture(t)
	f.coupons.err = coupon.ErrBelowMinOrder

	in := validInput()
	in.CouponCode = "PERCENT10"
	_, _, err := f.svc.Create(context.Background(), in)
	require.ErrorIs(t, err, coupon.ErrBelowMinOrder)
	assert.Nil(t, f.store.b)
}

func TestCreateSessionFailureCancelsBooking(t *testing.T) {
	f := newSvcFixture(t)
	f.adapter.sessionErr = &gateway.GatewayError{Op: "create session", StatusCode: 502, Err: errors.New("bad gateway")}

	_, _, err := f.svc.Create(context.Background(), validInput())
	require.Error(t, err)
	require.NotNil(t, f.store.b)
	assert.Equal(t, model.BookingCancelled, f.store.b.Status)
}

func TestGetExpiresLapsedCashBooking(t *testing.T) {
	f := newSvcFixture(t)
	in := validInput()
	in.PaymentMethod = model.PaymentMethodCash
	b, _, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)

	// Jump past the cash window.
	f.now = b.ExpiresAt.Add(time.Hour)

	got, _, err := f.svc.Get(context.Background(), b.OrderNumber, nil)
	require.NoError(t, err)
	assert.Equal(t, model.BookingExpired, got.Status)
	assert.Equal(t, model.BookingExpired, f.store.b.Status)
	assert.Equal(t, model.PaymentExpired, f.payments.p.Status)

	last := f.notifier.events[len(f.notifier.events)-1]
	cancelled, ok := last.(notify.BookingCancelled)
	require.True(t, ok)
	assert.Contains(t, cancelled.Reason, "cash")
}

func TestGetRefreshesPendingGatewayBooking(t *testing.T) {
	f := newSvcFixture(t)
	b, _, err := f.svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	// The poller simulates a settlement landing during the refresh.
	f.poller.apply = func() { f.store.b.Status = model.BookingConfirmed }

	got, _, err := f.svc.Get(context.Background(), b.OrderNumber, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.poller.calls)
	assert.Equal(t, model.BookingConfirmed, got.Status)
}

func TestGetHealsConfirmedBookingMissingTicket(t *testing.T) {
	f := newSvcFixture(t)
	b, _, err := f.svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	// Simulate a crash between confirmation and issuance: the booking
	// is confirmed but no ticket was ever created.
	f.store.b.Status = model.BookingConfirmed
	code := "SAVE10"
	f.store.b.DiscountCode = &code

	got, _, err := f.svc.Get(context.Background(), b.OrderNumber, nil)
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, got.Status)
	assert.Equal(t, 1, f.issuer.issued)
	require.Len(t, f.redeems.calls, 1)
	assert.Equal(t, "SAVE10", f.redeems.calls[0].code)

	// The next read finds the ticket in place and repairs nothing more.
	_, _, err = f.svc.Get(context.Background(), b.OrderNumber, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.issuer.issued)
	assert.Len(t, f.redeems.calls, 1)
}

func TestGetEnforcesOwnership(t *testing.T) {
	f := newSvcFixture(t)
	owner := uint64(7)
	in := validInput()
	in.UserID = &owner
	b, _, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)

	_, _, err = f.svc.Get(context.Background(), b.OrderNumber, nil)
	assert.ErrorIs(t, err, repository.ErrForbidden)

	other := uint64(8)
	_, _, err = f.svc.Get(context.Background(), b.OrderNumber, &other)
	assert.ErrorIs(t, err, repository.ErrForbidden)

	_, _, err = f.svc.Get(context.Background(), b.OrderNumber, &owner)
	assert.NoError(t, err)
}

func TestCancelPendingBooking(t *testing.T) {
	f := newSvcFixture(t)
	b, _, err := f.svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	got, err := f.svc.Cancel(context.Background(), b.OrderNumber, nil)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, got.Status)
	assert.Equal(t, model.PaymentFailed, f.payments.p.Status)
	assert.Equal(t, 1, f.adapter.cancels)

	last := f.notifier.events[len(f.notifier.events)-1]
	_, ok := last.(notify.BookingCancelled)
	assert.True(t, ok)
}

func TestCancelConfirmedBookingRefused(t *testing.T) {
	f := newSvcFixture(t)
	b, _, err := f.svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	f.store.b.Status = model.BookingConfirmed

	_, err = f.svc.Cancel(context.Background(), b.OrderNumber, nil)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestEditRepricesPendingBooking(t *testing.T) {
	f := newSvcFixture(t)
	b, _, err := f.svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	newDate := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	got, session, err := f.svc.Edit(context.Background(), b.OrderNumber, nil, EditInput{
		VisitDate:  newDate,
		Quantities: map[uint64]uint32{1: 1, 3: 1},
	})
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.Equal(t, newDate, got.VisitDate)
	assert.Equal(t, int64(25000), got.Subtotal) // adult 10000 + car 15000
	assert.Equal(t, int64(27000), got.TotalAmount)
	assert.Equal(t, uint32(1), got.VisitorCount)
	assert.Equal(t, uint32(1), got.VehicleCount)
	assert.Equal(t, got.TotalAmount, f.payments.p.GrossAmount)

	// Items replaced wholesale.
	require.Len(t, f.store.items, 2)
	assert.Equal(t, uint64(1), f.store.items[0].PriceID)
	assert.Equal(t, uint64(3), f.store.items[1].PriceID)

	// The stale session was voided before the new one opened.
	assert.Equal(t, 1, f.adapter.cancels)
}

func TestEditNonPendingRefused(t *testing.T) {
	f := newSvcFixture(t)
	b, _, err := f.svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	f.store.b.Status = model.BookingConfirmed

	_, _, err = f.svc.Edit(context.Background(), b.OrderNumber, nil, EditInput{
		VisitDate:  b.VisitDate,
		Quantities: map[uint64]uint32{1: 1},
	})
	assert.ErrorIs(t, err, ErrNotEditable)
}
