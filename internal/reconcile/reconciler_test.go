package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasetyautama/park-entry-booking/internal/gateway"
	"github.com/prasetyautama/park-entry-booking/internal/metrics"
	"github.com/prasetyautama/park-entry-booking/internal/model"
	"github.com/prasetyautama/park-entry-booking/internal/notify"
	"github.com/prasetyautama/park-entry-booking/internal/repository"
)

type fakeTx struct{ calls int }

func (f *fakeTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type fakeBookingStore struct {
	b *model.Booking
}

func (f *fakeBookingStore) GetByOrderForUpdate(_ context.Context, order string) (*model.Booking, error) {
	if f.b == nil || f.b.OrderNumber != order {
		return nil, repository.ErrNotFound
	}
	cp := *f.b
	return &cp, nil
}

func (f *fakeBookingStore) UpdateStatus(_ context.Context, order string, status model.BookingStatus, at time.Time) error {
	if f.b == nil || f.b.OrderNumber != order {
		return repository.ErrNotFound
	}
	f.b.Status = status
	return nil
}

type fakePaymentStore struct {
	p *model.Payment
}

func (f *fakePaymentStore) GetByOrderForUpdate(_ context.Context, order string) (*model.Payment, error) {
	if f.p == nil || f.p.OrderNumber != order {
		return nil, repository.ErrNotFound
	}
	cp := *f.p
	return &cp, nil
}

func (f *fakePaymentStore) Update(_ context.Context, p *model.Payment) error {
	if f.p == nil || f.p.OrderNumber != p.OrderNumber {
		return repository.ErrNotFound
	}
	cp := *p
	f.p = &cp
	return nil
}

type fakeCouponStore struct {
	orders map[string]int
	err    error
}

func (f *fakeCouponStore) RecordUsageOnce(_ context.Context, code string, userID *uint64, order string) error {
	if f.err != nil {
		return f.err
	}
	if f.orders == nil {
		f.orders = map[string]int{}
	}
	if f.orders[order] > 0 {
		return nil
	}
	f.orders[order]++
	return nil
}

type fakeIssuer struct {
	tickets map[uint64]*model.Ticket
	err     error
}

func (f *fakeIssuer) GenerateForBooking(_ context.Context, b *model.Booking) (*model.Ticket, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if f.tickets == nil {
		f.tickets = map[uint64]*model.Ticket{}
	}
	if t, ok := f.tickets[b.ID]; ok {
		return t, false, nil
	}
	t := &model.Ticket{ID: b.ID, BookingID: b.ID, Code: "PRK-TEST", Status: model.TicketValid}
	f.tickets[b.ID] = t
	return t, true, nil
}

type fakeNotifier struct {
	events  []notify.Event
	resends int
}

func (f *fakeNotifier) Dispatch(_ context.Context, ev notify.Event) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeNotifier) ResendConfirmation(*model.Booking, *model.Ticket) { f.resends++ }

type fakeAdapter struct {
	status gateway.Status
	raw    []byte
	err    error
}

func (f *fakeAdapter) CreateSession(context.Context, gateway.SessionRequest) (*gateway.Session, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAdapter) QueryStatus(context.Context, string) (gateway.Status, []byte, error) {
	return f.status, f.raw, f.err
}

func (f *fakeAdapter) Cancel(context.Context, string) (bool, error) { return false, nil }

type fixture struct {
	r        *Reconciler
	tx       *fakeTx
	bookings *fakeBookingStore
	payments *fakePaymentStore
	coupons  *fakeCouponStore
	issuer   *fakeIssuer
	notifier *fakeNotifier
	adapter  *fakeAdapter
}

func newFixture(t *testing.T, b *model.Booking, p *model.Payment) *fixture {
	t.Helper()
	f := &fixture{
		tx:       &fakeTx{},
		bookings: &fakeBookingStore{b: b},
		payments: &fakePaymentStore{p: p},
		coupons:  &fakeCouponStore{},
		issuer:   &fakeIssuer{},
		notifier: &fakeNotifier{},
		adapter:  &fakeAdapter{},
	}
	m := metrics.New(prometheus.NewRegistry())
	f.r = New(f.tx, f.bookings, f.payments, f.coupons, f.issuer, f.notifier, f.adapter, m)
	f.r.now = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) }
	return f
}

func pendingBooking() (*model.Booking, *model.Payment) {
	b := &model.Booking{
		ID:            1,
		OrderNumber:   "PB-20260309-0001",
		Status:        model.BookingPending,
		PaymentMethod: model.PaymentMethodGateway,
		VisitDate:     time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		TotalAmount:   60000,
	}
	p := &model.Payment{
		OrderNumber: b.OrderNumber,
		Status:      model.PaymentPending,
		GrossAmount: b.TotalAmount,
	}
	return b, p
}

func TestApplySettledConfirmsOnce(t *testing.T) {
	b, p := pendingBooking()
	f := newFixture(t, b, p)

	sig := Signal{
		Source:        SourceWebhook,
		OrderNumber:   b.OrderNumber,
		Status:        gateway.StatusSettled,
		TransactionID: "txn-1",
		Raw:           []byte(`{"transaction_status":"settlement"}`),
	}

	outcome, err := f.r.Apply(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)

	assert.Equal(t, model.BookingConfirmed, f.bookings.b.Status)
	assert.Equal(t, model.PaymentSuccess, f.payments.p.Status)
	require.NotNil(t, f.payments.p.TransactionID)
	assert.Equal(t, "txn-1", *f.payments.p.TransactionID)
	assert.NotNil(t, f.payments.p.PaidAt)
	assert.Equal(t, sig.Raw, f.payments.p.RawResponse)

	require.Len(t, f.issuer.tickets, 1)
	require.Len(t, f.notifier.events, 1)
	_, ok := f.notifier.events[0].(notify.PaymentSucceeded)
	assert.True(t, ok)
}

func TestApplyDuplicateSettledIsHarmless(t *testing.T) {
	// A webhook and a poll both observe the settlement.
	b, p := pendingBooking()
	f := newFixture(t, b, p)

	sig := Signal{Source: SourceWebhook, OrderNumber: b.OrderNumber, Status: gateway.StatusSettled}
	outcome, err := f.r.Apply(context.Background(), sig)
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, outcome)

	sig.Source = SourcePoll
	outcome, err = f.r.Apply(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHealed, outcome)

	// Exactly one ticket, one notification, one coupon-free redemption
	// attempt, no confirmation resend because the ticket already exists.
	assert.Len(t, f.issuer.tickets, 1)
	assert.Len(t, f.notifier.events, 1)
	assert.Zero(t, f.notifier.resends)
}

func TestApplyHealsMissingTicket(t *testing.T) {
	// Booking confirmed, payment settled, but the process died before
	// ticket issuance.  The next settled signal repairs it.
	b, p := pendingBooking()
	now := time.Date(2026, 3, 9, 11, 0, 0, 0, time.UTC)
	b.Status = model.BookingConfirmed
	b.ConfirmedAt = &now
	p.Status = model.PaymentSuccess
	f := newFixture(t, b, p)

	outcome, err := f.r.Apply(context.Background(), Signal{
		Source: SourcePoll, OrderNumber: b.OrderNumber, Status: gateway.StatusSettled,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeHealed, outcome)

	assert.Len(t, f.issuer.tickets, 1)
	assert.Equal(t, 1, f.notifier.resends)
	// No second in-app "confirmed" notification.
	assert.Empty(t, f.notifier.events)
}

func TestApplyFailureCancelsBooking(t *testing.T) {
	cases := []struct {
		status  gateway.Status
		booking model.BookingStatus
		payment model.PaymentStatus
	}{
		{gateway.StatusDenied, model.BookingCancelled, model.PaymentDeny},
		{gateway.StatusCancelled, model.BookingCancelled, model.PaymentFailed},
		{gateway.StatusExpired, model.BookingExpired, model.PaymentExpired},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			b, p := pendingBooking()
			f := newFixture(t, b, p)

			outcome, err := f.r.Apply(context.Background(), Signal{
				Source: SourceWebhook, OrderNumber: b.OrderNumber, Status: tc.status,
			})
			require.NoError(t, err)
			assert.Equal(t, OutcomeFailed, outcome)
			assert.Equal(t, tc.booking, f.bookings.b.Status)
			assert.Equal(t, tc.payment, f.payments.p.Status)

			require.Len(t, f.notifier.events, 1)
			_, ok := f.notifier.events[0].(notify.PaymentFailed)
			assert.True(t, ok)
			assert.Empty(t, f.issuer.tickets)
		})
	}
}

func TestApplyFailureAfterSettlementIsIgnored(t *testing.T) {
	b, p := pendingBooking()
	b.Status = model.BookingConfirmed
	p.Status = model.PaymentSuccess
	f := newFixture(t, b, p)

	outcome, err := f.r.Apply(context.Background(), Signal{
		Source: SourceWebhook, OrderNumber: b.OrderNumber, Status: gateway.StatusExpired,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, model.BookingConfirmed, f.bookings.b.Status)
	assert.Equal(t, model.PaymentSuccess, f.payments.p.Status)
}

func TestApplySettledOnCancelledBookingFlagsRefund(t *testing.T) {
	b, p := pendingBooking()
	b.Status = model.BookingCancelled
	f := newFixture(t, b, p)

	outcome, err := f.r.Apply(context.Background(), Signal{
		Source: SourceWebhook, OrderNumber: b.OrderNumber, Status: gateway.StatusSettled,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	// The money is recorded; the booking stays cancelled.
	assert.Equal(t, model.PaymentSuccess, f.payments.p.Status)
	assert.Equal(t, model.BookingCancelled, f.bookings.b.Status)
	assert.Empty(t, f.issuer.tickets)
}

func TestApplyChallengeHoldsBooking(t *testing.T) {
	b, p := pendingBooking()
	f := newFixture(t, b, p)

	outcome, err := f.r.Apply(context.Background(), Signal{
		Source: SourceWebhook, OrderNumber: b.OrderNumber, Status: gateway.StatusChallenge,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeChallenge, outcome)
	assert.Equal(t, model.BookingPending, f.bookings.b.Status)
	assert.Equal(t, model.PaymentChallenge, f.payments.p.Status)
	assert.Empty(t, f.notifier.events)
}

func TestApplyUnknownTouchesNothing(t *testing.T) {
	b, p := pendingBooking()
	f := newFixture(t, b, p)

	for _, s := range []gateway.Status{gateway.StatusUnknown, gateway.StatusPending} {
		outcome, err := f.r.Apply(context.Background(), Signal{
			Source: SourcePoll, OrderNumber: b.OrderNumber, Status: s,
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoop, outcome)
	}
	assert.Zero(t, f.tx.calls)
	assert.Equal(t, model.BookingPending, f.bookings.b.Status)
}

func TestApplySettledRedeemsCouponOnce(t *testing.T) {
	b, p := pendingBooking()
	code := "PERCENT10"
	b.DiscountCode = &code
	f := newFixture(t, b, p)

	sig := Signal{Source: SourceWebhook, OrderNumber: b.OrderNumber, Status: gateway.StatusSettled}
	_, err := f.r.Apply(context.Background(), sig)
	require.NoError(t, err)
	_, err = f.r.Apply(context.Background(), sig)
	require.NoError(t, err)

	assert.Equal(t, 1, f.coupons.orders[b.OrderNumber])
}

func TestApplyCashCounterConfirmation(t *testing.T) {
	b, p := pendingBooking()
	b.Status = model.BookingAwaitingCash
	b.PaymentMethod = model.PaymentMethodCash
	f := newFixture(t, b, p)

	outcome, err := f.r.Apply(context.Background(), Signal{
		Source: SourceCounter, OrderNumber: b.OrderNumber, Status: gateway.StatusSettled,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)
	assert.Equal(t, model.BookingConfirmed, f.bookings.b.Status)

	require.Len(t, f.notifier.events, 1)
	_, ok := f.notifier.events[0].(notify.CashPaymentConfirmed)
	assert.True(t, ok)
}

func TestPollGatewayErrorLeavesStateAlone(t *testing.T) {
	b, p := pendingBooking()
	f := newFixture(t, b, p)
	f.adapter.err = &gateway.GatewayError{Op: "query status", StatusCode: 502, Err: errors.New("bad gateway")}

	_, err := f.r.Poll(context.Background(), b.OrderNumber)
	require.Error(t, err)
	assert.Equal(t, model.BookingPending, f.bookings.b.Status)
	assert.Equal(t, model.PaymentPending, f.payments.p.Status)
}

func TestPollAppliesGatewayAnswer(t *testing.T) {
	b, p := pendingBooking()
	f := newFixture(t, b, p)
	f.adapter.status = gateway.StatusSettled
	f.adapter.raw = []byte(`{"transaction_status":"settlement"}`)

	outcome, err := f.r.Poll(context.Background(), b.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, outcome)
	assert.Equal(t, f.adapter.raw, f.payments.p.RawResponse)
}

func TestPollUnknownIsNoop(t *testing.T) {
	b, p := pendingBooking()
	f := newFixture(t, b, p)
	f.adapter.status = gateway.StatusUnknown

	outcome, err := f.r.Poll(context.Background(), b.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, model.BookingPending, f.bookings.b.Status)
}
