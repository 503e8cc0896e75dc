package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasetyautama/park-entry-booking/internal/model"
	"github.com/prasetyautama/park-entry-booking/internal/queue"
)

type fakeNotificationStore struct {
	rows []*model.Notification
	err  error
}

func (f *fakeNotificationStore) Create(_ context.Context, n *model.Notification) error {
	if f.err != nil {
		return f.err
	}
	n.ID = uint64(len(f.rows) + 1)
	f.rows = append(f.rows, n)
	return nil
}

type fakeMailer struct {
	confirmations []string
	instructions  []string
	pdfs          [][]byte
	err           error
}

func (f *fakeMailer) SendConfirmation(b *model.Booking, pdf []byte) error {
	if f.err != nil {
		return f.err
	}
	f.confirmations = append(f.confirmations, b.OrderNumber)
	f.pdfs = append(f.pdfs, pdf)
	return nil
}

func (f *fakeMailer) SendCashInstructions(b *model.Booking) error {
	if f.err != nil {
		return f.err
	}
	f.instructions = append(f.instructions, b.OrderNumber)
	return nil
}

type fakePush struct {
	events []queue.NotificationPushEvent
	err    error
}

func (f *fakePush) PublishNotification(_ context.Context, ev queue.NotificationPushEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func gatewayBooking() *model.Booking {
	uid := uint64(9)
	return &model.Booking{
		ID:            1,
		OrderNumber:   "PB-20260310-0001",
		UserID:        &uid,
		Status:        model.BookingConfirmed,
		PaymentMethod: model.PaymentMethodGateway,
		LeaderName:    "Ani Wijaya",
		LeaderEmail:   "ani@example.com",
	}
}

func TestDispatchWritesInAppRowFirst(t *testing.T) {
	store := &fakeNotificationStore{}
	mailer := &fakeMailer{}
	push := &fakePush{}
	d := NewDispatcher(store, mailer, nil, push)

	b := gatewayBooking()
	err := d.Dispatch(context.Background(), PaymentSucceeded{B: b})
	require.NoError(t, err)

	require.Len(t, store.rows, 1)
	row := store.rows[0]
	assert.Equal(t, "payment.succeeded", row.Kind)
	assert.Equal(t, b.UserID, row.UserID)
	assert.Contains(t, row.Message, b.OrderNumber)
	assert.Equal(t, "/bookings/PB-20260310-0001", row.Link)

	require.Len(t, push.events, 1)
	assert.Equal(t, row.ID, push.events[0].NotificationID)
	assert.Equal(t, "payment.succeeded", push.events[0].Kind)

	assert.Equal(t, []string{b.OrderNumber}, mailer.confirmations)
}

func TestDispatchStoreFailureStopsEverything(t *testing.T) {
	store := &fakeNotificationStore{err: errors.New("db down")}
	mailer := &fakeMailer{}
	push := &fakePush{}
	d := NewDispatcher(store, mailer, nil, push)

	err := d.Dispatch(context.Background(), PaymentSucceeded{B: gatewayBooking()})
	require.Error(t, err)
	assert.Empty(t, mailer.confirmations)
	assert.Empty(t, push.events)
}

func TestDispatchMailAndPushFailuresAreSwallowed(t *testing.T) {
	store := &fakeNotificationStore{}
	mailer := &fakeMailer{err: errors.New("smtp refused")}
	push := &fakePush{err: errors.New("broker down")}
	d := NewDispatcher(store, mailer, nil, push)

	err := d.Dispatch(context.Background(), PaymentSucceeded{B: gatewayBooking()})
	require.NoError(t, err)
	assert.Len(t, store.rows, 1)
}

func TestDispatchCashCreationSendsInstructions(t *testing.T) {
	store := &fakeNotificationStore{}
	mailer := &fakeMailer{}
	d := NewDispatcher(store, mailer, nil, nil)

	expiry := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	b := gatewayBooking()
	b.Status = model.BookingAwaitingCash
	b.PaymentMethod = model.PaymentMethodCash
	b.ExpiresAt = &expiry

	require.NoError(t, d.Dispatch(context.Background(), BookingCreated{B: b}))
	assert.Equal(t, []string{b.OrderNumber}, mailer.instructions)
	assert.Empty(t, mailer.confirmations)
	require.Len(t, store.rows, 1)
	assert.Contains(t, store.rows[0].Message, "counter")
}

func TestDispatchGatewayCreationSendsNoMail(t *testing.T) {
	store := &fakeNotificationStore{}
	mailer := &fakeMailer{}
	d := NewDispatcher(store, mailer, nil, nil)

	b := gatewayBooking()
	b.Status = model.BookingPending

	require.NoError(t, d.Dispatch(context.Background(), BookingCreated{B: b}))
	assert.Empty(t, mailer.instructions)
	assert.Empty(t, mailer.confirmations)
}

func TestDispatchConfirmationAttachesRenderedTicket(t *testing.T) {
	store := &fakeNotificationStore{}
	mailer := &fakeMailer{}
	render := renderFunc(func(b *model.Booking, tk *model.Ticket) ([]byte, error) {
		return []byte("pdf:" + tk.Code), nil
	})
	d := NewDispatcher(store, mailer, render, nil)

	b := gatewayBooking()
	tk := &model.Ticket{Code: "PRK-260310-000001"}
	require.NoError(t, d.Dispatch(context.Background(), PaymentSucceeded{B: b, Ticket: tk}))
	require.Len(t, mailer.pdfs, 1)
	assert.Equal(t, []byte("pdf:PRK-260310-000001"), mailer.pdfs[0])
}

type renderFunc func(b *model.Booking, t *model.Ticket) ([]byte, error)

func (f renderFunc) Render(b *model.Booking, t *model.Ticket) ([]byte, error) { return f(b, t) }
