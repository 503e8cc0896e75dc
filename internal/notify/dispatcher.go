package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/prasetyautama/park-entry-booking/internal/model"
	"github.com/prasetyautama/park-entry-booking/internal/queue"
)

// NotificationStore persists the durable in-app row.  The SQL
// implementation is repository.NotificationRepo.
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
}

// MailCollaborator sends booking email.  The SMTP implementation lives
// in the mail package; tests use a recorder.
type MailCollaborator interface {
	SendConfirmation(b *model.Booking, ticketPDF []byte) error
	SendCashInstructions(b *model.Booking) error
}

// TicketRenderer produces the printable attachment for confirmation
// mail.  A nil renderer means confirmations go out without one.
type TicketRenderer interface {
	Render(b *model.Booking, t *model.Ticket) ([]byte, error)
}

// PushPublisher forwards the notification to the push queue.
type PushPublisher interface {
	PublishNotification(ctx context.Context, ev queue.NotificationPushEvent) error
}

// Dispatcher fans a lifecycle event out to its channels.  The in-app
// row is written first and its failure is the only one reported; email
// and push are best-effort and only logged.  Dispatch runs after the
// owning transaction has committed, so a crash loses at most the
// best-effort channels.
type Dispatcher struct {
	store  NotificationStore
	mail   MailCollaborator
	render TicketRenderer
	push   PushPublisher
	now    func() time.Time
}

// NewDispatcher builds a Dispatcher.  mail, render and push may be nil
// to disable those channels.
func NewDispatcher(store NotificationStore, mail MailCollaborator, render TicketRenderer, push PushPublisher) *Dispatcher {
	if store == nil {
		panic("nil store passed to NewDispatcher")
	}
	return &Dispatcher{store: store, mail: mail, render: render, push: push, now: time.Now}
}

// Dispatch records the event and delivers it.  The returned error
// covers only the durable in-app write.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	b := ev.Booking()

	data, err := json.Marshal(map[string]any{
		"order_number": b.OrderNumber,
		"status":       string(b.Status),
	})
	if err != nil {
		return err
	}
	n := &model.Notification{
		UserID:  b.UserID,
		Kind:    ev.Kind(),
		Title:   ev.Title(),
		Message: ev.Message(),
		Data:    data,
		Link:    ev.Link(),
	}
	if err := d.store.Create(ctx, n); err != nil {
		return err
	}

	d.sendMail(ev)
	d.sendPush(ctx, n, b)
	return nil
}

// ResendConfirmation sends the confirmation mail again without writing
// a new in-app row.  Used when a missed ticket issuance is healed after
// the fact: the visitor already saw the confirmed notification, they
// only lack the ticket.
func (d *Dispatcher) ResendConfirmation(b *model.Booking, t *model.Ticket) {
	if d.mail == nil {
		return
	}
	if err := d.mail.SendConfirmation(b, d.renderTicket(b, t)); err != nil {
		log.Printf("notify: resend confirmation for %s failed: %v", b.OrderNumber, err)
	}
}

// sendMail routes the event to the right template.  Only confirmation
// and cash-instruction events carry mail; delivery failures are logged
// and swallowed.
func (d *Dispatcher) sendMail(ev Event) {
	if d.mail == nil {
		return
	}
	b := ev.Booking()
	var err error
	switch e := ev.(type) {
	case PaymentSucceeded:
		err = d.mail.SendConfirmation(b, d.renderTicket(b, e.Ticket))
	case CashPaymentConfirmed:
		err = d.mail.SendConfirmation(b, d.renderTicket(b, e.Ticket))
	case BookingCreated:
		if b.PaymentMethod == model.PaymentMethodCash {
			err = d.mail.SendCashInstructions(b)
		}
	}
	if err != nil {
		log.Printf("notify: mail for %s (%s) failed: %v", b.OrderNumber, ev.Kind(), err)
	}
}

func (d *Dispatcher) renderTicket(b *model.Booking, t *model.Ticket) []byte {
	if d.render == nil || t == nil {
		return nil
	}
	pdf, err := d.render.Render(b, t)
	if err != nil {
		log.Printf("notify: render ticket for %s failed: %v", b.OrderNumber, err)
		return nil
	}
	return pdf
}

func (d *Dispatcher) sendPush(ctx context.Context, n *model.Notification, b *model.Booking) {
	if d.push == nil {
		return
	}
	ev := queue.NotificationPushEvent{
		NotificationID: n.ID,
		UserID:         n.UserID,
		OrderNumber:    b.OrderNumber,
		Kind:           n.Kind,
		Title:          n.Title,
		Message:        n.Message,
		Link:           n.Link,
		OccurredAt:     d.now().UTC().Format(time.RFC3339),
	}
	if err := d.push.PublishNotification(ctx, ev); err != nil {
		log.Printf("notify: push for %s (%s) failed: %v", b.OrderNumber, n.Kind, err)
	}
}
