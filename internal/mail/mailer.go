// Package mail sends booking email over SMTP.
package mail

import (
	"fmt"
	"io"

	gomail "gopkg.in/gomail.v2"

	"github.com/prasetyautama/park-entry-booking/internal/model"
)

// Mailer sends booking email through an SMTP relay.  All mail goes to
// the booking's leader email so guest bookings work the same as
// account bookings.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewMailer builds a Mailer.  from is the sender address shown to the
// visitor.
func NewMailer(host string, port int, username, password, from string) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// SendConfirmation mails the payment confirmation.  When ticketPNG is
// non-nil the scannable ticket image is attached.
func (m *Mailer) SendConfirmation(b *model.Booking, ticketPNG []byte) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", b.LeaderEmail)
	msg.SetHeader("Subject", fmt.Sprintf("Booking %s confirmed", b.OrderNumber))
	msg.SetBody("text/plain", fmt.Sprintf(
		"Hello %s,\n\nYour booking %s for %s is confirmed.\nTotal paid: %d.\n\nShow the attached ticket at the park gate.\n",
		b.LeaderName, b.OrderNumber, b.VisitDate.Format("2 January 2006"), b.TotalAmount))
	if ticketPNG != nil {
		msg.Attach("ticket.png", gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(ticketPNG)
			return err
		}))
	}
	return m.dialer.DialAndSend(msg)
}

// SendCashInstructions mails the counter payment instructions for an
// awaiting_cash booking.
func (m *Mailer) SendCashInstructions(b *model.Booking) error {
	deadline := "before your visit"
	if b.ExpiresAt != nil {
		deadline = "by " + b.ExpiresAt.Format("2 January 2006 15:04 MST")
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", b.LeaderEmail)
	msg.SetHeader("Subject", fmt.Sprintf("Booking %s: pay at the counter", b.OrderNumber))
	msg.SetBody("text/plain", fmt.Sprintf(
		"Hello %s,\n\nYour booking %s is reserved.\nPay %d in cash at the park counter %s, quoting your order number.\nUnpaid bookings are released automatically after the deadline.\n",
		b.LeaderName, b.OrderNumber, b.TotalAmount, deadline))
	return m.dialer.DialAndSend(msg)
}
