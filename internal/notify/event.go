// Package notify turns booking lifecycle transitions into visitor
// notifications.  Every event produces a durable in-app row first;
// email and push delivery are best-effort on top.
package notify

import (
	"fmt"

	"github.com/prasetyautama/park-entry-booking/internal/model"
)

// Event is one notifiable lifecycle transition.  The set is closed:
// only the types in this file implement it.
type Event interface {
	Kind() string
	Title() string
	Message() string
	Link() string
	Booking() *model.Booking

	isEvent()
}

// BookingCreated fires after a booking row is committed, regardless of
// payment method.
type BookingCreated struct {
	B *model.Booking
}

func (e BookingCreated) Kind() string  { return "booking.created" }
func (e BookingCreated) Title() string { return "Booking received" }
func (e BookingCreated) Message() string {
	if e.B.PaymentMethod == model.PaymentMethodCash {
		return fmt.Sprintf("Booking %s is reserved. Pay at the park counter before %s.",
			e.B.OrderNumber, expiryText(e.B))
	}
	return fmt.Sprintf("Booking %s is waiting for payment.", e.B.OrderNumber)
}
func (e BookingCreated) Link() string            { return bookingLink(e.B) }
func (e BookingCreated) Booking() *model.Booking { return e.B }
func (e BookingCreated) isEvent()                {}

// PaymentSucceeded fires when a booking reaches confirmed through the
// gateway.  Ticket may be nil when issuance failed; the confirmation
// still goes out and the ticket is healed on the next read.
type PaymentSucceeded struct {
	B      *model.Booking
	Ticket *model.Ticket
}

func (e PaymentSucceeded) Kind() string  { return "payment.succeeded" }
func (e PaymentSucceeded) Title() string { return "Payment confirmed" }
func (e PaymentSucceeded) Message() string {
	return fmt.Sprintf("Payment for booking %s is confirmed. Your entry ticket is ready.", e.B.OrderNumber)
}
func (e PaymentSucceeded) Link() string            { return bookingLink(e.B) }
func (e PaymentSucceeded) Booking() *model.Booking { return e.B }
func (e PaymentSucceeded) isEvent()                {}

// PaymentFailed fires when the gateway reports a deny, cancel or
// expiry for a pending booking.
type PaymentFailed struct {
	B      *model.Booking
	Reason string
}

func (e PaymentFailed) Kind() string  { return "payment.failed" }
func (e PaymentFailed) Title() string { return "Payment failed" }
func (e PaymentFailed) Message() string {
	return fmt.Sprintf("Payment for booking %s did not go through (%s). The booking has been cancelled.",
		e.B.OrderNumber, e.Reason)
}
func (e PaymentFailed) Link() string            { return bookingLink(e.B) }
func (e PaymentFailed) Booking() *model.Booking { return e.B }
func (e PaymentFailed) isEvent()                {}

// CashPaymentConfirmed fires when counter staff record a cash payment
// for an awaiting_cash booking.
type CashPaymentConfirmed struct {
	B      *model.Booking
	Ticket *model.Ticket
}

func (e CashPaymentConfirmed) Kind() string  { return "payment.cash_confirmed" }
func (e CashPaymentConfirmed) Title() string { return "Cash payment received" }
func (e CashPaymentConfirmed) Message() string {
	return fmt.Sprintf("Cash payment for booking %s was received at the counter. Your entry ticket is ready.",
		e.B.OrderNumber)
}
func (e CashPaymentConfirmed) Link() string            { return bookingLink(e.B) }
func (e CashPaymentConfirmed) Booking() *model.Booking { return e.B }
func (e CashPaymentConfirmed) isEvent()                {}

// TicketValidated fires when a gate validator scans the ticket in.
type TicketValidated struct {
	B *model.Booking
	T *model.Ticket
}

func (e TicketValidated) Kind() string  { return "ticket.validated" }
func (e TicketValidated) Title() string { return "Welcome to the park" }
func (e TicketValidated) Message() string {
	return fmt.Sprintf("Ticket %s for booking %s was scanned at the gate.", e.T.Code, e.B.OrderNumber)
}
func (e TicketValidated) Link() string            { return bookingLink(e.B) }
func (e TicketValidated) Booking() *model.Booking { return e.B }
func (e TicketValidated) isEvent()                {}

// BookingCancelled fires when the visitor cancels, the cash window
// lapses, or the gateway session dies.
type BookingCancelled struct {
	B      *model.Booking
	Reason string
}

func (e BookingCancelled) Kind() string  { return "booking.cancelled" }
func (e BookingCancelled) Title() string { return "Booking cancelled" }
func (e BookingCancelled) Message() string {
	return fmt.Sprintf("Booking %s was cancelled (%s).", e.B.OrderNumber, e.Reason)
}
func (e BookingCancelled) Link() string            { return bookingLink(e.B) }
func (e BookingCancelled) Booking() *model.Booking { return e.B }
func (e BookingCancelled) isEvent()                {}

func bookingLink(b *model.Booking) string {
	return "/bookings/" + b.OrderNumber
}

func expiryText(b *model.Booking) string {
	if b.ExpiresAt == nil {
		return "the visit date"
	}
	return b.ExpiresAt.Format("2 Jan 2006 15:04 MST")
}
