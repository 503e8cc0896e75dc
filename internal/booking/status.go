// Package booking holds the booking aggregate: the status state
// machine and the service orchestrating creation, edits, cancellation
// and reads.
package booking

import (
	"time"

	"github.com/prasetyautama/park-entry-booking/internal/model"
)

// transitions is the complete set of legal status moves.  Anything
// absent here is rejected; used, cancelled, expired and refunded are
// terminal.
var transitions = map[model.BookingStatus][]model.BookingStatus{
	model.BookingPending: {
		model.BookingAwaitingCash,
		model.BookingConfirmed,
		model.BookingCancelled,
		model.BookingExpired,
	},
	model.BookingAwaitingCash: {
		model.BookingConfirmed,
		model.BookingExpired,
		model.BookingCancelled,
	},
	model.BookingConfirmed: {
		model.BookingUsed,
	},
}

// CanTransition reports whether a booking may move from one status to
// another.
func CanTransition(from, to model.BookingStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func Terminal(s model.BookingStatus) bool {
	return len(transitions[s]) == 0
}

// CashExpiry computes the deadline for an awaiting_cash booking: one
// day from now, but never later than the day before the visit.  A
// visitor booking for tomorrow gets whatever is left of today.
func CashExpiry(now, visitDate time.Time) time.Time {
	byWindow := now.Add(24 * time.Hour)
	byVisit := visitDate.Add(-24 * time.Hour)
	if byVisit.Before(byWindow) {
		return byVisit
	}
	return byWindow
}

// CashExpired reports whether an awaiting_cash booking's window has
// passed.  Bookings without an expiry never expire this way.
func CashExpired(b *model.Booking, now time.Time) bool {
	return b.Status == model.BookingAwaitingCash && b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}
