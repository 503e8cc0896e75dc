package model

import "time"

// TicketStatus enumerates the validation states of a ticket.  The
// values are wire-stable.
type TicketStatus string

const (
	TicketValid     TicketStatus = "valid"
	TicketUsed      TicketStatus = "used"
	TicketExpired   TicketStatus = "expired"
	TicketCancelled TicketStatus = "cancelled"
)

// Ticket is the scannable entry document for a confirmed booking.
// At most one ticket exists per booking; once created it is never
// regenerated.  Payload holds the encrypted scannable form of the
// ticket data.
type Ticket struct {
	ID          uint64       // tickets.id
	BookingID   uint64       // tickets.booking_id
	Code        string       // tickets.code, human-readable unique code
	Payload     []byte       // tickets.payload, encrypted at rest
	ValidDate   time.Time    // tickets.valid_date, the day entry is allowed
	Status      TicketStatus // tickets.status
	ValidatedAt *time.Time   // tickets.validated_at (nullable)
	ValidatedBy *string      // tickets.validated_by, validator identity (nullable)
	CreatedAt   time.Time    // tickets.created_at
}
