package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prasetyautama/park-entry-booking/internal/model"
	"github.com/prasetyautama/park-entry-booking/internal/repository"
)

// Entry rejection reasons.  Handlers translate these into 4xx
// responses with the reason text.
var (
	// ErrPaymentRequired means the owning booking has not settled yet.
	ErrPaymentRequired = errors.New("booking is not paid")
	// ErrNotValid means the ticket is not in the valid state (already
	// used or cancelled).
	ErrNotValid = errors.New("ticket is not valid")
	// ErrExpired means the ticket's valid date has passed.
	ErrExpired = errors.New("ticket has expired")
	// ErrNotYetValid means the ticket's valid date is in the future.
	ErrNotYetValid = errors.New("ticket is not valid yet")
)

// Store is the persistence surface issuance needs.  The SQL
// implementation is repository.TicketRepo; tests use an in-memory
// fake.
type Store interface {
	GetByBooking(ctx context.Context, bookingID uint64) (*model.Ticket, error)
	GetByCode(ctx context.Context, code string) (*model.Ticket, error)
	Insert(ctx context.Context, t *model.Ticket) error
	SetCodeAndPayload(ctx context.Context, id uint64, code string, payload []byte) error
	MarkUsed(ctx context.Context, id uint64, validator string, at time.Time) error
	SetStatus(ctx context.Context, id uint64, status model.TicketStatus) error
}

// Issuer generates and validates tickets.  Issuance is idempotent: a
// booking that already has a ticket gets the same ticket back, same
// code, same payload, no matter how many times it is asked.
type Issuer struct {
	store Store
	key   *[32]byte
	now   func() time.Time
}

// NewIssuer builds an Issuer.  key encrypts payloads at rest.
func NewIssuer(store Store, key *[32]byte) *Issuer {
	if store == nil || key == nil {
		panic("nil dependency passed to NewIssuer")
	}
	return &Issuer{store: store, key: key, now: time.Now}
}

// GenerateForBooking returns the booking's ticket, creating it exactly
// once, and reports whether this call created it.  Creation is
// two-phase: the row is inserted first to obtain a generation id, the
// human-readable code is derived from that id, and the encrypted
// payload (which embeds the code) is patched in second.  A concurrent
// duplicate insert loses against the unique booking_id index and falls
// back to reading the winner's row.
func (i *Issuer) GenerateForBooking(ctx context.Context, b *model.Booking) (*model.Ticket, bool, error) {
	existing, err := i.store.GetByBooking(ctx, b.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("load ticket: %w", err)
	}

	t := &model.Ticket{
		BookingID: b.ID,
		ValidDate: b.VisitDate,
		Status:    model.TicketValid,
	}
	if err := i.store.Insert(ctx, t); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Lost a race with another issuance; the winner's ticket
			// is the ticket.
			winner, err := i.store.GetByBooking(ctx, b.ID)
			return winner, false, err
		}
		return nil, false, fmt.Errorf("insert ticket: %w", err)
	}

	code := DeriveCode(t.ID, b.VisitDate)
	sealed, err := EncryptPayload(Payload{
		Code:   code,
		Name:   b.LeaderName,
		Order:  b.OrderNumber,
		Visit:  b.VisitDate.Format("2006-01-02"),
		Booked: i.now().UTC().Format("2006-01-02"),
	}, i.key)
	if err != nil {
		return nil, false, err
	}
	if err := i.store.SetCodeAndPayload(ctx, t.ID, code, sealed); err != nil {
		return nil, false, fmt.Errorf("finalize ticket: %w", err)
	}
	t.Code = code
	t.Payload = sealed
	return t, true, nil
}

// EffectiveStatus evaluates the derived expiry lazily: a valid ticket
// whose valid date has passed reports expired, and the first read that
// observes this persists the ticket as cancelled instead of waiting
// for a background sweep.
func (i *Issuer) EffectiveStatus(ctx context.Context, t *model.Ticket) (model.TicketStatus, error) {
	if t.Status == model.TicketValid && i.pastValidDate(t) {
		if err := i.store.SetStatus(ctx, t.ID, model.TicketCancelled); err != nil {
			return t.Status, fmt.Errorf("expire ticket: %w", err)
		}
		t.Status = model.TicketCancelled
		return model.TicketExpired, nil
	}
	return t.Status, nil
}

// Enter records a gate entry.  Entry is permitted only when the owning
// booking has settled, the ticket is exactly valid and the valid date
// is today.  The transition to used is one-way and records the
// validator identity.
func (i *Issuer) Enter(ctx context.Context, t *model.Ticket, owner *model.Booking, validator string) error {
	if owner.Status == model.BookingPending || owner.Status == model.BookingAwaitingCash {
		return ErrPaymentRequired
	}
	status, err := i.EffectiveStatus(ctx, t)
	if err != nil {
		return err
	}
	if status == model.TicketExpired {
		return ErrExpired
	}
	if status != model.TicketValid {
		return ErrNotValid
	}
	now := i.now().UTC()
	if t.ValidDate.Format("2006-01-02") != now.Format("2006-01-02") {
		return ErrNotYetValid
	}
	if err := i.store.MarkUsed(ctx, t.ID, validator, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrNotValid
		}
		return fmt.Errorf("mark ticket used: %w", err)
	}
	t.Status = model.TicketUsed
	t.ValidatedAt = &now
	t.ValidatedBy = &validator
	return nil
}

// Cancel voids a ticket from any state.  This is an explicit admin
// action, not part of the normal lifecycle.
func (i *Issuer) Cancel(ctx context.Context, t *model.Ticket) error {
	if err := i.store.SetStatus(ctx, t.ID, model.TicketCancelled); err != nil {
		return fmt.Errorf("cancel ticket: %w", err)
	}
	t.Status = model.TicketCancelled
	return nil
}

// pastValidDate reports whether the valid date is strictly before
// today; a ticket for today is not expired.
func (i *Issuer) pastValidDate(t *model.Ticket) bool {
	now := i.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	valid := t.ValidDate.UTC()
	validDay := time.Date(valid.Year(), valid.Month(), valid.Day(), 0, 0, 0, 0, time.UTC)
	return validDay.Before(today)
}
