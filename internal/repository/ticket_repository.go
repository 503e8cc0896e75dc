package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prasetyautama/park-entry-booking/internal/model"
)

// TicketRepo stores the scannable tickets.  The booking_id column is
// unique so the database itself enforces at most one ticket per
// booking even if two issuance attempts race.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a new TicketRepo bound to the given database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

const ticketColumns = `id, booking_id, code, payload, valid_date, status,
       validated_at, validated_by, created_at`

// Insert creates the ticket row and populates the generated id.  The
// code and payload start empty; issuance patches them once the id is
// known.  A duplicate booking_id surfaces as ErrConflict.
func (r *TicketRepo) Insert(ctx context.Context, t *model.Ticket) error {
	const ins = `INSERT INTO tickets (booking_id, code, payload, valid_date, status)
                 VALUES (?, ?, ?, ?, ?)`
	res, err := q(ctx, r.db).ExecContext(ctx, ins,
		t.BookingID, t.Code, t.Payload, t.ValidDate.Format("2006-01-02"), t.Status)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// SetCodeAndPayload patches the code and the encoded payload onto a
// freshly inserted ticket.  Issuance is two-phase because the code is
// derived from the row's own generated id.
func (r *TicketRepo) SetCodeAndPayload(ctx context.Context, id uint64, code string, payload []byte) error {
	const upd = `UPDATE tickets SET code = ?, payload = ? WHERE id = ?`
	_, err := q(ctx, r.db).ExecContext(ctx, upd, code, payload, id)
	return err
}

// GetByBooking returns the booking's ticket or ErrNotFound.
func (r *TicketRepo) GetByBooking(ctx context.Context, bookingID uint64) (*model.Ticket, error) {
	const sel = `SELECT ` + ticketColumns + ` FROM tickets WHERE booking_id = ?`
	return r.scan(q(ctx, r.db).QueryRowContext(ctx, sel, bookingID))
}

// GetByCode returns the ticket with the given human-readable code.
func (r *TicketRepo) GetByCode(ctx context.Context, code string) (*model.Ticket, error) {
	const sel = `SELECT ` + ticketColumns + ` FROM tickets WHERE code = ?`
	return r.scan(q(ctx, r.db).QueryRowContext(ctx, sel, code))
}

// MarkUsed flips a ticket from valid to used, recording the validator
// identity and timestamp.  The status guard is part of the statement
// so two racing validators cannot both succeed; the loser gets
// ErrConflict.
func (r *TicketRepo) MarkUsed(ctx context.Context, id uint64, validator string, at time.Time) error {
	const upd = `UPDATE tickets SET status = ?, validated_at = ?, validated_by = ?
                 WHERE id = ? AND status = ?`
	res, err := q(ctx, r.db).ExecContext(ctx, upd,
		model.TicketUsed, at.UTC(), validator, id, model.TicketValid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// SetStatus overwrites the ticket status.  Used by the lazy
// expire-on-read path and by explicit admin cancellation.
func (r *TicketRepo) SetStatus(ctx context.Context, id uint64, status model.TicketStatus) error {
	const upd = `UPDATE tickets SET status = ? WHERE id = ?`
	_, err := q(ctx, r.db).ExecContext(ctx, upd, status, id)
	return err
}

// CountUsedByBooking reports how many of the booking's tickets are
// used versus the total, so the caller can decide whether the booking
// itself is fully consumed.
func (r *TicketRepo) CountUsedByBooking(ctx context.Context, bookingID uint64) (used, total uint32, err error) {
	const sel = `SELECT COUNT(*), COALESCE(SUM(status = 'used'), 0) FROM tickets WHERE booking_id = ?`
	err = q(ctx, r.db).QueryRowContext(ctx, sel, bookingID).Scan(&total, &used)
	return used, total, err
}

func (r *TicketRepo) scan(row *sql.Row) (*model.Ticket, error) {
	var t model.Ticket
	var validatedAt sql.NullTime
	var validatedBy sql.NullString
	err := row.Scan(&t.ID, &t.BookingID, &t.Code, &t.Payload, &t.ValidDate,
		&t.Status, &validatedAt, &validatedBy, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.ValidatedAt = nullTimePtr(validatedAt)
	if validatedBy.Valid {
		v := validatedBy.String
		t.ValidatedBy = &v
	}
	return &t, nil
}
