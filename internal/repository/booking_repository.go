package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prasetyautama/park-entry-booking/internal/model"
)

// BookingRepo provides CRUD operations for bookings and their line
// items.  Items are owned exclusively by their booking and replaced
// wholesale on edit.  Bookings are archived with a soft-delete marker,
// never hard-deleted.  All timestamps are stored in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, order_number, user_id, destination_id, status, visit_date,
       leader_name, leader_email, leader_phone, visitor_count, vehicle_count,
       subtotal, service_fee, discount, discount_code, total_amount,
       payment_method, expires_at, confirmed_at, used_at, cancelled_at,
       expired_at, created_at, updated_at`

// Create inserts a booking together with its line items and populates
// the generated ids.  It participates in a surrounding transaction
// when one is present in the context.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking, items []model.BookingItem) error {
	const ins = `INSERT INTO bookings
        (order_number, user_id, destination_id, status, visit_date,
         leader_name, leader_email, leader_phone, visitor_count, vehicle_count,
         subtotal, service_fee, discount, discount_code, total_amount,
         payment_method, expires_at, confirmed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := q(ctx, r.db).ExecContext(ctx, ins,
		b.OrderNumber, b.UserID, b.DestinationID, b.Status, b.VisitDate.Format("2006-01-02"),
		b.LeaderName, b.LeaderEmail, b.LeaderPhone, b.VisitorCount, b.VehicleCount,
		b.Subtotal, b.ServiceFee, b.Discount, b.DiscountCode, b.TotalAmount,
		b.PaymentMethod, b.ExpiresAt, b.ConfirmedAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	for i := range items {
		items[i].BookingID = b.ID
	}
	return r.insertItems(ctx, items)
}

// GetByOrder returns the booking for an order number, excluding
// archived rows.  ErrNotFound is returned when no booking exists.
func (r *BookingRepo) GetByOrder(ctx context.Context, orderNumber string) (*model.Booking, error) {
	const sel = `SELECT ` + bookingColumns + ` FROM bookings
                 WHERE order_number = ? AND deleted_at IS NULL`
	return r.scanBooking(q(ctx, r.db).QueryRowContext(ctx, sel, orderNumber))
}

// GetByOrderForUpdate loads the booking row under a row lock.  It must
// be called inside a TxRunner callback; the lock serializes every
// status mutation for one booking so racing webhooks and polls cannot
// double-apply a transition.
func (r *BookingRepo) GetByOrderForUpdate(ctx context.Context, orderNumber string) (*model.Booking, error) {
	const sel = `SELECT ` + bookingColumns + ` FROM bookings
                 WHERE order_number = ? AND deleted_at IS NULL FOR UPDATE`
	return r.scanBooking(q(ctx, r.db).QueryRowContext(ctx, sel, orderNumber))
}

// GetByID returns the booking with the given primary key.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	const sel = `SELECT ` + bookingColumns + ` FROM bookings
                 WHERE id = ? AND deleted_at IS NULL`
	return r.scanBooking(q(ctx, r.db).QueryRowContext(ctx, sel, id))
}

// UpdateStatus sets the booking status and stamps the terminal
// timestamp column matching the new status.  The at time is used for
// whichever terminal column applies; non-terminal statuses only touch
// status and updated_at.
func (r *BookingRepo) UpdateStatus(ctx context.Context, orderNumber string, status model.BookingStatus, at time.Time) error {
	var column string
	switch status {
	case model.BookingConfirmed:
		column = "confirmed_at"
	case model.BookingUsed:
		column = "used_at"
	case model.BookingCancelled:
		column = "cancelled_at"
	case model.BookingExpired:
		column = "expired_at"
	}
	var err error
	var res sql.Result
	if column == "" {
		const upd = `UPDATE bookings SET status = ?, updated_at = NOW() WHERE order_number = ? AND deleted_at IS NULL`
		res, err = q(ctx, r.db).ExecContext(ctx, upd, status, orderNumber)
	} else {
		upd := `UPDATE bookings SET status = ?, ` + column + ` = ?, updated_at = NOW() WHERE order_number = ? AND deleted_at IS NULL`
		res, err = q(ctx, r.db).ExecContext(ctx, upd, status, at.UTC(), orderNumber)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePricing rewrites the mutable pricing fields of a pending
// booking after an edit: visit date, counters, amounts and coupon.
func (r *BookingRepo) UpdatePricing(ctx context.Context, b *model.Booking) error {
	const upd = `UPDATE bookings SET visit_date = ?, visitor_count = ?, vehicle_count = ?,
                 subtotal = ?, service_fee = ?, discount = ?, discount_code = ?,
                 total_amount = ?, expires_at = ?, updated_at = NOW()
                 WHERE order_number = ? AND deleted_at IS NULL`
	_, err := q(ctx, r.db).ExecContext(ctx, upd,
		b.VisitDate.Format("2006-01-02"), b.VisitorCount, b.VehicleCount,
		b.Subtotal, b.ServiceFee, b.Discount, b.DiscountCode,
		b.TotalAmount, b.ExpiresAt, b.OrderNumber,
	)
	return err
}

// Archive soft-deletes a booking.  Archived bookings disappear from
// every lookup but the row is kept for audit.
func (r *BookingRepo) Archive(ctx context.Context, orderNumber string) error {
	const upd = `UPDATE bookings SET deleted_at = NOW() WHERE order_number = ? AND deleted_at IS NULL`
	res, err := q(ctx, r.db).ExecContext(ctx, upd, orderNumber)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListItems returns the booking's line items in insertion order.
func (r *BookingRepo) ListItems(ctx context.Context, bookingID uint64) ([]model.BookingItem, error) {
	const sel = `SELECT id, booking_id, price_id, category, label, quantity, unit_price, line_total, created_at
                 FROM booking_items WHERE booking_id = ? ORDER BY id`
	rows, err := q(ctx, r.db).QueryContext(ctx, sel, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.BookingItem, 0)
	for rows.Next() {
		var it model.BookingItem
		if err := rows.Scan(&it.ID, &it.BookingID, &it.PriceID, &it.Category, &it.Label,
			&it.Quantity, &it.UnitPrice, &it.LineTotal, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ReplaceItems deletes every existing line item and inserts the new
// set in one shot.  Callers run this inside a transaction together
// with UpdatePricing so an edit is atomic.
func (r *BookingRepo) ReplaceItems(ctx context.Context, bookingID uint64, items []model.BookingItem) error {
	const del = `DELETE FROM booking_items WHERE booking_id = ?`
	if _, err := q(ctx, r.db).ExecContext(ctx, del, bookingID); err != nil {
		return err
	}
	for i := range items {
		items[i].BookingID = bookingID
	}
	return r.insertItems(ctx, items)
}

// insertItems bulk-inserts line items in a single statement.  Passing
// an empty slice has no effect and returns nil.
func (r *BookingRepo) insertItems(ctx context.Context, items []model.BookingItem) error {
	if len(items) == 0 {
		return nil
	}
	query := `INSERT INTO booking_items (booking_id, price_id, category, label, quantity, unit_price, line_total) VALUES `
	args := make([]interface{}, 0, len(items)*7)
	for i, it := range items {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?)"
		args = append(args, it.BookingID, it.PriceID, it.Category, it.Label, it.Quantity, it.UnitPrice, it.LineTotal)
	}
	_, err := q(ctx, r.db).ExecContext(ctx, query, args...)
	return err
}

// scanBooking maps one row onto a model.Booking, converting nullable
// columns to pointers.
func (r *BookingRepo) scanBooking(row *sql.Row) (*model.Booking, error) {
	var b model.Booking
	var userID sql.NullInt64
	var discountCode sql.NullString
	var expiresAt, confirmedAt, usedAt, cancelledAt, expiredAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.OrderNumber, &userID, &b.DestinationID, &b.Status, &b.VisitDate,
		&b.LeaderName, &b.LeaderEmail, &b.LeaderPhone, &b.VisitorCount, &b.VehicleCount,
		&b.Subtotal, &b.ServiceFee, &b.Discount, &discountCode, &b.TotalAmount,
		&b.PaymentMethod, &expiresAt, &confirmedAt, &usedAt, &cancelledAt,
		&expiredAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if userID.Valid {
		v := uint64(userID.Int64)
		b.UserID = &v
	}
	if discountCode.Valid {
		v := discountCode.String
		b.DiscountCode = &v
	}
	b.ExpiresAt = nullTimePtr(expiresAt)
	b.ConfirmedAt = nullTimePtr(confirmedAt)
	b.UsedAt = nullTimePtr(usedAt)
	b.CancelledAt = nullTimePtr(cancelledAt)
	b.ExpiredAt = nullTimePtr(expiredAt)
	return &b, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
