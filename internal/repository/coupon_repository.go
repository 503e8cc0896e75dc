package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/prasetyautama/park-entry-booking/internal/model"
)

// CouponRepo reads coupon definitions and records redemptions.  Usage
// rows are the mechanism that enforces the limits, so recording one is
// always guarded by a recount under the coupon row lock.
type CouponRepo struct {
	db *sql.DB
}

// NewCouponRepo returns a new CouponRepo bound to the given database.
func NewCouponRepo(db *sql.DB) *CouponRepo { return &CouponRepo{db: db} }

const couponColumns = `id, code, type, value, max_discount, min_order, usage_limit,
       per_user_limit, destination_ids, starts_at, ends_at, active, created_at`

// GetByCode returns the coupon or ErrNotFound.  Codes are compared
// case-insensitively by the database collation.
func (r *CouponRepo) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	const sel = `SELECT ` + couponColumns + ` FROM coupons WHERE code = ?`
	return r.scan(q(ctx, r.db).QueryRowContext(ctx, sel, code))
}

// getByCodeForUpdate locks the coupon row so concurrent confirmations
// serialize their limit recounts.
func (r *CouponRepo) getByCodeForUpdate(ctx context.Context, code string) (*model.Coupon, error) {
	const sel = `SELECT ` + couponColumns + ` FROM coupons WHERE code = ? FOR UPDATE`
	return r.scan(q(ctx, r.db).QueryRowContext(ctx, sel, code))
}

// CountUsage returns the number of recorded redemptions for a coupon.
func (r *CouponRepo) CountUsage(ctx context.Context, couponID uint64) (uint32, error) {
	const sel = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = ?`
	var n uint32
	err := q(ctx, r.db).QueryRowContext(ctx, sel, couponID).Scan(&n)
	return n, err
}

// CountUsageByUser returns the redemptions recorded for one user.
func (r *CouponRepo) CountUsageByUser(ctx context.Context, couponID, userID uint64) (uint32, error) {
	const sel = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = ? AND user_id = ?`
	var n uint32
	err := q(ctx, r.db).QueryRowContext(ctx, sel, couponID, userID).Scan(&n)
	return n, err
}

// RecordUsageOnce records one redemption for a booking.  It is
// idempotent on the booking order (unique index) and re-checks both
// limits under the coupon row lock, so concurrent confirmations can
// never drive the counts above usage_limit or per_user_limit.  A
// repeat call for the same booking returns nil; a booking that would
// exceed a limit returns ErrConflict.  Must run inside a TxRunner
// callback.
func (r *CouponRepo) RecordUsageOnce(ctx context.Context, code string, userID *uint64, bookingOrder string) error {
	cp, err := r.getByCodeForUpdate(ctx, code)
	if err != nil {
		return err
	}
	const dup = `SELECT COUNT(*) FROM coupon_usages WHERE booking_order = ?`
	var existing uint32
	if err := q(ctx, r.db).QueryRowContext(ctx, dup, bookingOrder).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}
	if cp.UsageLimit > 0 {
		used, err := r.CountUsage(ctx, cp.ID)
		if err != nil {
			return err
		}
		if used >= cp.UsageLimit {
			return ErrConflict
		}
	}
	if cp.PerUserLimit > 0 && userID != nil {
		used, err := r.CountUsageByUser(ctx, cp.ID, *userID)
		if err != nil {
			return err
		}
		if used >= cp.PerUserLimit {
			return ErrConflict
		}
	}
	const ins = `INSERT INTO coupon_usages (coupon_id, user_id, booking_order) VALUES (?, ?, ?)`
	if _, err := q(ctx, r.db).ExecContext(ctx, ins, cp.ID, userID, bookingOrder); err != nil {
		if isDuplicate(err) {
			return nil
		}
		return err
	}
	return nil
}

func (r *CouponRepo) scan(row *sql.Row) (*model.Coupon, error) {
	var c model.Coupon
	var destinations sql.NullString
	var startsAt, endsAt sql.NullTime
	err := row.Scan(&c.ID, &c.Code, &c.Type, &c.Value, &c.MaxDiscount, &c.MinOrder,
		&c.UsageLimit, &c.PerUserLimit, &destinations, &startsAt, &endsAt,
		&c.Active, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.StartsAt = nullTimePtr(startsAt)
	c.EndsAt = nullTimePtr(endsAt)
	if destinations.Valid && destinations.String != "" {
		for _, part := range strings.Split(destinations.String, ",") {
			if id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64); err == nil {
				c.DestinationIDs = append(c.DestinationIDs, id)
			}
		}
	}
	return &c, nil
}
