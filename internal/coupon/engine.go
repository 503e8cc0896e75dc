// Package coupon validates and prices discount codes against order
// context.  The engine fails closed: any rule that cannot be verified
// results in a zero discount and a typed error, never a partial one.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prasetyautama/park-entry-booking/internal/model"
	"github.com/prasetyautama/park-entry-booking/internal/repository"
)

// Rejection reasons surfaced to callers.  Handlers translate these
// into 400 responses with the reason text.
var (
	ErrCodeNotFound      = errors.New("coupon code not found")
	ErrInactive          = errors.New("coupon is not active")
	ErrOutsideWindow     = errors.New("coupon is outside its validity window")
	ErrBelowMinOrder     = errors.New("order total is below the coupon minimum")
	ErrWrongDestination  = errors.New("coupon does not apply to this destination")
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	ErrUserLimitReached  = errors.New("coupon per-user limit reached")
	ErrUserRequired      = errors.New("coupon requires a signed-in user")
)

// Store is the read surface the engine needs.  The SQL implementation
// lives in the repository package; tests supply an in-memory fake.
type Store interface {
	// GetByCode returns the coupon or repository.ErrNotFound.
	GetByCode(ctx context.Context, code string) (*model.Coupon, error)
	// CountUsage returns the number of recorded redemptions.
	CountUsage(ctx context.Context, couponID uint64) (uint32, error)
	// CountUsageByUser returns the redemptions by one user.
	CountUsageByUser(ctx context.Context, couponID, userID uint64) (uint32, error)
}

// Engine prices coupons.  The now function is injectable for tests.
type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine builds an Engine bound to the given store.
func NewEngine(store Store) *Engine {
	if store == nil {
		panic("nil store passed to NewEngine")
	}
	return &Engine{store: store, now: time.Now}
}

// Apply validates code against the order context and returns the
// discount amount together with the coupon that produced it.  Every
// failure returns a zero discount, a nil coupon and one of the
// rejection errors above; storage failures are returned as-is.
func (e *Engine) Apply(ctx context.Context, code string, grossTotal int64, destinationID uint64, userID *uint64) (int64, *model.Coupon, error) {
	cp, err := e.store.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil, ErrCodeNotFound
		}
		return 0, nil, fmt.Errorf("load coupon: %w", err)
	}
	if !cp.Active {
		return 0, nil, ErrInactive
	}
	now := e.now().UTC()
	if cp.StartsAt != nil && now.Before(*cp.StartsAt) {
		return 0, nil, ErrOutsideWindow
	}
	if cp.EndsAt != nil && now.After(*cp.EndsAt) {
		return 0, nil, ErrOutsideWindow
	}
	if cp.MinOrder > 0 && grossTotal < cp.MinOrder {
		return 0, nil, ErrBelowMinOrder
	}
	if len(cp.DestinationIDs) > 0 && !containsID(cp.DestinationIDs, destinationID) {
		return 0, nil, ErrWrongDestination
	}
	if cp.UsageLimit > 0 {
		used, err := e.store.CountUsage(ctx, cp.ID)
		if err != nil {
			return 0, nil, fmt.Errorf("count coupon usage: %w", err)
		}
		if used >= cp.UsageLimit {
			return 0, nil, ErrUsageLimitReached
		}
	}
	if cp.PerUserLimit > 0 {
		// Anonymous visitors cannot consume per-user-limited coupons
		// because there is no identity to count against.
		if userID == nil {
			return 0, nil, ErrUserRequired
		}
		used, err := e.store.CountUsageByUser(ctx, cp.ID, *userID)
		if err != nil {
			return 0, nil, fmt.Errorf("count coupon usage by user: %w", err)
		}
		if used >= cp.PerUserLimit {
			return 0, nil, ErrUserLimitReached
		}
	}
	return Discount(cp, grossTotal), cp, nil
}

// Discount computes the amount a coupon takes off a gross total.
// Percent coupons are clamped to MaxDiscount when set; both kinds are
// clamped so the discount never exceeds the gross.
func Discount(cp *model.Coupon, grossTotal int64) int64 {
	var d int64
	switch cp.Type {
	case model.CouponTypePercent:
		d = grossTotal * cp.Value / 100
		if cp.MaxDiscount > 0 && d > cp.MaxDiscount {
			d = cp.MaxDiscount
		}
	case model.CouponTypeFixed:
		d = cp.Value
	default:
		return 0
	}
	if d > grossTotal {
		d = grossTotal
	}
	if d < 0 {
		d = 0
	}
	return d
}

func containsID(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
