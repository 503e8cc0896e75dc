package model

import "time"

// Coupon discount kinds.  Percent coupons take a percentage of the
// gross total clamped to MaxDiscount; fixed coupons subtract a flat
// amount.  Both are clamped so the discount never exceeds the gross.
const (
	CouponTypePercent = "percent"
	CouponTypeFixed   = "fixed"
)

// Coupon defines a discount code with its limits.  Zero values for
// UsageLimit, PerUserLimit, MaxDiscount and MinOrder mean "no limit".
// DestinationIDs restricts the coupon to a set of destinations; an
// empty set means the coupon applies everywhere.
type Coupon struct {
	ID             uint64     // coupons.id
	Code           string     // coupons.code
	Type           string     // coupons.type, "percent" or "fixed"
	Value          int64      // coupons.value, percent (0-100) or fixed amount
	MaxDiscount    int64      // coupons.max_discount, cap for percent coupons
	MinOrder       int64      // coupons.min_order, minimum gross to qualify
	UsageLimit     uint32     // coupons.usage_limit, global redemption cap
	PerUserLimit   uint32     // coupons.per_user_limit, per-account cap
	DestinationIDs []uint64   // coupons.destination_ids, CSV in storage
	StartsAt       *time.Time // coupons.starts_at (nullable)
	EndsAt         *time.Time // coupons.ends_at (nullable)
	Active         bool       // coupons.active
	CreatedAt      time.Time  // coupons.created_at
}

// CouponUsage records one redemption of a coupon.  Rows are created
// only when the booking's payment is confirmed; counting them is the
// mechanism that enforces the usage limits.  BookingOrder is unique so
// a booking can never record the same redemption twice.
type CouponUsage struct {
	ID           uint64    // coupon_usages.id
	CouponID     uint64    // coupon_usages.coupon_id
	UserID       *uint64   // coupon_usages.user_id, nil for guests
	BookingOrder string    // coupon_usages.booking_order
	CreatedAt    time.Time // coupon_usages.created_at
}
