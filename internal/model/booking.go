package model

import "time"

// BookingStatus enumerates the lifecycle states of a booking.  The
// values are wire-stable and stored verbatim in the bookings.status
// column, so they must never be renamed.
type BookingStatus string

const (
	BookingPending      BookingStatus = "pending"       // created, waiting for payment
	BookingAwaitingCash BookingStatus = "awaiting_cash" // cash option selected, waiting at the counter
	BookingConfirmed    BookingStatus = "confirmed"     // payment settled, ticket issued
	BookingUsed         BookingStatus = "used"          // every ticket consumed at the gate
	BookingCancelled    BookingStatus = "cancelled"     // cancelled by the visitor or a failed payment
	BookingExpired      BookingStatus = "expired"       // cash window or gateway session ran out
	BookingRefunded     BookingStatus = "refunded"      // refunded out of band by an admin
)

// PaymentMethodGateway and PaymentMethodCash are the two ways a booking
// can be paid.  Gateway bookings get an external checkout session; cash
// bookings wait at the park counter until their expiry window passes.
const (
	PaymentMethodGateway = "gateway"
	PaymentMethodCash    = "cash"
)

// Booking records a timed entry purchase for a destination inside the
// park.  The order number is unique and immutable; it is the
// idempotency key shared with the payments table and with the external
// payment gateway.
//
// Fields:
//  ID            – primary key identifier.
//  OrderNumber   – unique order reference, never reused.
//  UserID        – account that created the booking, nil for guests.
//  DestinationID – destination being visited.
//  Status        – lifecycle state (see BookingStatus).
//  VisitDate     – day the entry is valid for.
//  LeaderName    – contact person for the visiting group.
//  LeaderEmail   – contact email, target of all booking mail.
//  LeaderPhone   – contact phone number.
//  VisitorCount  – number of persons, excludes vehicles.
//  VehicleCount  – number of vehicles of any category.
//  Subtotal      – sum of all line totals before fees and discounts.
//  ServiceFee    – flat fee added on top of the subtotal.
//  Discount      – amount subtracted by an applied coupon.
//  DiscountCode  – coupon code that produced the discount, if any.
//  TotalAmount   – subtotal + service fee − discount, never negative.
//  PaymentMethod – "gateway" or "cash".
//  ExpiresAt     – cash window or gateway session expiry, if any.
type Booking struct {
	ID            uint64        // bookings.id
	OrderNumber   string        // bookings.order_number
	UserID        *uint64       // bookings.user_id (nullable)
	DestinationID uint64        // bookings.destination_id
	Status        BookingStatus // bookings.status
	VisitDate     time.Time     // bookings.visit_date
	LeaderName    string        // bookings.leader_name
	LeaderEmail   string        // bookings.leader_email
	LeaderPhone   string        // bookings.leader_phone
	VisitorCount  uint32        // bookings.visitor_count
	VehicleCount  uint32        // bookings.vehicle_count
	Subtotal      int64         // bookings.subtotal
	ServiceFee    int64         // bookings.service_fee
	Discount      int64         // bookings.discount
	DiscountCode  *string       // bookings.discount_code (nullable)
	TotalAmount   int64         // bookings.total_amount
	PaymentMethod string        // bookings.payment_method
	ExpiresAt     *time.Time    // bookings.expires_at (nullable)
	ConfirmedAt   *time.Time    // bookings.confirmed_at (nullable)
	UsedAt        *time.Time    // bookings.used_at (nullable)
	CancelledAt   *time.Time    // bookings.cancelled_at (nullable)
	ExpiredAt     *time.Time    // bookings.expired_at (nullable)
	CreatedAt     time.Time     // bookings.created_at
	UpdatedAt     time.Time     // bookings.updated_at
	DeletedAt     *time.Time    // bookings.deleted_at, soft delete marker
}

// BookingItem is one priced line inside a booking.  Items are owned
// exclusively by their booking and are replaced wholesale whenever a
// pending booking is edited.
type BookingItem struct {
	ID        uint64    // booking_items.id
	BookingID uint64    // booking_items.booking_id
	PriceID   uint64    // booking_items.price_id
	Category  string    // booking_items.category
	Label     string    // booking_items.label
	Quantity  uint32    // booking_items.quantity
	UnitPrice int64     // booking_items.unit_price
	LineTotal int64     // booking_items.line_total
	CreatedAt time.Time // booking_items.created_at
}
