package model

import "time"

// PaymentStatus enumerates the normalized states of a payment record.
// The values are wire-stable.  A payment never regresses out of a
// terminal success state regardless of what the gateway sends later.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSuccess   PaymentStatus = "success"
	PaymentFailed    PaymentStatus = "failed"
	PaymentExpired   PaymentStatus = "expired"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentChallenge PaymentStatus = "challenge"
	PaymentDeny      PaymentStatus = "deny"
)

// TerminalSuccess reports whether the status is a settled state that
// must never be overwritten by a later non-success signal.
func (s PaymentStatus) TerminalSuccess() bool {
	return s == PaymentSuccess || s == PaymentRefunded
}

// Payment is the single authoritative payment record for one booking,
// keyed by the same order number.  RawResponse keeps a snapshot of the
// last gateway payload for audit.
type Payment struct {
	ID            uint64        // payments.id
	OrderNumber   string        // payments.order_number
	TransactionID *string       // payments.transaction_id, gateway side id (nullable)
	Status        PaymentStatus // payments.status
	GrossAmount   int64         // payments.gross_amount
	PaidAt        *time.Time    // payments.paid_at (nullable)
	ExpiredAt     *time.Time    // payments.expired_at (nullable)
	RawResponse   []byte        // payments.raw_response, last gateway payload
	CreatedAt     time.Time     // payments.created_at
	UpdatedAt     time.Time     // payments.updated_at
}
