// Package gateway abstracts the external payment provider.  It exposes
// session creation, status queries and cancellation plus the mapping
// from the provider's raw transaction vocabulary to the normalized
// status set the rest of the system reasons about.
package gateway

import (
	"context"
	"fmt"
	"time"
)

// Status is the normalized view of a gateway transaction state.
// StatusUnknown means "no information, do not mutate" and is what a
// provider 404 maps to; it is never an error.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSettled   Status = "settled"
	StatusDenied    Status = "denied"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusChallenge Status = "challenge"
	StatusUnknown   Status = "unknown"
)

// GatewayError wraps transport-level failures: timeouts, 5xx responses
// and malformed payloads.  Callers must leave local state untouched
// when they see one; the next webhook or poll retries the work.
type GatewayError struct {
	Op         string // operation that failed ("create session", "query status", ...)
	StatusCode int    // HTTP status if a response was received, 0 otherwise
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// LineItem is one checkout line sent to the provider.  A coupon
// discount travels as a line with a negative price.
type LineItem struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Qty   uint32 `json:"quantity"`
}

// SessionRequest carries everything the provider needs to open one
// checkout attempt for an order.
type SessionRequest struct {
	OrderNumber   string
	GrossAmount   int64
	Items         []LineItem
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Expiry        time.Duration
}

// Session is the provider's opaque handle for one checkout attempt,
// bound to a single order reference.
type Session struct {
	Token       string
	RedirectURL string
	ExpiresAt   time.Time
}

// Adapter is the contract the reconciliation engine depends on.  All
// calls are bounded by the implementation's timeout and must never
// partially mutate local state.
type Adapter interface {
	// CreateSession opens a checkout session for the booking's order.
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	// QueryStatus returns the normalized status for an order plus the
	// raw provider payload for audit.  A provider 404 yields
	// (StatusUnknown, nil, nil).
	QueryStatus(ctx context.Context, orderRef string) (Status, []byte, error)
	// Cancel voids the order's session on the provider side.  The
	// boolean reports whether the provider accepted the cancellation.
	Cancel(ctx context.Context, orderRef string) (bool, error)
}

// Normalize maps the provider's transaction_status / fraud_status pair
// to a Status.  A capture is only settled once fraud screening accepts
// it; a challenged capture stays in limbo until an operator decides.
func Normalize(transactionStatus, fraudStatus string) Status {
	switch transactionStatus {
	case "capture":
		switch fraudStatus {
		case "accept", "":
			return StatusSettled
		case "challenge":
			return StatusChallenge
		default:
			return StatusDenied
		}
	case "settlement":
		return StatusSettled
	case "pending":
		return StatusPending
	case "deny":
		return StatusDenied
	case "cancel":
		return StatusCancelled
	case "expire":
		return StatusExpired
	case "refund", "partial_refund":
		// Refunds are handled out of band; the signal itself is not a
		// failure and must not cancel anything.
		return StatusUnknown
	default:
		return StatusUnknown
	}
}
