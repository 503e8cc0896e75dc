package gateway

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBadSignature is returned when a webhook's signature does not match
// the server key.  Handlers answer 403 and drop the event.
var ErrBadSignature = errors.New("webhook signature mismatch")

// WebhookEvent is the inbound push notification from the provider.
// GrossAmount stays a string because the provider formats it with
// decimals; it participates in the signature exactly as received.
type WebhookEvent struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	PaymentType       string `json:"payment_type"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
}

// Normalize maps the event to the shared status vocabulary.
func (e *WebhookEvent) Normalize() Status {
	return Normalize(e.TransactionStatus, e.FraudStatus)
}

// ParseWebhook decodes and authenticates an inbound webhook body.  The
// provider signs events with sha512(order_id + status_code +
// gross_amount + server key); anything that does not verify is
// rejected before reconciliation ever sees it.
func ParseWebhook(body []byte, serverKey string) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, &GatewayError{Op: "parse webhook", Err: err}
	}
	if ev.OrderID == "" {
		return nil, &GatewayError{Op: "parse webhook", Err: fmt.Errorf("missing order_id")}
	}
	sum := sha512.Sum512([]byte(ev.OrderID + ev.StatusCode + ev.GrossAmount + serverKey))
	want := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(want), []byte(ev.SignatureKey)) != 1 {
		return nil, ErrBadSignature
	}
	return &ev, nil
}
