// Package queue defines message payloads exchanged over the message broker.
package queue

// NotificationPushEvent is published when a booking notification should
// reach the visitor's devices.  It carries enough information for the
// push workers to render the notification without querying the primary
// database.
type NotificationPushEvent struct {
	NotificationID uint64  `json:"notification_id"`
	UserID         *uint64 `json:"user_id,omitempty"`
	OrderNumber    string  `json:"order_number"`
	Kind           string  `json:"kind"`
	Title          string  `json:"title"`
	Message        string  `json:"message"`
	Link           string  `json:"link"`
	OccurredAt     string  `json:"occurred_at"`
}
