package model

import "time"

// Notification is a durable in-app notification row.  It is always
// written before any email or push attempt and is never rolled back
// when those downstream sends fail.
type Notification struct {
	ID        uint64     // notifications.id
	UserID    *uint64    // notifications.user_id, nil for guest bookings
	Kind      string     // notifications.kind, transition event kind
	Title     string     // notifications.title
	Message   string     // notifications.message
	Data      []byte     // notifications.data, JSON payload
	Link      string     // notifications.link, deep link for the client
	ReadAt    *time.Time // notifications.read_at (nullable)
	CreatedAt time.Time  // notifications.created_at
}
