package model

import "time"

// Price is one entry of a destination's active price list.  Category
// names the visitor or vehicle class the price applies to ("adult",
// "child", "motorcycle", ...); Label is the human description shown
// on line items and gateway checkout pages.
type Price struct {
	ID            uint64    // prices.id
	DestinationID uint64    // prices.destination_id
	Category      string    // prices.category
	Label         string    // prices.label
	Amount        int64     // prices.amount
	Active        bool      // prices.active
	CreatedAt     time.Time // prices.created_at
}
