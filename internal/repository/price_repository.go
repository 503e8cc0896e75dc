package repository

import (
	"context"
	"database/sql"

	"github.com/prasetyautama/park-entry-booking/internal/model"
)

// PriceRepo reads the active price list for a destination.  The list
// is what the pricing engine computes line items against; inactive
// prices never reach it.
type PriceRepo struct {
	db *sql.DB
}

// NewPriceRepo returns a new PriceRepo bound to the given database.
func NewPriceRepo(db *sql.DB) *PriceRepo { return &PriceRepo{db: db} }

// ListActive returns the destination's active prices ordered by id.
func (r *PriceRepo) ListActive(ctx context.Context, destinationID uint64) ([]model.Price, error) {
	const sel = `SELECT id, destination_id, category, label, amount, active, created_at
                 FROM prices WHERE destination_id = ? AND active = 1 ORDER BY id`
	rows, err := q(ctx, r.db).QueryContext(ctx, sel, destinationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	prices := make([]model.Price, 0)
	for rows.Next() {
		var p model.Price
		if err := rows.Scan(&p.ID, &p.DestinationID, &p.Category, &p.Label, &p.Amount, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}
