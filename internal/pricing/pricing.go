// Package pricing computes priced line items and visitor/vehicle
// summaries from requested quantities against a destination's active
// price list.
package pricing

import (
	"fmt"
	"strings"

	"github.com/prasetyautama/park-entry-booking/internal/model"
)

// Person categories are matched exactly; anything else is checked for
// vehicle keywords.  The substring fallback is intentional so that
// loosely named custom categories ("big bus", "tour car") still count
// as vehicles instead of inflating the visitor total.
var personCategories = map[string]bool{
	"adult":   true,
	"child":   true,
	"elderly": true,
	"student": true,
}

var vehicleKeywords = []string{"motorcycle", "motorbike", "car", "bus"}

// Result is the output of ComputeItems: the priced lines plus the
// aggregate counters a booking carries.
type Result struct {
	Items        []model.BookingItem
	Subtotal     int64
	VisitorCount uint32            // persons only, vehicles excluded
	VehicleCount uint32            // all vehicle categories combined
	Categories   map[string]uint32 // per-category quantity counters
}

// ValidationError reports a request rejected before any state change:
// unknown price ids, zero quantities, a visit date in the past and the
// like.  Handlers translate it into a 400 response.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NewValidationError builds a ValidationError from a format string.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsVehicleCategory reports whether a price category counts as a
// vehicle.  Exact person categories always count as persons; all other
// names are scanned for vehicle keywords.
func IsVehicleCategory(category string) bool {
	c := strings.ToLower(strings.TrimSpace(category))
	if personCategories[c] {
		return false
	}
	for _, kw := range vehicleKeywords {
		if strings.Contains(c, kw) {
			return true
		}
	}
	return false
}

// ComputeItems builds line items for each requested (priceID, qty) pair
// with qty > 0 whose price id is present in the active list.  Requested
// ids missing from the list are rejected rather than silently dropped.
// The returned result accumulates the subtotal, the visitor count
// (persons only) and per-category counters.
func ComputeItems(quantities map[uint64]uint32, list []model.Price) (*Result, error) {
	if len(quantities) == 0 {
		return nil, NewValidationError("no quantities requested")
	}
	byID := make(map[uint64]model.Price, len(list))
	for _, p := range list {
		byID[p.ID] = p
	}
	res := &Result{Categories: make(map[string]uint32)}
	// Iterate the price list rather than the request map so the line
	// order is deterministic.
	for _, p := range list {
		qty, ok := quantities[p.ID]
		if !ok || qty == 0 {
			continue
		}
		line := model.BookingItem{
			PriceID:   p.ID,
			Category:  p.Category,
			Label:     p.Label,
			Quantity:  qty,
			UnitPrice: p.Amount,
			LineTotal: p.Amount * int64(qty),
		}
		res.Items = append(res.Items, line)
		res.Subtotal += line.LineTotal
		res.Categories[strings.ToLower(p.Category)] += qty
		if IsVehicleCategory(p.Category) {
			res.VehicleCount += qty
		} else {
			res.VisitorCount += qty
		}
	}
	for id, qty := range quantities {
		if qty == 0 {
			continue
		}
		if _, ok := byID[id]; !ok {
			return nil, NewValidationError("price %d is not in the active price list", id)
		}
	}
	if len(res.Items) == 0 {
		return nil, NewValidationError("no valid quantities requested")
	}
	return res, nil
}
