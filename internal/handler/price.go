package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/prasetyautama/park-entry-booking/internal/repository"
)

// PriceHandler exposes the public price lists visitors browse before
// booking.  The routes are unauthenticated and sit behind the response
// cache.
type PriceHandler struct {
	Prices *repository.PriceRepo
}

// NewPriceHandler constructs a PriceHandler.
func NewPriceHandler(prices *repository.PriceRepo) *PriceHandler {
	if prices == nil {
		panic("nil repository passed to NewPriceHandler")
	}
	return &PriceHandler{Prices: prices}
}

// ListPrices handles GET /v1/destinations/:id/prices.
func (h *PriceHandler) ListPrices(c echo.Context) error {
	destID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || destID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid destination id"})
	}
	list, err := h.Prices.ListActive(c.Request().Context(), destID)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]echo.Map, 0, len(list))
	for _, p := range list {
		out = append(out, echo.Map{
			"id":       p.ID,
			"category": p.Category,
			"label":    p.Label,
			"amount":   p.Amount,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"prices": out})
}
