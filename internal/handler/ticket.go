package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/prasetyautama/park-entry-booking/internal/booking"
	"github.com/prasetyautama/park-entry-booking/internal/gateway"
	"github.com/prasetyautama/park-entry-booking/internal/metrics"
	"github.com/prasetyautama/park-entry-booking/internal/model"
	"github.com/prasetyautama/park-entry-booking/internal/notify"
	"github.com/prasetyautama/park-entry-booking/internal/reconcile"
	"github.com/prasetyautama/park-entry-booking/internal/repository"
	"github.com/prasetyautama/park-entry-booking/internal/ticket"
)

// TicketHandler serves ticket viewing for visitors and validation for
// gate staff, plus the counter's cash confirmation.
type TicketHandler struct {
	Svc        *booking.Service
	Issuer     *ticket.Issuer
	Tickets    *repository.TicketRepo
	Bookings   *repository.BookingRepo
	Reconciler *reconcile.Reconciler
	Notifier   *notify.Dispatcher
	Metrics    *metrics.Metrics
}

// NewTicketHandler constructs a TicketHandler.  All dependencies must
// be non-nil.
func NewTicketHandler(svc *booking.Service, issuer *ticket.Issuer, tickets *repository.TicketRepo,
	bookings *repository.BookingRepo, rec *reconcile.Reconciler, notifier *notify.Dispatcher, m *metrics.Metrics) *TicketHandler {
	if svc == nil || issuer == nil || tickets == nil || bookings == nil || rec == nil || notifier == nil || m == nil {
		panic("nil dependency passed to NewTicketHandler")
	}
	return &TicketHandler{
		Svc: svc, Issuer: issuer, Tickets: tickets, Bookings: bookings,
		Reconciler: rec, Notifier: notifier, Metrics: m,
	}
}

// loadOwnedTicket resolves the booking by order number with ownership
// enforced, then its ticket with the lazy expiry applied.
func (h *TicketHandler) loadOwnedTicket(c echo.Context) (*model.Booking, *model.Ticket, model.TicketStatus, error) {
	b, _, err := h.Svc.Get(c.Request().Context(), c.Param("order"), currentUser(c))
	if err != nil {
		return nil, nil, "", err
	}
	t, err := h.Tickets.GetByBooking(c.Request().Context(), b.ID)
	if err != nil {
		return nil, nil, "", err
	}
	status, err := h.Issuer.EffectiveStatus(c.Request().Context(), t)
	if err != nil {
		return nil, nil, "", err
	}
	return b, t, status, nil
}

// GetTicket handles GET /v1/bookings/:order/ticket.
func (h *TicketHandler) GetTicket(c echo.Context) error {
	b, t, status, err := h.loadOwnedTicket(c)
	if err != nil {
		return writeError(c, err)
	}
	v := echo.Map{
		"code":       t.Code,
		"status":     string(status),
		"valid_date": t.ValidDate.Format("2006-01-02"),
		"order":      b.OrderNumber,
	}
	if t.ValidatedAt != nil {
		v["validated_at"] = t.ValidatedAt
	}
	return c.JSON(http.StatusOK, echo.Map{"ticket": v})
}

// GetTicketQR handles GET /v1/bookings/:order/ticket/qr, answering the
// scannable PNG directly.
func (h *TicketHandler) GetTicketQR(c echo.Context) error {
	_, t, status, err := h.loadOwnedTicket(c)
	if err != nil {
		return writeError(c, err)
	}
	if status != model.TicketValid {
		return c.JSON(http.StatusConflict, echo.Map{"error": "ticket is not valid"})
	}
	png, err := ticket.RenderQR(t.Payload)
	if err != nil {
		return writeError(c, err)
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

// ValidateTicket handles POST /v1/tickets/:code/validate for gate
// staff.  A successful scan is one-way: the same code answered 200
// exactly once.
func (h *TicketHandler) ValidateTicket(c echo.Context) error {
	ctx := c.Request().Context()
	t, err := h.Tickets.GetByCode(ctx, c.Param("code"))
	if err != nil {
		return writeError(c, err)
	}
	b, err := h.Bookings.GetByID(ctx, t.BookingID)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.Issuer.Enter(ctx, t, b, currentSubject(c)); err != nil {
		return writeError(c, err)
	}
	h.Metrics.TicketsValidated.Inc()

	// Entry consumes the booking: the single ticket covers the whole
	// group, so a used ticket means a used booking.
	if err := h.Bookings.UpdateStatus(ctx, b.OrderNumber, model.BookingUsed, *t.ValidatedAt); err != nil {
		c.Logger().Errorf("mark booking %s used: %v", b.OrderNumber, err)
	} else {
		b.Status = model.BookingUsed
	}
	if err := h.Notifier.Dispatch(ctx, notify.TicketValidated{B: b, T: t}); err != nil {
		c.Logger().Errorf("notify ticket validated for %s: %v", b.OrderNumber, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"ticket": echo.Map{
			"code":         t.Code,
			"status":       string(t.Status),
			"validated_at": t.ValidatedAt,
			"validated_by": t.ValidatedBy,
		},
	})
}

// ConfirmCashPayment handles POST /v1/bookings/:order/confirm-cash for
// counter staff.  The confirmation rides the same reconciliation path
// as a gateway settlement, so it is exactly-once the same way.
func (h *TicketHandler) ConfirmCashPayment(c echo.Context) error {
	b, err := h.Bookings.GetByOrder(c.Request().Context(), c.Param("order"))
	if err != nil {
		return writeError(c, err)
	}
	if b.PaymentMethod != model.PaymentMethodCash {
		return c.JSON(http.StatusConflict, echo.Map{"error": "booking is not a cash booking"})
	}
	outcome, err := h.Reconciler.Apply(c.Request().Context(), reconcile.Signal{
		Source:      reconcile.SourceCounter,
		OrderNumber: c.Param("order"),
		Status:      gateway.StatusSettled,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"outcome": string(outcome)})
}

// CancelTicket handles POST /v1/tickets/:code/cancel for admins.
func (h *TicketHandler) CancelTicket(c echo.Context) error {
	ctx := c.Request().Context()
	t, err := h.Tickets.GetByCode(ctx, c.Param("code"))
	if err != nil {
		return writeError(c, err)
	}
	if err := h.Issuer.Cancel(ctx, t); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ticket": echo.Map{"code": t.Code, "status": string(t.Status)}})
}
