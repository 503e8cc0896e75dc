package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/prasetyautama/park-entry-booking/internal/gateway"
	"github.com/prasetyautama/park-entry-booking/internal/metrics"
	"github.com/prasetyautama/park-entry-booking/internal/reconcile"
	"github.com/prasetyautama/park-entry-booking/internal/repository"
)

// WebhookHandler receives the payment gateway's push notifications.
// The route is unauthenticated by design; authenticity comes from the
// signature inside the body, verified against the server key.
type WebhookHandler struct {
	Reconciler *reconcile.Reconciler
	ServerKey  string
	Metrics    *metrics.Metrics
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(rec *reconcile.Reconciler, serverKey string, m *metrics.Metrics) *WebhookHandler {
	if rec == nil || serverKey == "" || m == nil {
		panic("nil dependency passed to NewWebhookHandler")
	}
	return &WebhookHandler{Reconciler: rec, ServerKey: serverKey, Metrics: m}
}

// HandlePaymentWebhook handles POST /v1/payments/notify.  The provider
// retries until it sees a 2xx, so every successfully processed event
// answers 200 even when it changed nothing; only bad signatures (403)
// and infrastructure failures (5xx) are surfaced, the latter exactly so
// the provider retries.
func (h *WebhookHandler) HandlePaymentWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	ev, err := gateway.ParseWebhook(body, h.ServerKey)
	if err != nil {
		if errors.Is(err, gateway.ErrBadSignature) {
			h.Metrics.WebhooksRejected.Inc()
			return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid signature"})
		}
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed webhook"})
	}

	outcome, err := h.Reconciler.Apply(c.Request().Context(), reconcile.Signal{
		Source:        reconcile.SourceWebhook,
		OrderNumber:   ev.OrderID,
		Status:        ev.Normalize(),
		TransactionID: ev.TransactionID,
		Raw:           body,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// An order we never created; acknowledge so the provider
			// stops retrying.
			return c.JSON(http.StatusOK, echo.Map{"outcome": "unknown_order"})
		}
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"outcome": string(outcome)})
}
