package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prasetyautama/park-entry-booking/internal/handler"    // import the handlers that implement business logic
	"github.com/prasetyautama/park-entry-booking/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance: the health check, the Prometheus scrape
// endpoint and the gateway webhook.  The webhook is deliberately
// unauthenticated; its body carries its own signature.
func RegisterRoutes(e *echo.Echo, w *handler.WebhookHandler) {
	// Map the GET request at path "/healthz" to the Health handler.  This
	// endpoint can be used by load balancers or monitoring systems to verify
	// that the service is up and running.
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.POST("/v1/payments/notify", w.HandlePaymentWebhook)
}

// RegisterPublic registers unauthenticated browse endpoints.  Price
// lists are read-heavy and immutable between admin edits, so the
// response cache middleware sits in front of them.
func RegisterPublic(e *echo.Echo, p *handler.PriceHandler, cache echo.MiddlewareFunc) {
	g := e.Group("/v1")
	if cache != nil {
		g.Use(cache)
	}
	g.GET("/destinations/:id/prices", p.ListPrices)
}

// RegisterBookings registers the visitor-facing booking lifecycle under
// /v1/bookings.  The group runs behind OptionalJWTAuth: a signed-in
// visitor's bookings bind to their account, guests book with just an
// order number.
func RegisterBookings(e *echo.Echo, b *handler.BookingHandler, t *handler.TicketHandler, jwtSecret string) {
	g := e.Group("/v1", middleware.OptionalJWTAuth(jwtSecret))
	g.POST("/bookings", b.CreateBooking)
	g.GET("/bookings/:order", b.GetBooking)
	g.PATCH("/bookings/:order", b.EditBooking)
	g.DELETE("/bookings/:order", b.CancelBooking)
	g.POST("/bookings/:order/sync", b.SyncBooking)
	g.GET("/bookings/:order/ticket", t.GetTicket)
	g.GET("/bookings/:order/ticket/qr", t.GetTicketQR)

	// Notifications require a real account; the handler rejects guests.
	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.GET("/notifications", b.ListNotifications)
}

// RegisterStaff registers the gate and counter endpoints.  Gate staff
// carry the VALIDATOR role, the back office carries ADMIN; admins can
// do everything a validator can.
func RegisterStaff(e *echo.Echo, t *handler.TicketHandler, jwtSecret string) {
	gate := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("VALIDATOR", "ADMIN"),
	)
	gate.POST("/tickets/:code/validate", t.ValidateTicket)

	admin := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("ADMIN"),
	)
	admin.POST("/bookings/:order/confirm-cash", t.ConfirmCashPayment)
	admin.POST("/tickets/:code/cancel", t.CancelTicket)
}
