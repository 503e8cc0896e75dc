// Package metrics exposes the Prometheus instruments for the booking
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument the server registers.  A single value
// is created at startup and shared by the packages that record into it.
type Metrics struct {
	BookingsCreated   *prometheus.CounterVec // labels: payment_method
	ReconcileOutcomes *prometheus.CounterVec // labels: source, outcome
	WebhooksRejected  prometheus.Counter
	GatewayErrors     prometheus.Counter
	TicketsIssued     prometheus.Counter
	TicketsValidated  prometheus.Counter
	CouponsRedeemed   prometheus.Counter
}

// New registers the instruments on reg and returns them.  Pass
// prometheus.DefaultRegisterer in the server, a fresh registry in
// tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BookingsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parkbooking_bookings_created_total",
			Help: "Bookings created, by payment method.",
		}, []string{"payment_method"}),
		ReconcileOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parkbooking_reconcile_outcomes_total",
			Help: "Payment reconciliation outcomes, by status source and result.",
		}, []string{"source", "outcome"}),
		WebhooksRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "parkbooking_webhooks_rejected_total",
			Help: "Gateway webhooks rejected for a bad signature.",
		}),
		GatewayErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "parkbooking_gateway_errors_total",
			Help: "Failed calls to the payment gateway.",
		}),
		TicketsIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "parkbooking_tickets_issued_total",
			Help: "Entry tickets issued.",
		}),
		TicketsValidated: factory.NewCounter(prometheus.CounterOpts{
			Name: "parkbooking_tickets_validated_total",
			Help: "Entry tickets scanned in at the gate.",
		}),
		CouponsRedeemed: factory.NewCounter(prometheus.CounterOpts{
			Name: "parkbooking_coupons_redeemed_total",
			Help: "Coupon usages recorded against settled bookings.",
		}),
	}
}
