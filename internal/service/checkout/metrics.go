package checkout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_transitions_total",
			Help: "Checkout state transitions by target state",
		},
		[]string{"to"},
	)

	ordersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_orders_total",
			Help: "Order creation attempts by result",
		},
		[]string{"result"},
	)

	paymentInitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_payment_initializations_total",
			Help: "Payment initializations by method and result",
		},
		[]string{"method", "result"},
	)

	gatewayCallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_gateway_callbacks_total",
			Help: "Gateway widget callbacks by kind",
		},
		[]string{"kind"},
	)

	verificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_verifications_total",
			Help: "Payment verifications by result",
		},
		[]string{"result"},
	)
)

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
