package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type CheckoutMetrics struct {
	CheckoutsTotal   *prometheus.CounterVec
	SettlementsTotal *prometheus.CounterVec
	LatencyMS        *prometheus.HistogramVec
}

func NewCheckoutMetrics() *CheckoutMetrics {
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "orders_total",
		Help:      "Total number of checkout attempts.",
	}, []string{"result"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Name:      "settlements_total",
		Help:      "Total number of payment settlement attempts.",
	}, []string{"result"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkout",
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	prometheus.MustRegister(checkouts, settlements, latency)
	return &CheckoutMetrics{CheckoutsTotal: checkouts, SettlementsTotal: settlements, LatencyMS: latency}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
