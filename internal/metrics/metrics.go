package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_deliveries_total",
			Help: "Total number of outbound delivery attempts (count)",
		},
		[]string{"event", "status"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookrelay_delivery_duration_ms",
			Help:    "Outbound delivery round trip in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"status"},
	)

	RetriesScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_retries_scheduled_total",
			Help: "Total number of delivery retries scheduled (count)",
		},
	)

	RetriesExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_retries_exhausted_total",
			Help: "Total number of deliveries that ran out of retries (count)",
		},
	)

	IngestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_ingestions_total",
			Help: "Total number of inbound webhook requests by outcome (count)",
		},
		[]string{"status", "code"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_rate_limit_requests_total",
			Help: "Total number of requests checked against the inbound rate limit (count)",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(DeliveriesTotal)
		prometheus.MustRegister(DeliveryDuration)
		prometheus.MustRegister(RetriesScheduledTotal)
		prometheus.MustRegister(RetriesExhaustedTotal)
		prometheus.MustRegister(IngestionsTotal)
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func ObserveDelivery(event, status string, duration time.Duration) {
	DeliveriesTotal.WithLabelValues(event, status).Inc()
	DeliveryDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncIngestion(status string, code int) {
	IngestionsTotal.WithLabelValues(status, codeLabel(code)).Inc()
}

func IncRateLimit(allowed bool) {
	if allowed {
		RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		return
	}
	RateLimitRequestsTotal.WithLabelValues("limited").Inc()
}

func codeLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
