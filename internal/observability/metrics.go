// Package observability exposes Prometheus metrics for the inference
// cascade and its collaborators.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application metric instruments, registered on a private
// registry so tests can create instances freely.
type Metrics struct {
	registry *prometheus.Registry

	PredictionsByLayer *prometheus.CounterVec
	Escalations        prometheus.Counter
	QuotaFailures      prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	NotificationsSent    prometheus.Counter
	NotificationsDropped prometheus.Counter
}

// NewMetrics creates and registers all instruments.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PredictionsByLayer: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "floraguard_predictions_total",
			Help: "Completed predictions by classification layer.",
		}, []string{"layer"}),
		Escalations: factory.NewCounter(prometheus.CounterOpts{
			Name: "floraguard_escalations_total",
			Help: "Predictions escalated to the universal layer.",
		}),
		QuotaFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "floraguard_universal_quota_failures_total",
			Help: "Universal layer calls rejected for quota or rate-limit reasons.",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "floraguard_cache_hits_total",
			Help: "Prediction cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "floraguard_cache_misses_total",
			Help: "Prediction cache misses, including store-unavailable misses.",
		}),
		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "floraguard_notifications_sent_total",
			Help: "Notifications accepted by the push channel.",
		}),
		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "floraguard_notifications_dropped_total",
			Help: "Notifications dropped because the queue was full or the send failed.",
		}),
	}
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
