package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	EnvelopesGenerated  prometheus.Counter
	EnvelopeGenFailures prometheus.Counter
	ProcessingOutcomes  *prometheus.CounterVec
	QueueDepth          prometheus.Gauge
	PublishAttempts     prometheus.Counter
	PublishFailures     prometheus.Counter
	NotificationsSent   *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		EnvelopesGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tariffpub_envelopes_generated_total",
			Help: "Total number of envelope files generated and validated",
		}),
		EnvelopeGenFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tariffpub_envelope_generation_failures_total",
			Help: "Total number of failed envelope generation attempts",
		}),
		ProcessingOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tariffpub_processing_outcomes_total",
			Help: "Processing outcomes for packaged workbaskets by result",
		}, []string{"outcome"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tariffpub_packaging_queue_depth",
			Help: "Number of packaged workbaskets awaiting processing",
		}),
		PublishAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tariffpub_api_publish_attempts_total",
			Help: "Total envelope publish attempts to the tariff API",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tariffpub_api_publish_failures_total",
			Help: "Total failed envelope publish attempts to the tariff API",
		}),
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tariffpub_notifications_sent_total",
			Help: "Notification events emitted by template",
		}, []string{"template"}),
	}
}
