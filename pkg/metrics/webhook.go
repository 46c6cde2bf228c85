package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
)

// WebhookMetrics counts webhook deliveries per gateway, event kind and outcome.
type WebhookMetrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	shortage *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	m := &WebhookMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Payment webhook deliveries by outcome.",
		}, []string{"gateway", "kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_apply_duration_seconds",
			Help:      "Time spent applying a webhook event.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"gateway", "kind"}),
		shortage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_shortfall_units_total",
			Help:      "Units that could not be decremented because stock ran out.",
		}, []string{"gateway"}),
	}
	reg.MustRegister(m.events, m.duration, m.shortage)
	return m
}

func (m *WebhookMetrics) Observe(gateway, kind, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(label(gateway), label(kind), label(outcome)).Inc()
}

func (m *WebhookMetrics) ObserveApply(gateway, kind string, took time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(label(gateway), label(kind)).Observe(took.Seconds())
}

func (m *WebhookMetrics) AddShortfall(gateway string, units int) {
	if m == nil || m.shortage == nil || units <= 0 {
		return
	}
	m.shortage.WithLabelValues(label(gateway)).Add(float64(units))
}

func label(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
