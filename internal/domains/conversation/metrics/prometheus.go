package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Turn outcomes used as label values.
const (
	OutcomeReplied = "replied"
	OutcomeFailed  = "failed"
	OutcomeAborted = "aborted"
)

// Recorder receives conversation-level measurements.
type Recorder interface {
	ObserveTurn(mode string, latency time.Duration, outcome string)
	ObserveSession(mode string, duration time.Duration)
	ConversationOpened()
	ConversationClosed()
}

type NopRecorder struct{}

func (NopRecorder) ObserveTurn(string, time.Duration, string) {}
func (NopRecorder) ObserveSession(string, time.Duration) {}
func (NopRecorder) ConversationOpened() {}
func (NopRecorder) ConversationClosed() {}

// PrometheusRecorder exports conversation metrics on its own registry.
type PrometheusRecorder struct {
	registry        *prometheus.Registry
	turnLatency     *prometheus.HistogramVec
	turnsTotal      *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	active          prometheus.Gauge
}

func NewPrometheusRecorder(namespace string) *PrometheusRecorder {
	r := &PrometheusRecorder{registry: prometheus.NewRegistry()}

	r.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "Time from sending the learner's text to a decoded reply.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 45},
		},
		[]string{"mode"},
	)
	r.turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		},
		[]string{"mode", "outcome"},
	)
	r.sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Length of finished conversation attempts.",
			Buckets:   prometheus.ExponentialBuckets(15, 2, 8),
		},
		[]string{"mode"},
	)
	r.active = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_conversations",
		Help:      "Conversations currently attached to a device.",
	})

	r.registry.MustRegister(r.turnLatency, r.turnsTotal, r.sessionDuration, r.active)
	return r
}

func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

func (r *PrometheusRecorder) ObserveTurn(mode string, latency time.Duration, outcome string) {
	r.turnsTotal.WithLabelValues(mode, outcome).Inc()
	if outcome == OutcomeReplied {
		r.turnLatency.WithLabelValues(mode).Observe(latency.Seconds())
	}
}

func (r *PrometheusRecorder) ObserveSession(mode string, duration time.Duration) {
	r.sessionDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (r *PrometheusRecorder) ConversationOpened() { r.active.Inc() }
func (r *PrometheusRecorder) ConversationClosed() { r.active.Dec() }
