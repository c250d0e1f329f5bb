package wsserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	connections prometheus.Gauge
	envelopes   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	deliveries  prometheus.Counter
	dropped     prometheus.Counter
	evictions   prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "grouptalk",
			Name:      "connections",
			Help:      "Number of open websocket connections",
		}),
		envelopes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grouptalk",
			Name:      "envelopes_total",
			Help:      "Inbound envelopes by type and outcome",
		}, []string{"type", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "grouptalk",
			Name:      "dispatch_duration_seconds",
			Help:      "Envelope handling duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		deliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "grouptalk",
			Name:      "broadcast_deliveries_total",
			Help:      "Envelopes queued to group members by fan-out",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "grouptalk",
			Name:      "broadcast_dropped_total",
			Help:      "Fan-out deliveries that failed and deactivated the recipient",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "grouptalk",
			Name:      "session_evictions_total",
			Help:      "Sessions closed by a newer login of the same account",
		}),
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) observeEnvelope(typ, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues(typ, outcome).Inc()
	m.duration.WithLabelValues(typ).Observe(seconds)
}

func (m *Metrics) observeFanout(delivered, dropped int) {
	if m == nil {
		return
	}
	m.deliveries.Add(float64(delivered))
	m.dropped.Add(float64(dropped))
}

func (m *Metrics) evicted() {
	if m != nil {
		m.evictions.Inc()
	}
}
