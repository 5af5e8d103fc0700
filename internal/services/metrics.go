package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the custom Prometheus metrics of the CRM. All methods are
// safe on a nil receiver so services can run without metrics in tests.
type Metrics struct {
	// Pipeline metrics
	Transitions        *prometheus.CounterVec
	TransitionFailures *prometheus.CounterVec
	RecordWrites       *prometheus.CounterVec
	ListLatency        *prometheus.HistogramVec
	SnapshotCache      *prometheus.CounterVec

	// Feed metrics
	WebSocketConnections prometheus.Gauge
	WebSocketMessages    *prometheus.CounterVec
	DroppedEvents        prometheus.Counter

	connManager *ConnectionManager
}

var globalMetrics *Metrics

// InitMetrics registers the metrics with the default Prometheus registry
func InitMetrics(connManager *ConnectionManager) *Metrics {
	globalMetrics = NewMetrics(prometheus.DefaultRegisterer, connManager)
	return globalMetrics
}

// NewMetrics registers the metrics with reg
func NewMetrics(reg prometheus.Registerer, connManager *ConnectionManager) *Metrics {
	factory := promauto.With(reg)
	metrics := &Metrics{
		connManager: connManager,

		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtycrm_stage_transitions_total",
			Help: "Applied stage transitions by entity kind and target stage",
		}, []string{"kind", "to"}),

		TransitionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtycrm_stage_transition_failures_total",
			Help: "Rejected or failed stage transitions by entity kind and reason",
		}, []string{"kind", "reason"}), // reason: "invalid", "not_found", "upstream"

		RecordWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtycrm_record_writes_total",
			Help: "Record writes by entity kind and operation",
		}, []string{"kind", "op"}),

		ListLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "realtycrm_list_duration_seconds",
			Help:    "Time spent filtering, sorting and paginating a list request",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}, []string{"kind"}),

		SnapshotCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtycrm_snapshot_cache_total",
			Help: "Record snapshot cache lookups by result",
		}, []string{"kind", "result"}), // result: "hit" or "miss"

		WebSocketConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtycrm_websocket_connections_active",
			Help: "Number of active pipeline feed connections",
		}),

		WebSocketMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtycrm_websocket_messages_total",
			Help: "Total number of pipeline feed messages by type",
		}, []string{"type", "direction"}),

		DroppedEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtycrm_feed_events_dropped_total",
			Help: "Events not delivered because a subscriber queue was full",
		}),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "realtycrm_websocket_connections_current",
			Help: "Current number of pipeline feed subscribers (from connection manager)",
		},
		func() float64 {
			if connManager != nil {
				return float64(connManager.Count())
			}
			return 0
		},
	)

	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordWebSocketConnect increments the websocket connection gauge
func (m *Metrics) RecordWebSocketConnect() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect decrements the websocket connection gauge
func (m *Metrics) RecordWebSocketDisconnect() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Dec()
}

// RecordWebSocketMessage counts a feed message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	if m == nil {
		return
	}
	m.WebSocketMessages.WithLabelValues(msgType, direction).Inc()
}

func (m *Metrics) RecordDroppedEvent() {
	if m == nil {
		return
	}
	m.DroppedEvents.Inc()
}

// RecordTransition counts an applied stage change
func (m *Metrics) RecordTransition(kind, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(kind, to).Inc()
}

func (m *Metrics) RecordTransitionFailure(kind, reason string) {
	if m == nil {
		return
	}
	m.TransitionFailures.WithLabelValues(kind, reason).Inc()
}

// RecordWrite counts a create, update or delete
func (m *Metrics) RecordWrite(kind, op string) {
	if m == nil {
		return
	}
	m.RecordWrites.WithLabelValues(kind, op).Inc()
}

func (m *Metrics) ObserveList(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.ListLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) RecordCacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.SnapshotCache.WithLabelValues(kind, result).Inc()
}
