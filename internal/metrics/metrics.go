package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics, registered with prometheus
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted   prometheus.Counter
	SessionsEnded     *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	StateTransitions  *prometheus.CounterVec
	EventsBuffered    prometheus.Counter
	EventsDelivered   prometheus.Counter
	PollsTotal        prometheus.Counter
	PollsReplaced     prometheus.Counter
	RequestDuration   *prometheus.HistogramVec
	DispatchErrors    *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	CallsRouted       prometheus.Counter
	BridgeConnections prometheus.Gauge
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		reg := prometheus.NewRegistry()
		instance = &Metrics{
			registry: reg,
			SessionsStarted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "oacd_sessions_started_total",
				Help: "Total number of agent sessions created.",
			}),
			SessionsEnded: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
				Name: "oacd_sessions_ended_total",
				Help: "Total number of agent sessions terminated, by reason.",
			}, []string{"reason"}),
			ActiveSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
				Name: "oacd_sessions_active",
				Help: "Number of live agent sessions.",
			}),
			StateTransitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
				Name: "oacd_state_transitions_total",
				Help: "Agent state transitions, by target state.",
			}, []string{"state"}),
			EventsBuffered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "oacd_gateway_events_buffered_total",
				Help: "Events appended to gateway buffers.",
			}),
			EventsDelivered: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "oacd_gateway_events_delivered_total",
				Help: "Events drained to long-poll waiters.",
			}),
			PollsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "oacd_polls_total",
				Help: "Long-poll requests registered.",
			}),
			PollsReplaced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "oacd_polls_replaced_total",
				Help: "Long-poll waiters displaced by a newer poll.",
			}),
			RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
				Name:    "oacd_api_request_duration_seconds",
				Help:    "Histogram of API dispatch latencies.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			}, []string{"function", "status"}),
			DispatchErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
				Name: "oacd_dispatch_errors_total",
				Help: "API errors returned to clients, by errcode.",
			}, []string{"errcode"}),
			QueueDepth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
				Name: "oacd_queue_depth",
				Help: "Calls waiting, by queue.",
			}, []string{"queue"}),
			CallsRouted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "oacd_calls_routed_total",
				Help: "Calls offered to agents by the dispatcher.",
			}),
			BridgeConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
				Name: "oacd_media_bridge_connections",
				Help: "Connected media bridge websockets.",
			}),
		}
	})
	return instance
}

// RecordSessionStart increments session counters
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnd increments termination counters
func (m *Metrics) RecordSessionEnd(reason string) {
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.ActiveSessions.Dec()
}

// RecordStateChange counts a transition into state
func (m *Metrics) RecordStateChange(state string) {
	m.StateTransitions.WithLabelValues(state).Inc()
}

// RecordDispatch records one API call outcome
func (m *Metrics) RecordDispatch(function, status string, duration time.Duration) {
	m.RequestDuration.WithLabelValues(function, status).Observe(duration.Seconds())
}

// RecordError counts a client-visible errcode
func (m *Metrics) RecordError(errcode string) {
	m.DispatchErrors.WithLabelValues(errcode).Inc()
}

// Handler returns the HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
