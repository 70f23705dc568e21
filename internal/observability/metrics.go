package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions      prometheus.Gauge
	SessionEvents       *prometheus.CounterVec
	Turns               *prometheus.CounterVec
	Actions             *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	ProviderErrors      *prometheus.CounterVec
	ExternalCallLatency *prometheus.HistogramVec

	calls *callWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of chat sessions held in memory.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Chat turns by resolved intent.",
		}, []string{"intent"}),
		Actions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Confirmed calendar mutations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		ExternalCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_latency_ms",
			Help:      "Latency of semantic parser and calendar calls in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"collaborator", "operation"}),
		calls: newCallWindow(256),
	}
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveTurn(intent string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(intent).Inc()
}

func (m *Metrics) ObserveAction(kind, outcome string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// ObserveExternalCall records the latency of one collaborator call and, on
// failure, a provider error labelled with a coarse code.
func (m *Metrics) ObserveExternalCall(collaborator, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ExternalCallLatency.WithLabelValues(collaborator, operation).Observe(float64(d.Milliseconds()))
	m.calls.Observe(collaborator+"."+operation, float64(d.Microseconds())/1000)
	if err != nil {
		m.ProviderErrors.WithLabelValues(collaborator, errorCode(err)).Inc()
		m.calls.ObserveIndicator(collaborator + ".error")
	}
}

// CallSnapshot summarizes recent collaborator latencies.
func (m *Metrics) CallSnapshot() CallSnapshot {
	if m == nil {
		return CallSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.calls.Snapshot()
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
