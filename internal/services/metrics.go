package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ActiveConnections prometheus.Gauge
	OnlineUsers       prometheus.Gauge
	PendingCalls      prometheus.Gauge
	Deliveries        prometheus.Counter
	DeliveryFailures  prometheus.Counter
	FanoutSkipped     *prometheus.CounterVec
	CallTransitions   *prometheus.CounterVec
	WebhookEvents     *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "edgecall_active_connections",
				Help: "Current number of registered client connections",
			}),
			OnlineUsers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "edgecall_online_users",
				Help: "Current number of users with at least one connection",
			}),
			PendingCalls: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "edgecall_pending_calls",
				Help: "Incoming-call notifications awaiting a response",
			}),
			Deliveries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "edgecall_deliveries_total",
				Help: "Events handed to client connections",
			}),
			DeliveryFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "edgecall_delivery_failures_total",
				Help: "Events dropped because the connection was stale",
			}),
			FanoutSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "edgecall_fanout_skipped_total",
				Help: "Chat members skipped during fan-out",
			}, []string{"reason"}),
			CallTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "edgecall_call_transitions_total",
				Help: "Call status transitions by target status",
			}, []string{"status"}),
			WebhookEvents: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "edgecall_webhook_events_total",
				Help: "Media relay webhook events by type and outcome",
			}, []string{"event", "outcome"}),
		}
	})
	return metricsInstance
}

func (m *Metrics) connectionOpened(firstForUser bool) {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
	if firstForUser {
		m.OnlineUsers.Inc()
	}
}

func (m *Metrics) connectionClosed(lastForUser bool) {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
	if lastForUser {
		m.OnlineUsers.Dec()
	}
}

func (m *Metrics) delivered(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Deliveries.Inc()
	} else {
		m.DeliveryFailures.Inc()
	}
}

func (m *Metrics) skipped(reason string) {
	if m == nil {
		return
	}
	m.FanoutSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) transitioned(status string) {
	if m == nil {
		return
	}
	m.CallTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) webhook(event, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) pendingCalls(n int) {
	if m == nil {
		return
	}
	m.PendingCalls.Set(float64(n))
}
