package monitoring

import (
	"time"

	"meetsignal/pkg/circuitbreaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	connectionsActive *prometheus.GaugeVec
	watchdogsActive   prometheus.Gauge
	breakerState      *prometheus.GaugeVec

	// Counters
	admissionsTotal       *prometheus.CounterVec
	inboundEventsTotal    *prometheus.CounterVec
	fanoutsTotal          *prometheus.CounterVec
	deliveriesTotal       *prometheus.CounterVec
	framesDroppedTotal    *prometheus.CounterVec
	approvalsTotal        *prometheus.CounterVec
	durationEventsTotal   *prometheus.CounterVec
	tasksTotal            *prometheus.CounterVec
	taskRetriesTotal      *prometheus.CounterVec
	socketRejectionsTotal *prometheus.CounterVec

	// Histograms
	admissionDuration  prometheus.Histogram
	connectionDuration prometheus.Histogram
}

// NewPrometheusCollector registers all metrics with reg. Pass
// prometheus.DefaultRegisterer to expose them on /metrics.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		connectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetsignal_connections_active",
			Help: "Open sockets on this instance",
		}, []string{"socket"}),

		watchdogsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetsignal_watchdogs_active",
			Help: "Duration watchdogs running on this instance",
		}),

		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetsignal_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),

		admissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsignal_admissions_total",
			Help: "Room admission attempts by result",
		}, []string{"result"}),

		inboundEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsignal_inbound_events_total",
			Help: "Inbound frames handled by event type",
		}, []string{"event_type"}),

		fanoutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsignal_group_fanouts_total",
			Help: "Group events received from the bus by event type",
		}, []string{"event_type"}),

		deliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsignal_group_deliveries_total",
			Help: "Events handed to local sockets by event type",
		}, []string{"event_type"}),

		framesDroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsignal_frames_dropped_total",
			Help: "Frames dropped by reason",
		}, []string{"reason"}),

		approvalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsignal_approvals_total",
			Help: "Join requests by outcome",
		}, []string{"outcome"}),

		durationEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsignal_duration_events_total",
			Help: "Session duration warnings and terminations",
		}, []string{"kind"}),

		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsignal_tasks_total",
			Help: "Background tasks by name and outcome",
		}, []string{"task", "outcome"}),

		taskRetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsignal_task_retries_total",
			Help: "Background task retries by name",
		}, []string{"task"}),

		socketRejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsignal_socket_rejections_total",
			Help: "Sockets closed at setup by close code",
		}, []string{"code"}),

		admissionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetsignal_admission_duration_seconds",
			Help:    "Time spent admitting a connection",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetsignal_connection_duration_seconds",
			Help:    "Lifetime of room sockets",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

func (c *PrometheusCollector) ConnectionOpened(socket string) {
	c.connectionsActive.WithLabelValues(socket).Inc()
}

func (c *PrometheusCollector) ConnectionClosed(socket string, lifetime time.Duration) {
	c.connectionsActive.WithLabelValues(socket).Dec()
	if socket == "room" {
		c.connectionDuration.Observe(lifetime.Seconds())
	}
}

func (c *PrometheusCollector) RecordAdmission(result string, took time.Duration) {
	c.admissionsTotal.WithLabelValues(result).Inc()
	c.admissionDuration.Observe(took.Seconds())
}

func (c *PrometheusCollector) RecordInboundEvent(eventType string) {
	c.inboundEventsTotal.WithLabelValues(eventType).Inc()
}

func (c *PrometheusCollector) RecordDroppedFrame(reason string) {
	c.framesDroppedTotal.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) RecordSocketRejection(code string) {
	c.socketRejectionsTotal.WithLabelValues(code).Inc()
}

// ObserveDelivery implements distributed.DeliveryObserver.
func (c *PrometheusCollector) ObserveDelivery(eventType string, recipients int) {
	c.fanoutsTotal.WithLabelValues(eventType).Inc()
	c.deliveriesTotal.WithLabelValues(eventType).Add(float64(recipients))
}

func (c *PrometheusCollector) RecordApproval(outcome string) {
	c.approvalsTotal.WithLabelValues(outcome).Inc()
}

func (c *PrometheusCollector) WatchdogStarted() {
	c.watchdogsActive.Inc()
}

func (c *PrometheusCollector) WatchdogStopped() {
	c.watchdogsActive.Dec()
}

func (c *PrometheusCollector) RecordDurationEvent(kind string) {
	c.durationEventsTotal.WithLabelValues(kind).Inc()
}

// ObserveTask implements tasks.Observer.
func (c *PrometheusCollector) ObserveTask(name, outcome string) {
	c.tasksTotal.WithLabelValues(name, outcome).Inc()
}

func (c *PrometheusCollector) ObserveTaskRetry(name string) {
	c.taskRetriesTotal.WithLabelValues(name).Inc()
}

// SetBreakerState implements reliability.BreakerObserver.
func (c *PrometheusCollector) SetBreakerState(name string, state circuitbreaker.State) {
	c.breakerState.WithLabelValues(name).Set(float64(state))
}
