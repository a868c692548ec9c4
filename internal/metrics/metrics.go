package metrics

import (
	"taskqueue/internal/domain"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes reported by the consumer.
const (
	DeliveryAck     = "ack"
	DeliveryRequeue = "requeue"
	DeliveryReject  = "reject"
)

// Metrics holds the Prometheus collectors for the queue. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	tasksEnqueued    *prometheus.CounterVec
	publishAttempts  *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	tasksProcessed   *prometheus.CounterVec
	tasksRepublished prometheus.Counter

	executionDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_enqueued_total",
				Help: "Enqueue calls by outcome",
			},
			[]string{"outcome"},
		),
		publishAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_publish_attempts_total",
				Help: "Individual connect-declare-publish attempts by outcome",
			},
			[]string{"outcome"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_deliveries_total",
				Help: "Consumed deliveries by acknowledgment outcome",
			},
			[]string{"outcome"},
		),
		tasksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_processed_total",
				Help: "Tasks driven to a terminal status",
			},
			[]string{"status"},
		),
		tasksRepublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tasks_republished_total",
				Help: "Stale tasks republished by the reconciliation sweep",
			},
		),
		executionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "task_execution_duration_seconds",
				Help:    "Executor duration in seconds",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 300, 600},
			},
		),
	}

	reg.MustRegister(
		m.tasksEnqueued,
		m.publishAttempts,
		m.deliveries,
		m.tasksProcessed,
		m.tasksRepublished,
		m.executionDuration,
	)

	return m
}

func (m *Metrics) Enqueued(ok bool) {
	if m == nil {
		return
	}
	m.tasksEnqueued.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) PublishAttempt(ok bool) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) Delivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) Processed(status domain.TaskStatus) {
	if m == nil {
		return
	}
	m.tasksProcessed.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) Republished() {
	if m == nil {
		return
	}
	m.tasksRepublished.Inc()
}

func (m *Metrics) ObserveExecution(d time.Duration) {
	if m == nil {
		return
	}
	m.executionDuration.Observe(d.Seconds())
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
