package outbox

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector defines the interface for collecting relay metrics
type MetricsCollector interface {
	RecordEventProcessed(table string, success bool, duration time.Duration)
	RecordBatchProcessed(count int, duration time.Duration)
	RecordOutboxLag(lag int64)
	RecordPublishAttempt(table string, attempt int, success bool)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordEventProcessed(string, bool, time.Duration) {}
func (NoOpMetricsCollector) RecordBatchProcessed(int, time.Duration)          {}
func (NoOpMetricsCollector) RecordOutboxLag(int64)                            {}
func (NoOpMetricsCollector) RecordPublishAttempt(string, int, bool)           {}

// PrometheusMetrics implements MetricsCollector on a Prometheus registerer
type PrometheusMetrics struct {
	eventCounter    *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	batchSize       prometheus.Histogram
	batchDuration   prometheus.Histogram
	outboxLag       prometheus.Gauge
	publishAttempts *prometheus.CounterVec
}

// NewPrometheusMetrics registers the relay metrics on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		eventCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poker_relay_events_total",
			Help: "Changes relayed to JetStream, by table and status",
		}, []string{"table", "status"}),
		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poker_relay_event_duration_seconds",
			Help:    "Time to publish one change including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"table"}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "poker_relay_batch_size",
			Help:    "Changes picked up per fallback sweep",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "poker_relay_batch_duration_seconds",
			Help:    "Duration of a fallback sweep",
			Buckets: prometheus.DefBuckets,
		}),
		outboxLag: factory.NewGauge(prometheus.GaugeOpts{
			Name: "poker_relay_pending_changes",
			Help: "Changes recorded but not yet published",
		}),
		publishAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poker_relay_publish_attempts_total",
			Help: "Publish attempts, by table, attempt number and status",
		}, []string{"table", "attempt", "status"}),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *PrometheusMetrics) RecordEventProcessed(table string, success bool, duration time.Duration) {
	m.eventCounter.WithLabelValues(table, status(success)).Inc()
	m.eventDuration.WithLabelValues(table).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordBatchProcessed(count int, duration time.Duration) {
	m.batchSize.Observe(float64(count))
	m.batchDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordOutboxLag(lag int64) {
	m.outboxLag.Set(float64(lag))
}

func (m *PrometheusMetrics) RecordPublishAttempt(table string, attempt int, success bool) {
	m.publishAttempts.WithLabelValues(table, strconv.Itoa(attempt), status(success)).Inc()
}
