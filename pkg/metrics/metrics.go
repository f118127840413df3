package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TriggerMetrics holds the counters for one queue trigger instance. They are
// instance fields rather than package globals so multiple triggers stay
// independently observable and testable.
type TriggerMetrics struct {
	ProcessedTotal     prometheus.Counter
	FailedTotal        *prometheus.CounterVec
	RetriesTotal       prometheus.Counter
	DedupHitsTotal     prometheus.Counter
	DLQTotal           *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram

	mu           sync.Mutex
	latencyCount int64
	latencySum   time.Duration
}

func NewTriggerMetrics(queue string) *TriggerMetrics {
	constLabels := prometheus.Labels{"queue": queue}

	return &TriggerMetrics{
		ProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trigger_processed_total",
			Help:        "Total number of messages processed successfully (count)",
			ConstLabels: constLabels,
		}),
		FailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trigger_failed_total",
			Help:        "Total number of terminally failed messages (count)",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trigger_retries_total",
			Help:        "Total number of handler retry attempts (count)",
			ConstLabels: constLabels,
		}),
		DedupHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trigger_dedup_hits_total",
			Help:        "Total number of messages suppressed by the idempotency store (count)",
			ConstLabels: constLabels,
		}),
		DLQTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trigger_dlq_total",
			Help:        "Total number of messages routed to the dead-letter path (count)",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "trigger_processing_duration_ms",
			Help:        "Per-message processing duration in milliseconds",
			ConstLabels: constLabels,
			Buckets:     []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
	}
}

func (m *TriggerMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.ProcessedTotal, m.FailedTotal, m.RetriesTotal,
		m.DedupHitsTotal, m.DLQTotal, m.ProcessingDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveProcessing records one message's end-to-end latency.
func (m *TriggerMetrics) ObserveProcessing(d time.Duration) {
	m.ProcessingDuration.Observe(float64(d.Milliseconds()))

	m.mu.Lock()
	m.latencyCount++
	m.latencySum += d
	m.mu.Unlock()
}

// MeanProcessingDuration returns the running mean latency over all observed
// messages, zero before the first observation.
func (m *TriggerMetrics) MeanProcessingDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latencyCount == 0 {
		return 0
	}
	return m.latencySum / time.Duration(m.latencyCount)
}

// ProxyMetrics holds the counters for one governed call proxy instance.
type ProxyMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RejectionsTotal *prometheus.CounterVec
	CircuitState    *prometheus.GaugeVec
	CallDuration    prometheus.Histogram
}

func NewProxyMetrics(name string) *ProxyMetrics {
	constLabels := prometheus.Labels{"proxy": name}

	return &ProxyMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "proxy_requests_total",
			Help:        "Total number of governed calls by outcome (count)",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "proxy_rejections_total",
			Help:        "Total number of pre-call gate rejections by reason (count)",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "proxy_circuit_state",
			Help:        "Circuit breaker state per caller (0=closed, 1=half-open, 2=open)",
			ConstLabels: constLabels,
		}, []string{"caller"}),
		CallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "proxy_call_duration_ms",
			Help:        "Provider call duration in milliseconds",
			ConstLabels: constLabels,
			Buckets:     []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
	}
}

func (m *ProxyMetrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.RequestsTotal, m.RejectionsTotal, m.CircuitState, m.CallDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
