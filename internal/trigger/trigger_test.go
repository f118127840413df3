package trigger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/audit"
	"warden/internal/broker"
	"warden/internal/config"
	"warden/internal/governance"
	"warden/internal/idempotency"
	wardenerrors "warden/pkg/errors"
	"warden/pkg/metrics"
)

func testConfig() config.QueueTriggerConfig {
	return config.QueueTriggerConfig{
		QueueName:                "agent-tasks",
		ConsumerGroup:            "trigger-workers",
		Concurrency:              1,
		AckPolicy:                config.AckPolicyAck,
		MaxRetries:               2,
		RetryBackoffBaseSeconds:  0.25,
		RetryBackoffMultiplier:   2.0,
		IdempotencyWindowSeconds: 300,
		DedupEnabled:             true,
		ParserType:               config.ParserJSON,
		EventNameHeader:          "x-event-name",
		DedupKeyHeader:           "x-dedup-key",
		TenantIDHeader:           "x-tenant-id",
	}
}

// delayRecorder is a SleepFunc that records requested delays and returns
// immediately.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *delayRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

func okHandler(calls *int64) Handler {
	return HandlerFunc(func(ctx context.Context, eventName string, payload interface{}, focus, tenantID string) (map[string]interface{}, error) {
		atomic.AddInt64(calls, 1)
		return map[string]interface{}{"handled": true}, nil
	})
}

func startTrigger(t *testing.T, cfg config.QueueTriggerConfig, adapter broker.QueueAdapter, handler Handler, opts Options) *QueueTrigger {
	t.Helper()

	if opts.Metrics == nil {
		opts.Metrics = metrics.NewTriggerMetrics(cfg.QueueName)
	}
	if opts.Sleep == nil {
		opts.Sleep = (&delayRecorder{}).sleep
	}

	trig, err := New(cfg, adapter, handler, opts)
	require.NoError(t, err)
	require.NoError(t, trig.Start(context.Background()))

	t.Cleanup(func() {
		if trig.State() == StateRunning || trig.State() == StatePaused {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = trig.Stop(stopCtx)
		}
	})
	return trig
}

func TestNewRejectsInvalidInput(t *testing.T) {
	adapter := broker.NewMemoryAdapter(1)
	var calls int64

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.Concurrency = 0
		_, err := New(cfg, adapter, okHandler(&calls), Options{})
		assert.Error(t, err)
	})

	t.Run("nil adapter", func(t *testing.T) {
		_, err := New(testConfig(), nil, okHandler(&calls), Options{})
		assert.Error(t, err)
	})

	t.Run("nil handler", func(t *testing.T) {
		_, err := New(testConfig(), adapter, nil, Options{})
		assert.Error(t, err)
	})
}

func TestLifecycle(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	var calls int64
	trig := startTrigger(t, testConfig(), adapter, okHandler(&calls), Options{})

	assert.Equal(t, StateRunning, trig.State())

	err := trig.Start(context.Background())
	assert.True(t, wardenerrors.IsAlreadyRunning(err))

	require.NoError(t, trig.Pause())
	assert.Equal(t, StatePaused, trig.State())
	assert.Error(t, trig.Pause(), "pausing a paused trigger must fail")

	err = trig.Start(context.Background())
	assert.True(t, wardenerrors.IsAlreadyRunning(err), "paused trigger is still running")

	require.NoError(t, trig.Resume())
	assert.Equal(t, StateRunning, trig.State())
	assert.Error(t, trig.Resume(), "resuming a running trigger must fail")

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, trig.Stop(stopCtx))
	assert.Equal(t, StateStopped, trig.State())

	assert.Error(t, trig.Stop(stopCtx), "stopping a stopped trigger must fail")
	assert.Error(t, trig.Pause())
}

func TestProcessesMessage(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	var calls int64
	m := metrics.NewTriggerMetrics("agent-tasks")
	startTrigger(t, testConfig(), adapter, okHandler(&calls), Options{
		Store:   idempotency.NewMemoryStore(),
		Metrics: m,
	})

	require.NoError(t, adapter.Enqueue(broker.RawMessage{
		MessageID: "m1",
		Body:      []byte(`{"order":"o-1"}`),
		Headers:   map[string]string{"x-event-name": "order.created"},
	}))

	require.Eventually(t, func() bool {
		return len(adapter.Acked()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProcessedTotal))
	assert.Greater(t, m.MeanProcessingDuration(), time.Duration(0))
}

func TestDeduplicationExactlyOnce(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	var calls int64
	m := metrics.NewTriggerMetrics("agent-tasks")
	ledger := audit.NewMemoryLedger(10)
	startTrigger(t, testConfig(), adapter, okHandler(&calls), Options{
		Store:   idempotency.NewMemoryStore(),
		Ledger:  ledger,
		Metrics: m,
	})

	headers := map[string]string{"x-dedup-key": "order-42"}
	require.NoError(t, adapter.Enqueue(broker.RawMessage{MessageID: "m1", Body: []byte(`{}`), Headers: headers}))
	require.NoError(t, adapter.Enqueue(broker.RawMessage{MessageID: "m2", Body: []byte(`{}`), Headers: headers}))

	require.Eventually(t, func() bool {
		return len(adapter.Acked()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "handler must run exactly once per dedup key")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DedupHitsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProcessedTotal))
}

func TestMalformedBodyGoesToDLQ(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	var calls int64
	m := metrics.NewTriggerMetrics("agent-tasks")
	startTrigger(t, testConfig(), adapter, okHandler(&calls), Options{Metrics: m})

	require.NoError(t, adapter.Enqueue(broker.RawMessage{
		MessageID: "bad-1",
		Body:      []byte(`{"unterminated`),
	}))

	require.Eventually(t, func() bool {
		return len(adapter.DLQ()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(0), atomic.LoadInt64(&calls), "malformed body must never reach the handler")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FailedTotal.WithLabelValues("parse_error")))

	dlq := adapter.DLQ()
	assert.Contains(t, dlq[0].Reason, "parse error")
}

func TestRetryBackoffDelays(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	recorder := &delayRecorder{}
	m := metrics.NewTriggerMetrics("agent-tasks")

	var calls int64
	failing := HandlerFunc(func(ctx context.Context, eventName string, payload interface{}, focus, tenantID string) (map[string]interface{}, error) {
		atomic.AddInt64(&calls, 1)
		return nil, errors.New("downstream rejected with token=secret123value")
	})

	cfg := testConfig()
	cfg.AckPolicy = config.AckPolicyDLQ
	startTrigger(t, cfg, adapter, failing, Options{
		Metrics: m,
		Sleep:   recorder.sleep,
	})

	require.NoError(t, adapter.Enqueue(broker.RawMessage{MessageID: "m1", Body: []byte(`{}`)}))

	require.Eventually(t, func() bool {
		return len(adapter.DLQ()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(3), atomic.LoadInt64(&calls), "max_retries=2 means 3 attempts")
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}, recorder.recorded())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RetriesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FailedTotal.WithLabelValues("processing_error")))

	// the DLQ reason never carries the raw secret
	assert.NotContains(t, adapter.DLQ()[0].Reason, "secret123value")
	assert.Contains(t, adapter.DLQ()[0].Reason, "[REDACTED]")
}

func TestHandlerContractViolationIsFatal(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	m := metrics.NewTriggerMetrics("agent-tasks")

	var calls int64
	violating := HandlerFunc(func(ctx context.Context, eventName string, payload interface{}, focus, tenantID string) (map[string]interface{}, error) {
		atomic.AddInt64(&calls, 1)
		return nil, nil
	})

	startTrigger(t, testConfig(), adapter, violating, Options{Metrics: m})

	require.NoError(t, adapter.Enqueue(broker.RawMessage{MessageID: "m1", Body: []byte(`{}`)}))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.FailedTotal.WithLabelValues("processing_error")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "contract violations are not retried")
	assert.Equal(t, float64(0), testutil.ToFloat64(m.RetriesTotal))
}

func TestGovernanceDenial(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	m := metrics.NewTriggerMetrics("agent-tasks")
	ledger := audit.NewMemoryLedger(10)

	var calls int64
	deny := governance.GateFunc(func(ctx context.Context, request map[string]interface{}) (governance.Decision, error) {
		return governance.Decision{Allowed: false, Reason: "tenant suspended"}, nil
	})

	startTrigger(t, testConfig(), adapter, okHandler(&calls), Options{
		Gate:    deny,
		Ledger:  ledger,
		Metrics: m,
	})

	require.NoError(t, adapter.Enqueue(broker.RawMessage{
		MessageID: "m1",
		Body:      []byte(`{}`),
		Headers:   map[string]string{"x-tenant-id": "tenant-a"},
	}))

	require.Eventually(t, func() bool {
		return len(adapter.Acked()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(0), atomic.LoadInt64(&calls), "denied messages must not reach the handler")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FailedTotal.WithLabelValues("governance_rejected")))

	blocked := ledger.Query(audit.Filter{Status: audit.StatusBlocked})
	require.Len(t, blocked, 1)
	assert.Equal(t, "tenant-a", blocked[0].TenantID)
	assert.Contains(t, blocked[0].Reasoning, "tenant suspended")
}

func TestGovernanceFailOpen(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	var calls int64

	broken := governance.GateFunc(func(ctx context.Context, request map[string]interface{}) (governance.Decision, error) {
		return governance.Decision{}, errors.New("policy backend unreachable")
	})

	startTrigger(t, testConfig(), adapter, okHandler(&calls), Options{Gate: broken})

	require.NoError(t, adapter.Enqueue(broker.RawMessage{MessageID: "m1", Body: []byte(`{}`)}))

	require.Eventually(t, func() bool {
		return len(adapter.Acked()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "gate failure must not lose the message")
}

func TestGovernanceFailClosed(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	m := metrics.NewTriggerMetrics("agent-tasks")
	var calls int64

	broken := governance.GateFunc(func(ctx context.Context, request map[string]interface{}) (governance.Decision, error) {
		return governance.Decision{}, errors.New("policy backend unreachable")
	})

	startTrigger(t, testConfig(), adapter, okHandler(&calls), Options{
		Gate:               broken,
		Metrics:            m,
		GovernanceFailMode: config.FailModeClosed,
	})

	require.NoError(t, adapter.Enqueue(broker.RawMessage{MessageID: "m1", Body: []byte(`{}`)}))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.FailedTotal.WithLabelValues("governance_rejected")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
}

func TestGovernancePanicIsFailOpen(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	var calls int64

	panicking := governance.GateFunc(func(ctx context.Context, request map[string]interface{}) (governance.Decision, error) {
		panic("gate defect")
	})

	startTrigger(t, testConfig(), adapter, okHandler(&calls), Options{Gate: panicking})

	require.NoError(t, adapter.Enqueue(broker.RawMessage{MessageID: "m1", Body: []byte(`{}`)}))

	require.Eventually(t, func() bool {
		return len(adapter.Acked()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestStoreFailureDegradesToProcessing(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	var calls int64

	startTrigger(t, testConfig(), adapter, okHandler(&calls), Options{
		Store: &erroringStore{},
	})

	require.NoError(t, adapter.Enqueue(broker.RawMessage{MessageID: "m1", Body: []byte(`{}`)}))

	require.Eventually(t, func() bool {
		return len(adapter.Acked()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "store failure must not block processing")
}

type erroringStore struct{}

func (s *erroringStore) Exists(ctx context.Context, key string) (bool, error) {
	return false, errors.New("store unreachable")
}

func (s *erroringStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errors.New("store unreachable")
}

func (s *erroringStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errors.New("store unreachable")
}

func TestMultiTenantIsolation(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	ledger := audit.NewMemoryLedger(10)
	var calls int64

	startTrigger(t, testConfig(), adapter, okHandler(&calls), Options{
		Store:  idempotency.NewMemoryStore(),
		Ledger: ledger,
	})

	require.NoError(t, adapter.Enqueue(broker.RawMessage{
		MessageID: "m1",
		Body:      []byte(`{}`),
		Headers:   map[string]string{"x-tenant-id": "tenant-a", "x-event-name": "order.created"},
	}))
	require.NoError(t, adapter.Enqueue(broker.RawMessage{
		MessageID: "m2",
		Body:      []byte(`{}`),
		Headers:   map[string]string{"x-tenant-id": "tenant-b", "x-event-name": "order.created"},
	}))

	require.Eventually(t, func() bool {
		return len(adapter.Acked()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	recordsA := ledger.Query(audit.Filter{TenantID: "tenant-a"})
	recordsB := ledger.Query(audit.Filter{TenantID: "tenant-b"})
	require.Len(t, recordsA, 1)
	require.Len(t, recordsB, 1)
	assert.Equal(t, audit.StatusSuccess, recordsA[0].Status)
	assert.Equal(t, audit.StatusSuccess, recordsB[0].Status)
}

func TestPauseStopsFetching(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	var calls int64
	trig := startTrigger(t, testConfig(), adapter, okHandler(&calls), Options{})

	require.NoError(t, trig.Pause())

	require.NoError(t, adapter.Enqueue(broker.RawMessage{MessageID: "m1", Body: []byte(`{}`)}))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(&calls), "paused trigger must not process")

	require.NoError(t, trig.Resume())
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&calls) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAckPolicyRequeue(t *testing.T) {
	adapter := broker.NewMemoryAdapter(4)
	var calls int64

	failOnce := HandlerFunc(func(ctx context.Context, eventName string, payload interface{}, focus, tenantID string) (map[string]interface{}, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			return nil, errors.New("transient outage")
		}
		return map[string]interface{}{"handled": true}, nil
	})

	cfg := testConfig()
	cfg.AckPolicy = config.AckPolicyRequeue
	cfg.MaxRetries = 0
	cfg.DedupEnabled = false
	startTrigger(t, cfg, adapter, failOnce, Options{})

	require.NoError(t, adapter.Enqueue(broker.RawMessage{MessageID: "m1", Body: []byte(`{}`)}))

	require.Eventually(t, func() bool {
		return len(adapter.Acked()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(2), atomic.LoadInt64(&calls), "requeued message is redelivered")
	assert.Len(t, adapter.Requeued(), 1)
}
