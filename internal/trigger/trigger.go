package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warden/internal/audit"
	"warden/internal/broker"
	"warden/internal/config"
	"warden/internal/governance"
	"warden/internal/idempotency"
	"warden/internal/logger"
	"warden/internal/parser"
	"warden/pkg/errors"
	"warden/pkg/metrics"
	"warden/pkg/retry"
)

// Lifecycle states of a trigger.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

const pausePollInterval = 50 * time.Millisecond

// Options carries the optional collaborators of a trigger. Nil fields
// disable the corresponding stage (no gate means every message is allowed,
// no store means dedup is off even when configured).
type Options struct {
	Store   idempotency.Store
	Gate    governance.PolicyGate
	Ledger  audit.Ledger
	Metrics *metrics.TriggerMetrics
	Logger  logger.Logger
	Sleep   retry.SleepFunc
	// GovernanceFailMode decides how a gate-internal error resolves:
	// config.FailModeOpen (default) allows the message through.
	GovernanceFailMode string
}

// QueueTrigger owns the full lifecycle of concurrent consumption against one
// queue: it connects the adapter, spawns workers and drives each message
// through parse, dedup, policy, handler and acknowledgment.
type QueueTrigger struct {
	cfg      config.QueueTriggerConfig
	adapter  broker.QueueAdapter
	parser   parser.Parser
	handler  Handler
	store    idempotency.Store
	gate     governance.PolicyGate
	ledger   audit.Ledger
	metrics  *metrics.TriggerMetrics
	logger   logger.Logger
	sleep    retry.SleepFunc
	failMode string

	mu          sync.Mutex
	state       State
	fetchCancel context.CancelFunc
	baseCtx     context.Context
	wg          sync.WaitGroup
}

func New(cfg config.QueueTriggerConfig, adapter broker.QueueAdapter, handler Handler, opts Options) (*QueueTrigger, error) {
	if err := config.ValidateQueueTrigger(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrValidation)
	}
	if adapter == nil {
		return nil, errors.ErrValidation.WithDetail("message", "queue adapter is required")
	}
	if handler == nil {
		return nil, errors.ErrValidation.WithDetail("message", "handler is required")
	}

	p, err := parser.New(cfg.ParserType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrValidation)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NopLogger()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewTriggerMetrics(cfg.QueueName)
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}
	failMode := opts.GovernanceFailMode
	if failMode == "" {
		failMode = config.FailModeOpen
	}

	return &QueueTrigger{
		cfg:      cfg,
		adapter:  adapter,
		parser:   p,
		handler:  handler,
		store:    opts.Store,
		gate:     opts.Gate,
		ledger:   opts.Ledger,
		metrics:  m,
		logger:   log,
		sleep:    sleep,
		failMode: failMode,
		state:    StateIdle,
	}, nil
}

// Start connects the adapter and spawns the worker pool. It fails with
// ErrAlreadyRunning when the trigger is running or paused.
func (t *QueueTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateRunning || t.state == StatePaused {
		t.mu.Unlock()
		return errors.ErrAlreadyRunning
	}
	t.mu.Unlock()

	if err := t.adapter.Connect(ctx); err != nil {
		return errors.Wrap(err, errors.ErrAdapter)
	}

	fetchCtx, fetchCancel := context.WithCancel(ctx)
	messages, err := t.adapter.Consume(fetchCtx)
	if err != nil {
		fetchCancel()
		return errors.Wrap(err, errors.ErrAdapter)
	}

	t.mu.Lock()
	t.state = StateRunning
	t.fetchCancel = fetchCancel
	t.baseCtx = ctx
	t.mu.Unlock()

	t.logger.InfowCtx(ctx, "Queue trigger started",
		"queue", t.cfg.QueueName,
		"consumer_group", t.cfg.ConsumerGroup,
		"concurrency", t.cfg.Concurrency,
		"ack_policy", t.cfg.AckPolicy,
	)

	for i := 0; i < t.cfg.Concurrency; i++ {
		t.wg.Add(1)
		go t.worker(ctx, i, messages)
	}

	return nil
}

// Pause stops workers from fetching further messages; in-flight processing
// is never interrupted.
func (t *QueueTrigger) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return errors.ErrNotRunning
	}
	t.state = StatePaused
	return nil
}

func (t *QueueTrigger) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePaused {
		return errors.ErrNotRunning
	}
	t.state = StateRunning
	return nil
}

// Stop signals workers to finish their current message and not fetch
// another, closes the adapter and waits for the pool to drain. The wait is
// bounded by ctx.
func (t *QueueTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateRunning && t.state != StatePaused {
		t.mu.Unlock()
		return errors.ErrNotRunning
	}
	t.state = StateStopped
	fetchCancel := t.fetchCancel
	t.mu.Unlock()

	if fetchCancel != nil {
		fetchCancel()
	}
	if err := t.adapter.Close(); err != nil {
		t.logger.WarnwCtx(ctx, "Error closing queue adapter",
			"error", err,
			"queue", t.cfg.QueueName,
		)
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.InfowCtx(ctx, "Queue trigger stopped", "queue", t.cfg.QueueName)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for workers to exit: %w", ctx.Err())
	}
}

func (t *QueueTrigger) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Metrics exposes the trigger's recorder for registration and inspection.
func (t *QueueTrigger) Metrics() *metrics.TriggerMetrics {
	return t.metrics
}

// worker pulls from the shared message stream until the stream closes or the
// trigger stops. A panic while processing one message is logged and the loop
// continues; a panic at the stream boundary is logged and the worker exits.
func (t *QueueTrigger) worker(ctx context.Context, id int, messages <-chan broker.RawMessage) {
	defer t.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			err := errors.RecoverPanic(r)
			t.logger.ErrorwCtx(ctx, "Worker crashed iterating message stream",
				"error", err,
				"worker", id,
				"queue", t.cfg.QueueName,
			)
		}
	}()

	for {
		if !t.waitWhileNotRunning(ctx) {
			return
		}

		raw, ok := <-messages
		if !ok {
			return
		}
		if t.State() == StateStopped {
			// fetched but unacked; at-least-once redelivery covers it
			return
		}

		t.processOne(ctx, raw)
	}
}

// waitWhileNotRunning blocks while the trigger is paused. It returns false
// when the trigger stopped or the context ended.
func (t *QueueTrigger) waitWhileNotRunning(ctx context.Context) bool {
	for {
		switch t.State() {
		case StateRunning:
			return true
		case StatePaused:
			select {
			case <-ctx.Done():
				return false
			case <-time.After(pausePollInterval):
			}
		default:
			return false
		}
	}
}

// processOne shields the worker loop from a single message's failure.
func (t *QueueTrigger) processOne(ctx context.Context, raw broker.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.RecoverPanic(r)
			t.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
				"error", err,
				"message_id", raw.MessageID,
				"queue", t.cfg.QueueName,
			)
		}
	}()

	result := t.processMessage(ctx, raw)
	t.logger.DebugwCtx(ctx, "Message pipeline finished",
		"message_id", result.MessageID,
		"status", string(result.Status),
		"trace_id", result.TraceID,
	)
}
