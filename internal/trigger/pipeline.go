package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"warden/internal/audit"
	"warden/internal/broker"
	"warden/internal/config"
	"warden/internal/constants"
	"warden/internal/governance"
	"warden/pkg/errors"
	"warden/pkg/logging"
	"warden/pkg/redact"
	"warden/pkg/retry"
)

// processMessage drives one raw message through parse, dedup, policy gate,
// handler and acknowledgment. It never returns an error: every outcome is a
// terminal ProcessResult and the disposition has already been applied.
func (t *QueueTrigger) processMessage(ctx context.Context, raw broker.RawMessage) ProcessResult {
	traceID := uuid.New().String()
	start := time.Now()

	ctx = logging.WithTraceID(ctx, traceID)
	ctx = logging.WithMessageID(ctx, raw.MessageID)

	// 1. parse; a malformed body goes straight to the dead-letter path
	payload, err := t.parser.Parse(raw.Body)
	if err != nil {
		reason := fmt.Sprintf("parse error: %s", redact.Error(err))
		t.metrics.FailedTotal.WithLabelValues(string(StatusParseError)).Inc()
		t.metrics.DLQTotal.WithLabelValues(string(StatusParseError)).Inc()
		if dlqErr := t.adapter.SendToDLQ(ctx, raw, reason); dlqErr != nil {
			t.logger.ErrorwCtx(ctx, "Failed to dead-letter unparseable message",
				"error", dlqErr,
				"queue", t.cfg.QueueName,
			)
		}
		t.logger.WarnwCtx(ctx, "Message body failed to parse",
			"parser", t.parser.Type(),
			"reason", reason,
		)
		return ProcessResult{MessageID: raw.MessageID, Status: StatusParseError, TraceID: traceID, Detail: reason}
	}

	// 2. envelope
	env := newEnvelope(raw, payload, t.cfg)
	if env.TenantID != "" {
		ctx = logging.WithTenantID(ctx, env.TenantID)
	}

	// 3. policy gate
	if t.gate != nil {
		decision, gateErr := t.checkGate(ctx, env)
		if gateErr != nil {
			if t.failMode == config.FailModeClosed {
				decision = governance.Decision{
					Allowed: false,
					Reason:  fmt.Sprintf("policy gate error (fail closed): %s", redact.Error(gateErr)),
				}
			} else {
				t.logger.WarnwCtx(ctx, "Policy gate failed, allowing message (fail open)",
					"error", gateErr,
					"queue", t.cfg.QueueName,
				)
				decision = governance.Decision{Allowed: true, Reason: "policy gate unavailable"}
			}
		}

		if !decision.Allowed {
			t.recordAudit(ctx, env, audit.StatusBlocked, traceID, time.Since(start), decision.Reason, "", nil)
			t.metrics.FailedTotal.WithLabelValues(string(StatusGovernanceRejected)).Inc()
			t.resolveAckPolicy(ctx, raw, fmt.Sprintf("governance rejected: %s", decision.Reason))
			t.logger.InfowCtx(ctx, "Message blocked by policy gate",
				"reason", decision.Reason,
			)
			return ProcessResult{MessageID: raw.MessageID, Status: StatusGovernanceRejected, TraceID: traceID, Detail: decision.Reason}
		}
	}

	// 4. dedup check; store errors degrade to "not found"
	if t.dedupEnabled() {
		found, existsErr := t.store.Exists(ctx, env.DedupKey)
		if existsErr != nil {
			t.logger.WarnwCtx(ctx, "Idempotency store check failed, continuing without dedup",
				"error", existsErr,
				"dedup_key", env.DedupKey,
			)
			found = false
		}
		if found {
			if ackErr := t.adapter.Ack(ctx, raw); ackErr != nil {
				t.logger.ErrorwCtx(ctx, "Failed to ack deduplicated message", "error", ackErr)
			}
			t.metrics.DedupHitsTotal.Inc()
			t.logger.InfowCtx(ctx, "Duplicate message suppressed",
				"dedup_key", env.DedupKey,
			)
			return ProcessResult{MessageID: raw.MessageID, Status: StatusDeduplicated, TraceID: traceID}
		}
	}

	// 5. handler with bounded retry
	output, handlerErr := t.invokeHandler(ctx, env, traceID)
	if handlerErr != nil {
		reason := fmt.Sprintf("handler failed after %d attempts: %s", t.cfg.MaxRetries+1, redact.Error(handlerErr))
		t.recordAudit(ctx, env, audit.StatusFailed, traceID, time.Since(start), "", redact.Error(handlerErr), nil)
		t.metrics.FailedTotal.WithLabelValues(string(StatusProcessingError)).Inc()
		t.resolveAckPolicy(ctx, raw, reason)
		t.logger.ErrorwCtx(ctx, "Message processing failed terminally",
			"error", handlerErr,
			"attempts", t.cfg.MaxRetries+1,
		)
		return ProcessResult{MessageID: raw.MessageID, Status: StatusProcessingError, TraceID: traceID, Detail: reason}
	}

	// 6. best-effort dedup key write inside the idempotency window
	if t.dedupEnabled() {
		ttl := time.Duration(t.cfg.IdempotencyWindowSeconds) * time.Second
		if setErr := t.store.Set(ctx, env.DedupKey, env.MessageID, ttl); setErr != nil {
			t.logger.WarnwCtx(ctx, "Failed to record dedup key",
				"error", setErr,
				"dedup_key", env.DedupKey,
			)
		}
	}

	// 7. ack, audit, metrics
	if ackErr := t.adapter.Ack(ctx, raw); ackErr != nil {
		t.logger.ErrorwCtx(ctx, "Failed to ack processed message", "error", ackErr)
	}
	elapsed := time.Since(start)
	t.recordAudit(ctx, env, audit.StatusSuccess, traceID, elapsed, "", "", output)
	t.metrics.ProcessedTotal.Inc()
	t.metrics.ObserveProcessing(elapsed)

	return ProcessResult{MessageID: raw.MessageID, Status: StatusProcessed, TraceID: traceID}
}

// checkGate calls the policy gate, converting a panic inside the gate into
// an error so gate defects never take a worker down.
func (t *QueueTrigger) checkGate(ctx context.Context, env MessageEnvelope) (decision governance.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()

	request := map[string]interface{}{
		"source":     constants.SourceQueue,
		"queue":      t.cfg.QueueName,
		"message_id": env.MessageID,
		"tenant_id":  env.TenantID,
		"event_name": env.EventName,
	}
	return t.gate.CheckPermission(ctx, request)
}

// invokeHandler retries the downstream handler with exponential backoff. A
// contract violation (nil result, nil error) is fatal and not retried.
func (t *QueueTrigger) invokeHandler(ctx context.Context, env MessageEnvelope, traceID string) (map[string]interface{}, error) {
	var output map[string]interface{}
	base := time.Duration(t.cfg.RetryBackoffBaseSeconds * float64(time.Second))

	err := retry.DoWithBackoff(
		ctx,
		t.cfg.MaxRetries+1,
		base,
		t.cfg.RetryBackoffMultiplier,
		t.sleep,
		func(ctx context.Context) error {
			result, handlerErr := t.handler.TriggerEvent(ctx, env.EventName, env.Payload, t.cfg.Focus, env.TenantID)
			if handlerErr != nil {
				return handlerErr
			}
			if result == nil {
				return errors.ErrHandlerContract
			}
			output = result
			return nil
		},
		func(attempt int, attemptErr error, delay time.Duration) {
			t.metrics.RetriesTotal.Inc()
			t.logger.WarnwCtx(ctx, "Retrying handler invocation",
				"attempt", attempt,
				"max_attempts", t.cfg.MaxRetries+1,
				"next_delay", delay,
				"error", attemptErr,
			)
		},
	)
	if err != nil {
		return nil, err
	}
	return output, nil
}

// resolveAckPolicy applies the configured disposition to a message that
// cannot be processed.
func (t *QueueTrigger) resolveAckPolicy(ctx context.Context, raw broker.RawMessage, reason string) {
	reason = redact.String(reason)

	var err error
	switch t.cfg.AckPolicy {
	case config.AckPolicyAck:
		err = t.adapter.Ack(ctx, raw)
	case config.AckPolicyNack:
		err = t.adapter.Nack(ctx, raw, false)
	case config.AckPolicyRequeue:
		err = t.adapter.Nack(ctx, raw, true)
	case config.AckPolicyDLQ:
		t.metrics.DLQTotal.WithLabelValues(string(StatusProcessingError)).Inc()
		err = t.adapter.SendToDLQ(ctx, raw, reason)
	}
	if err != nil {
		t.logger.ErrorwCtx(ctx, "Failed to apply ack policy",
			"error", err,
			"ack_policy", t.cfg.AckPolicy,
			"reason", reason,
		)
	}
}

func (t *QueueTrigger) dedupEnabled() bool {
	return t.cfg.DedupEnabled && t.store != nil
}

func (t *QueueTrigger) recordAudit(ctx context.Context, env MessageEnvelope, status, traceID string, elapsed time.Duration, reasoning, errMsg string, output map[string]interface{}) {
	if t.ledger == nil {
		return
	}

	capability := env.EventName
	if capability == "" {
		capability = t.cfg.QueueName
	}

	record := audit.Record{
		TenantID:      env.TenantID,
		AgentID:       t.cfg.ConsumerGroup,
		RunID:         traceID,
		Capability:    capability,
		TaskType:      "queue_message",
		InputSummary:  summarize(env.Payload),
		OutputSummary: summarize(output),
		Reasoning:     reasoning,
		DurationMS:    elapsed.Milliseconds(),
		Status:        status,
		ErrorMessage:  errMsg,
	}
	if err := t.ledger.RecordExecution(ctx, record); err != nil {
		t.logger.WarnwCtx(ctx, "Failed to write audit record",
			"error", err,
			"status", status,
		)
	}
}

// summarize renders a payload as truncated JSON for the audit trail.
func summarize(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%.*v", constants.DefaultSummaryLen, v)
	}
	s := string(b)
	if len(s) > constants.DefaultSummaryLen {
		s = s[:constants.DefaultSummaryLen] + "..."
	}
	return redact.String(s)
}
