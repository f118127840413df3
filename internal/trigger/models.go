package trigger

import (
	"context"
	"time"

	"warden/internal/broker"
	"warden/internal/config"
)

// Status classifies the outcome of one message's pipeline run.
type Status string

const (
	StatusProcessed           Status = "processed"
	StatusDeduplicated        Status = "deduplicated"
	StatusParseError          Status = "parse_error"
	StatusGovernanceRejected  Status = "governance_rejected"
	StatusProcessingError     Status = "processing_error"
)

// MessageEnvelope is the typed view of one raw message. Built once per
// message, never mutated afterwards.
type MessageEnvelope struct {
	MessageID  string
	Payload    interface{}
	Headers    map[string]string
	ReceivedAt time.Time
	Source     string
	DedupKey   string
	EventName  string
	TenantID   string
}

// newEnvelope derives the envelope from a raw delivery and its parsed
// payload. The dedup key falls back to the message id when the header is
// absent.
func newEnvelope(raw broker.RawMessage, payload interface{}, cfg config.QueueTriggerConfig) MessageEnvelope {
	env := MessageEnvelope{
		MessageID:  raw.MessageID,
		Payload:    payload,
		Headers:    raw.Headers,
		ReceivedAt: time.Now(),
		Source:     cfg.QueueName,
		DedupKey:   raw.MessageID,
		EventName:  raw.Headers[cfg.EventNameHeader],
		TenantID:   raw.Headers[cfg.TenantIDHeader],
	}
	if key := raw.Headers[cfg.DedupKeyHeader]; key != "" {
		env.DedupKey = key
	}
	return env
}

// ProcessResult describes one message's terminal outcome. Used for logging
// and tests only, never persisted.
type ProcessResult struct {
	MessageID string
	Status    Status
	TraceID   string
	Detail    string
}

// Handler is the downstream recipient of a successfully admitted message.
// A nil result with a nil error is a contract violation.
type Handler interface {
	TriggerEvent(ctx context.Context, eventName string, payload interface{}, focus, tenantID string) (map[string]interface{}, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, eventName string, payload interface{}, focus, tenantID string) (map[string]interface{}, error)

func (f HandlerFunc) TriggerEvent(ctx context.Context, eventName string, payload interface{}, focus, tenantID string) (map[string]interface{}, error) {
	return f(ctx, eventName, payload, focus, tenantID)
}
