package broker

import (
	"context"
	"time"
)

// RawMessage is one broker delivery. It is immutable and lives for a single
// consumption attempt; BrokerMeta carries whatever the adapter needs to
// ack or requeue the delivery later.
type RawMessage struct {
	MessageID  string
	Body       []byte
	Headers    map[string]string
	Timestamp  time.Time
	BrokerMeta map[string]interface{}
}

// QueueAdapter abstracts one queue/topic of a broker. A conforming adapter
// preserves at-least-once delivery and makes Nack(requeue=true) messages
// redeliverable.
type QueueAdapter interface {
	Connect(ctx context.Context) error
	Consume(ctx context.Context) (<-chan RawMessage, error)
	Ack(ctx context.Context, msg RawMessage) error
	Nack(ctx context.Context, msg RawMessage, requeue bool) error
	SendToDLQ(ctx context.Context, msg RawMessage, reason string) error
	Close() error
	HealthCheck(ctx context.Context) bool
}
