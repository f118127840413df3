package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DLQEntry is one dead-lettered message together with its reason.
type DLQEntry struct {
	Message RawMessage
	Reason  string
}

// MemoryAdapter is an in-process QueueAdapter used by tests and by the
// "memory" broker type. Enqueue feeds the consume channel; dispositions are
// recorded so tests can assert on them.
type MemoryAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	ch        chan RawMessage
	acked     []RawMessage
	nacked    []RawMessage
	requeued  []RawMessage
	dlq       []DLQEntry
}

func NewMemoryAdapter(buffer int) *MemoryAdapter {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryAdapter{
		ch: make(chan RawMessage, buffer),
	}
}

func (a *MemoryAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("memory adapter is closed")
	}
	a.connected = true
	return nil
}

func (a *MemoryAdapter) Consume(ctx context.Context) (<-chan RawMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("memory adapter is not connected")
	}
	return a.ch, nil
}

// Enqueue makes a message available to consumers. It fills in MessageID and
// Timestamp when absent.
func (a *MemoryAdapter) Enqueue(msg RawMessage) error {
	if msg.MessageID == "" {
		msg.MessageID = fmt.Sprintf("mem-%d", time.Now().UnixNano())
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("memory adapter is closed")
	}
	// never block while holding the mutex: consumers need it to Ack before
	// they return to drain the channel
	select {
	case a.ch <- msg:
		return nil
	default:
		return fmt.Errorf("memory queue is full")
	}
}

func (a *MemoryAdapter) Ack(ctx context.Context, msg RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, msg)
	return nil
}

func (a *MemoryAdapter) Nack(ctx context.Context, msg RawMessage, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, msg)
	if requeue && !a.closed {
		select {
		case a.ch <- msg:
			a.requeued = append(a.requeued, msg)
		default:
			return fmt.Errorf("memory queue is full, message not requeued")
		}
	}
	return nil
}

func (a *MemoryAdapter) SendToDLQ(ctx context.Context, msg RawMessage, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dlq = append(a.dlq, DLQEntry{Message: msg, Reason: reason})
	return nil
}

func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	return nil
}

func (a *MemoryAdapter) HealthCheck(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected && !a.closed
}

func (a *MemoryAdapter) Acked() []RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RawMessage, len(a.acked))
	copy(out, a.acked)
	return out
}

func (a *MemoryAdapter) Nacked() []RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RawMessage, len(a.nacked))
	copy(out, a.nacked)
	return out
}

func (a *MemoryAdapter) Requeued() []RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RawMessage, len(a.requeued))
	copy(out, a.requeued)
	return out
}

func (a *MemoryAdapter) DLQ() []DLQEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]DLQEntry, len(a.dlq))
	copy(out, a.dlq)
	return out
}
