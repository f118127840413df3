package audit

import (
	"context"
	"sync"
	"time"

	"warden/internal/constants"
	"warden/pkg/redact"
)

// MemoryLedger keeps the most recent records in a bounded in-process buffer;
// the oldest entries are evicted past capacity. Reasoning and error strings
// are redacted before they are stored.
type MemoryLedger struct {
	mu       sync.Mutex
	capacity int
	records  []Record
}

func NewMemoryLedger(capacity int) *MemoryLedger {
	if capacity <= 0 {
		capacity = constants.DefaultAuditCapacity
	}
	return &MemoryLedger{
		capacity: capacity,
		records:  make([]Record, 0, capacity),
	}
}

func (l *MemoryLedger) RecordExecution(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.Reasoning = redact.String(record.Reasoning)
	record.ErrorMessage = redact.String(record.ErrorMessage)
	record.InputSummary = redact.String(record.InputSummary)
	record.OutputSummary = redact.String(record.OutputSummary)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, record)
	if len(l.records) > l.capacity {
		overflow := len(l.records) - l.capacity
		l.records = append(l.records[:0:0], l.records[overflow:]...)
	}
	return nil
}

func (l *MemoryLedger) Query(filter Filter) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0)
	for _, r := range l.records {
		if filter.TenantID != "" && r.TenantID != filter.TenantID {
			continue
		}
		if filter.Capability != "" && r.Capability != filter.Capability {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Len reports the number of retained records.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
