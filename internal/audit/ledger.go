package audit

import (
	"context"
	"time"
)

// Execution statuses recorded in the ledger.
const (
	StatusSuccess = "success"
	StatusBlocked = "blocked"
	StatusFailed  = "failed"
)

// Record is one append-only execution entry.
type Record struct {
	TenantID      string    `json:"tenant_id"`
	AgentID       string    `json:"agent_id"`
	RunID         string    `json:"run_id"`
	Capability    string    `json:"capability"`
	TaskType      string    `json:"task_type,omitempty"`
	InputSummary  string    `json:"input_summary,omitempty"`
	OutputSummary string    `json:"output_summary,omitempty"`
	Reasoning     string    `json:"reasoning,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CostUSD       float64   `json:"cost_usd,omitempty"`
	TotalTokens   int       `json:"total_tokens,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filter selects records on Query. Empty fields match everything.
type Filter struct {
	TenantID   string
	Capability string
	Status     string
}

// Ledger is an append-only execution record, bounded in capacity and
// queryable for inspection and tests.
type Ledger interface {
	RecordExecution(ctx context.Context, record Record) error
	Query(filter Filter) []Record
}
