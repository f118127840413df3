package audit

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedgerRecordAndQuery(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(10)

	require.NoError(t, ledger.RecordExecution(ctx, Record{
		TenantID:   "tenant-a",
		Capability: "order.created",
		Status:     StatusSuccess,
	}))
	require.NoError(t, ledger.RecordExecution(ctx, Record{
		TenantID:   "tenant-b",
		Capability: "order.created",
		Status:     StatusBlocked,
		Reasoning:  "denied by policy rule: tenant_id != \"tenant-b\"",
	}))
	require.NoError(t, ledger.RecordExecution(ctx, Record{
		TenantID:   "tenant-a",
		Capability: "order.deleted",
		Status:     StatusFailed,
	}))

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{name: "all", filter: Filter{}, want: 3},
		{name: "by tenant", filter: Filter{TenantID: "tenant-a"}, want: 2},
		{name: "by capability", filter: Filter{Capability: "order.created"}, want: 2},
		{name: "by status", filter: Filter{Status: StatusBlocked}, want: 1},
		{name: "combined", filter: Filter{TenantID: "tenant-a", Status: StatusSuccess}, want: 1},
		{name: "no match", filter: Filter{TenantID: "tenant-c"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, ledger.Query(tt.filter), tt.want)
		})
	}
}

func TestMemoryLedgerEvictsOldest(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(3)

	for i := 0; i < 5; i++ {
		require.NoError(t, ledger.RecordExecution(ctx, Record{
			RunID:  fmt.Sprintf("run-%d", i),
			Status: StatusSuccess,
		}))
	}

	records := ledger.Query(Filter{})
	require.Len(t, records, 3)
	assert.Equal(t, "run-2", records[0].RunID)
	assert.Equal(t, "run-4", records[2].RunID)
}

func TestMemoryLedgerRedactsSecrets(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(10)

	require.NoError(t, ledger.RecordExecution(ctx, Record{
		Status:       StatusFailed,
		ErrorMessage: "provider rejected token=supersecret123",
		Reasoning:    "call used api_key=sk-abcdefgh1234",
	}))

	records := ledger.Query(Filter{})
	require.Len(t, records, 1)
	assert.NotContains(t, records[0].ErrorMessage, "supersecret123")
	assert.NotContains(t, records[0].Reasoning, "sk-abcdefgh1234")
}

func TestMemoryLedgerSetsCreatedAt(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(10)

	require.NoError(t, ledger.RecordExecution(ctx, Record{Status: StatusSuccess}))
	records := ledger.Query(Filter{})
	require.Len(t, records, 1)
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestMemoryLedgerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ledger := NewMemoryLedger(10)
	err := ledger.RecordExecution(ctx, Record{Status: StatusSuccess})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, ledger.Len())
}
