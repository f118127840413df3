package governance

import (
	"context"
)

// Decision is the ephemeral result of one permission check.
type Decision struct {
	Allowed  bool                   `json:"allowed"`
	Reason   string                 `json:"reason,omitempty"`
	Policies map[string]interface{} `json:"policies,omitempty"`
}

// PolicyGate answers whether one operation is permitted. The request map
// carries whatever the caller knows: source, queue, message_id, tenant_id,
// event_name, caller, capability.
type PolicyGate interface {
	CheckPermission(ctx context.Context, request map[string]interface{}) (Decision, error)
}

// GateFunc adapts a function to the PolicyGate interface. Test hook.
type GateFunc func(ctx context.Context, request map[string]interface{}) (Decision, error)

func (f GateFunc) CheckPermission(ctx context.Context, request map[string]interface{}) (Decision, error) {
	return f(ctx, request)
}
