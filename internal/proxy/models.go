package proxy

import (
	"context"
	"errors"
	"fmt"
)

// Rejection reasons emitted by the pre-call gates.
const (
	ReasonBudgetDaily   = "budget_exhausted_daily"
	ReasonBudgetMonthly = "budget_exhausted_monthly"
	ReasonRateLimited   = "rate_limited"
	ReasonCircuitOpen   = "circuit_open"
	ReasonHalfOpenLimit = "circuit_half_open_limit"
)

// Request is one governed outbound call. Caller identifies the budget,
// rate-limit and circuit scope; Model selects the cost rate.
type Request struct {
	Caller   string
	TenantID string
	Model    string
	Payload  map[string]interface{}
}

// Usage is the normalized consumption report of a provider response.
type Usage struct {
	TotalTokens int `json:"total_tokens"`
}

// Response is the normalized provider result.
type Response struct {
	Result map[string]interface{} `json:"result"`
	Model  string                 `json:"model,omitempty"`
	Usage  Usage                  `json:"usage"`
}

// Provider is the external call being governed.
type Provider interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, req Request) (*Response, error)

func (f ProviderFunc) Call(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// RejectionError reports a pre-call gate denial. The underlying call was
// never attempted.
type RejectionError struct {
	Caller string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("call rejected for caller %q: %s", e.Caller, e.Reason)
}

// RejectionReason extracts the gate reason from an error, empty when the
// error is not a rejection.
func RejectionReason(err error) string {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}
