package proxy

import (
	"time"
)

// Circuit breaker states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half_open"
)

// circuitState is the breaker of a single caller. Created lazily on the
// caller's first request, never destroyed.
//
// Not self-locking; the owning proxy serializes access.
type circuitState struct {
	state               string
	consecutiveFailures int
	openedAt            time.Time
	halfOpenCalls       int
}

func newCircuitState() *circuitState {
	return &circuitState{state: CircuitClosed}
}

// admit decides whether one call may proceed. An expired open circuit
// transitions to half-open here; admitted half-open calls count against the
// probe budget.
func (c *circuitState) admit(now time.Time, recoveryTimeout time.Duration, halfOpenMax int) (bool, string) {
	if c.state == CircuitOpen {
		if now.Sub(c.openedAt) < recoveryTimeout {
			return false, ReasonCircuitOpen
		}
		c.state = CircuitHalfOpen
		c.halfOpenCalls = 0
	}

	if c.state == CircuitHalfOpen {
		if c.halfOpenCalls >= halfOpenMax {
			return false, ReasonHalfOpenLimit
		}
		c.halfOpenCalls++
	}

	return true, ""
}

// recordSuccess closes the circuit. A single successful probe is enough.
func (c *circuitState) recordSuccess() {
	c.state = CircuitClosed
	c.consecutiveFailures = 0
	c.halfOpenCalls = 0
}

// recordFailure counts one provider failure. A half-open probe failure
// re-opens immediately; a closed circuit opens once the threshold is hit.
func (c *circuitState) recordFailure(now time.Time, threshold int) {
	c.consecutiveFailures++

	if c.state == CircuitHalfOpen || c.consecutiveFailures >= threshold {
		c.state = CircuitOpen
		c.openedAt = now
		c.halfOpenCalls = 0
	}
}

func circuitGaugeValue(state string) float64 {
	switch state {
	case CircuitHalfOpen:
		return 1
	case CircuitOpen:
		return 2
	default:
		return 0
	}
}
