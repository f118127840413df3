package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden/internal/audit"
	"warden/internal/config"
	"warden/internal/logger"
	"warden/pkg/errors"
	"warden/pkg/metrics"
	"warden/pkg/redact"
)

// Options carries the optional collaborators of a proxy. A nil Clock uses
// wall time.
type Options struct {
	Ledger  audit.Ledger
	Metrics *metrics.ProxyMetrics
	Logger  logger.Logger
	Clock   func() time.Time
}

// Proxy gates one external-call path per caller behind budget, rate-limit
// and circuit-breaker checks. All gate state lives behind one mutex; the
// provider call itself happens outside the lock.
type Proxy struct {
	cfg      config.ProxyConfig
	provider Provider
	ledger   audit.Ledger
	metrics  *metrics.ProxyMetrics
	logger   logger.Logger
	clock    func() time.Time

	mu       sync.Mutex
	budgets  *budgetLedger
	window   *slidingWindow
	circuits map[string]*circuitState
}

func New(cfg config.ProxyConfig, provider Provider, opts Options) (*Proxy, error) {
	// a constructed proxy is in use whatever the enabled flag says
	check := cfg
	check.Enabled = true
	if err := config.ValidateProxy(check); err != nil {
		return nil, errors.Wrap(err, errors.ErrValidation)
	}
	if provider == nil {
		return nil, errors.ErrValidation.WithDetail("message", "provider is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NopLogger()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewProxyMetrics("governed")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Proxy{
		cfg:      cfg,
		provider: provider,
		ledger:   opts.Ledger,
		metrics:  m,
		logger:   log,
		clock:    clock,
		budgets:  newBudgetLedger(),
		window:   newSlidingWindow(),
		circuits: make(map[string]*circuitState),
	}, nil
}

// Execute runs one governed call. A gate rejection returns *RejectionError
// without touching the provider; a provider failure is returned unchanged
// after the circuit state is updated.
func (p *Proxy) Execute(ctx context.Context, req Request) (*Response, error) {
	if req.Caller == "" {
		return nil, errors.ErrValidation.WithDetail("message", "caller is required")
	}

	start := p.clock()

	allowed, reason, gateErr := p.admit(req.Caller, start)
	if gateErr != nil {
		if !p.cfg.PassthroughOnError {
			p.record(ctx, req, audit.StatusFailed, 0, "gate evaluation failed", redact.Error(gateErr), 0, 0)
			return nil, errors.Wrap(gateErr, errors.ErrInternal)
		}
		p.logger.WarnwCtx(ctx, "Gate evaluation failed, passing call through",
			"error", gateErr,
			"caller", req.Caller,
		)
		allowed = true
	}

	if !allowed {
		p.metrics.RejectionsTotal.WithLabelValues(reason).Inc()
		p.record(ctx, req, audit.StatusBlocked, 0, reason, "", 0, 0)
		p.logger.InfowCtx(ctx, "Call rejected by pre-call gate",
			"caller", req.Caller,
			"reason", reason,
		)
		return nil, &RejectionError{Caller: req.Caller, Reason: reason}
	}

	resp, callErr := p.call(ctx, req)
	elapsed := p.clock().Sub(start)
	p.metrics.CallDuration.Observe(float64(elapsed.Milliseconds()))

	if callErr != nil {
		p.recordFailure(req.Caller)
		p.metrics.RequestsTotal.WithLabelValues("failure").Inc()
		p.record(ctx, req, audit.StatusFailed, elapsed, "", redact.Error(callErr), 0, 0)
		p.logger.WarnwCtx(ctx, "Provider call failed",
			"error", callErr,
			"caller", req.Caller,
			"elapsed", elapsed,
		)
		return nil, callErr
	}

	cost := p.estimateCost(req.Model, resp.Usage.TotalTokens)
	p.recordSuccess(req.Caller, start, cost)
	p.metrics.RequestsTotal.WithLabelValues("success").Inc()
	p.record(ctx, req, audit.StatusSuccess, elapsed, "", "", cost, resp.Usage.TotalTokens)

	return resp, nil
}

// admit evaluates the three gates in order under the proxy lock. A panic in
// gate logic is converted to an error for the passthrough policy to resolve.
func (p *Proxy) admit(caller string, now time.Time) (allowed bool, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.DailyLimitUSD > 0 && p.budgets.dailySpent(caller, now) >= p.cfg.DailyLimitUSD {
		return false, ReasonBudgetDaily, nil
	}
	if p.cfg.MonthlyLimitUSD > 0 && p.budgets.monthlySpent(caller, now) >= p.cfg.MonthlyLimitUSD {
		return false, ReasonBudgetMonthly, nil
	}

	if limit := p.rateLimit(caller); limit > 0 && !p.window.allow(caller, now, limit) {
		return false, ReasonRateLimited, nil
	}

	circuit := p.circuit(caller)
	recovery := time.Duration(p.cfg.RecoveryTimeoutSeconds * float64(time.Second))
	ok, circuitReason := circuit.admit(now, recovery, p.cfg.HalfOpenMaxCalls)
	p.metrics.CircuitState.WithLabelValues(caller).Set(circuitGaugeValue(circuit.state))
	if !ok {
		return false, circuitReason, nil
	}

	return true, "", nil
}

// call shields the caller from a panicking provider.
func (p *Proxy) call(ctx context.Context, req Request) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()

	resp, err = p.provider.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.ErrInternal.WithDetail("message", "provider returned no response")
	}
	return resp, nil
}

func (p *Proxy) recordSuccess(caller string, now time.Time, cost float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.budgets.charge(caller, now, cost)
	circuit := p.circuit(caller)
	circuit.recordSuccess()
	p.metrics.CircuitState.WithLabelValues(caller).Set(circuitGaugeValue(circuit.state))
}

func (p *Proxy) recordFailure(caller string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	circuit := p.circuit(caller)
	circuit.recordFailure(p.clock(), p.cfg.FailureThreshold)
	p.metrics.CircuitState.WithLabelValues(caller).Set(circuitGaugeValue(circuit.state))
}

// circuit returns the caller's breaker, creating it on first use. Callers
// must hold p.mu.
func (p *Proxy) circuit(caller string) *circuitState {
	c, ok := p.circuits[caller]
	if !ok {
		c = newCircuitState()
		p.circuits[caller] = c
	}
	return c
}

func (p *Proxy) rateLimit(caller string) int {
	if override, ok := p.cfg.RateOverrides[caller]; ok {
		return override
	}
	return p.cfg.RateLimitPerSecond
}

func (p *Proxy) estimateCost(model string, totalTokens int) float64 {
	rate := p.cfg.CostPer1KTokensUSD
	if model != "" {
		if modelRate, ok := p.cfg.ModelRates[model]; ok {
			rate = modelRate
		}
	}
	return float64(totalTokens) / 1000 * rate
}

func (p *Proxy) record(ctx context.Context, req Request, status string, elapsed time.Duration, reasoning, errMsg string, cost float64, tokens int) {
	if p.ledger == nil {
		return
	}

	record := audit.Record{
		TenantID:     req.TenantID,
		AgentID:      req.Caller,
		RunID:        uuid.New().String(),
		Capability:   req.Model,
		TaskType:     "governed_call",
		Reasoning:    reasoning,
		DurationMS:   elapsed.Milliseconds(),
		Status:       status,
		ErrorMessage: errMsg,
		CostUSD:      cost,
		TotalTokens:  tokens,
	}
	if record.Capability == "" {
		record.Capability = "provider_call"
	}
	if err := p.ledger.RecordExecution(ctx, record); err != nil {
		p.logger.WarnwCtx(ctx, "Failed to write proxy audit record",
			"error", err,
			"caller", req.Caller,
			"status", status,
		)
	}
}

// CallerStatus is a point-in-time view of one caller's gate state.
type CallerStatus struct {
	CircuitState        string  `json:"circuit_state"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	DailySpentUSD       float64 `json:"daily_spent_usd"`
	MonthlySpentUSD     float64 `json:"monthly_spent_usd"`
}

// Snapshot reports every known caller's state for inspection endpoints.
func (p *Proxy) Snapshot() map[string]CallerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	out := make(map[string]CallerStatus, len(p.circuits))
	for caller, circuit := range p.circuits {
		out[caller] = CallerStatus{
			CircuitState:        circuit.state,
			ConsecutiveFailures: circuit.consecutiveFailures,
			DailySpentUSD:       p.budgets.dailySpent(caller, now),
			MonthlySpentUSD:     p.budgets.monthlySpent(caller, now),
		}
	}
	return out
}
