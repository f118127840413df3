package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateStatic checks the whole document and reports every violation at
// once rather than stopping at the first.
func ValidateStatic(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateServer(cfg.Server)...)
	errs = append(errs, validateBroker(cfg.Broker)...)
	errs = append(errs, validateIdempotency(cfg.Idempotency)...)
	errs = append(errs, validateQueueTrigger(cfg.QueueTrigger)...)
	errs = append(errs, validateGovernance(cfg.Governance)...)
	errs = append(errs, validateProxy(cfg.Proxy)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateQueueTrigger checks one trigger section in isolation, for callers
// constructing a trigger without a full document.
func ValidateQueueTrigger(cfg QueueTriggerConfig) error {
	if errs := validateQueueTrigger(cfg); len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateProxy checks one proxy section in isolation.
func ValidateProxy(cfg ProxyConfig) error {
	if errs := validateProxy(cfg); len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(cfg ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		})
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.RPS <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit.rps",
			Message: "rps must be positive when rate limiting is enabled",
		})
	}

	return errs
}

func validateBroker(cfg BrokerConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Type {
	case "":
		errs = append(errs, &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		})
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			errs = append(errs, &ValidationError{
				Field:   "broker.kafka.brokers",
				Message: "at least one Kafka broker is required",
			})
		}
		for i, broker := range cfg.Kafka.Brokers {
			if broker == "" {
				errs = append(errs, &ValidationError{
					Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
					Message: "broker address cannot be empty",
				})
			}
		}
	case "memory":
		// in-process adapter, nothing to validate
	default:
		errs = append(errs, &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka, memory)", cfg.Type),
		})
	}

	return errs
}

func validateIdempotency(cfg IdempotencyConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Store {
	case "", "memory":
	case "redis":
		if cfg.Redis.Host == "" {
			errs = append(errs, &ValidationError{
				Field:   "idempotency.redis.host",
				Message: "Redis host is required",
			})
		}
		if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
			errs = append(errs, &ValidationError{
				Field:   "idempotency.redis.port",
				Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Redis.Port),
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "idempotency.store",
			Message: fmt.Sprintf("unknown store type: %s (supported: memory, redis)", cfg.Store),
		})
	}

	if cfg.Breaker.Enabled {
		if cfg.Breaker.FailureRatio < 0 || cfg.Breaker.FailureRatio > 1 {
			errs = append(errs, &ValidationError{
				Field:   "idempotency.breaker.failure_ratio",
				Message: "failure_ratio must be between 0 and 1",
			})
		}
	}

	return errs
}

func validateQueueTrigger(cfg QueueTriggerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.QueueName == "" {
		errs = append(errs, &ValidationError{
			Field:   "queue_trigger.queue_name",
			Message: "queue name is required",
		})
	}
	if cfg.ConsumerGroup == "" {
		errs = append(errs, &ValidationError{
			Field:   "queue_trigger.consumer_group",
			Message: "consumer group is required",
		})
	}
	if cfg.Concurrency < 1 {
		errs = append(errs, &ValidationError{
			Field:   "queue_trigger.concurrency",
			Message: fmt.Sprintf("concurrency must be at least 1, got %d", cfg.Concurrency),
		})
	}

	switch cfg.AckPolicy {
	case AckPolicyAck, AckPolicyNack, AckPolicyRequeue, AckPolicyDLQ:
	default:
		errs = append(errs, &ValidationError{
			Field:   "queue_trigger.ack_policy",
			Message: fmt.Sprintf("unknown ack policy: %q (valid: ack, nack, requeue, dlq)", cfg.AckPolicy),
		})
	}

	if cfg.MaxRetries < 0 {
		errs = append(errs, &ValidationError{
			Field:   "queue_trigger.max_retries",
			Message: "max_retries must be non-negative",
		})
	}
	if cfg.RetryBackoffBaseSeconds <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "queue_trigger.retry_backoff_base_seconds",
			Message: "retry backoff base must be positive",
		})
	}
	if cfg.RetryBackoffMultiplier <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "queue_trigger.retry_backoff_multiplier",
			Message: "retry backoff multiplier must be positive",
		})
	}
	if cfg.IdempotencyWindowSeconds <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "queue_trigger.idempotency_window_seconds",
			Message: "idempotency window must be positive",
		})
	}

	switch cfg.ParserType {
	case ParserJSON, ParserText, ParserBinary:
	default:
		errs = append(errs, &ValidationError{
			Field:   "queue_trigger.parser_type",
			Message: fmt.Sprintf("unknown parser type: %q (valid: json, text, binary)", cfg.ParserType),
		})
	}

	return errs
}

func validateGovernance(cfg GovernanceConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.FailMode {
	case "", FailModeOpen, FailModeClosed:
	default:
		errs = append(errs, &ValidationError{
			Field:   "governance.fail_mode",
			Message: fmt.Sprintf("unknown fail mode: %q (valid: open, closed)", cfg.FailMode),
		})
	}

	return errs
}

func validateProxy(cfg ProxyConfig) ValidationErrors {
	if !cfg.Enabled {
		return nil
	}

	var errs ValidationErrors

	if cfg.DailyLimitUSD < 0 {
		errs = append(errs, &ValidationError{
			Field:   "proxy.daily_limit_usd",
			Message: "daily limit must be non-negative",
		})
	}
	if cfg.MonthlyLimitUSD < 0 {
		errs = append(errs, &ValidationError{
			Field:   "proxy.monthly_limit_usd",
			Message: "monthly limit must be non-negative",
		})
	}
	if cfg.RateLimitPerSecond < 0 {
		errs = append(errs, &ValidationError{
			Field:   "proxy.rate_limit_per_second",
			Message: "rate limit must be non-negative",
		})
	}
	for caller, limit := range cfg.RateOverrides {
		if limit <= 0 {
			errs = append(errs, &ValidationError{
				Field:   fmt.Sprintf("proxy.rate_overrides.%s", caller),
				Message: "override must be positive",
			})
		}
	}
	if cfg.FailureThreshold < 1 {
		errs = append(errs, &ValidationError{
			Field:   "proxy.failure_threshold",
			Message: fmt.Sprintf("failure threshold must be at least 1, got %d", cfg.FailureThreshold),
		})
	}
	if cfg.RecoveryTimeoutSeconds <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "proxy.recovery_timeout_seconds",
			Message: "recovery timeout must be positive",
		})
	}
	if cfg.HalfOpenMaxCalls < 1 {
		errs = append(errs, &ValidationError{
			Field:   "proxy.half_open_max_calls",
			Message: fmt.Sprintf("half-open max calls must be at least 1, got %d", cfg.HalfOpenMaxCalls),
		})
	}
	if cfg.CostPer1KTokensUSD < 0 {
		errs = append(errs, &ValidationError{
			Field:   "proxy.cost_per_1k_tokens_usd",
			Message: "cost per 1k tokens must be non-negative",
		})
	}

	return errs
}
