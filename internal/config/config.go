package config

import (
	"time"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Broker       BrokerConfig       `mapstructure:"broker"`
	Idempotency  IdempotencyConfig  `mapstructure:"idempotency"`
	QueueTrigger QueueTriggerConfig `mapstructure:"queue_trigger"`
	Governance   GovernanceConfig   `mapstructure:"governance"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Proxy        ProxyConfig        `mapstructure:"proxy"`
}

type ServerConfig struct {
	Port                int             `mapstructure:"port"`
	ReadTimeoutSeconds  int             `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int             `mapstructure:"write_timeout_seconds"`
	RateLimit           RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	DLQTopic string   `mapstructure:"dlq_topic"`
}

type IdempotencyConfig struct {
	Store   string             `mapstructure:"store"`
	Redis   RedisConfig        `mapstructure:"redis"`
	Breaker StoreBreakerConfig `mapstructure:"breaker"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StoreBreakerConfig guards the external idempotency store so a failing
// cache cannot slow every worker down.
type StoreBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

// QueueTriggerConfig is the immutable runtime configuration of one trigger.
type QueueTriggerConfig struct {
	QueueName                string  `mapstructure:"queue_name"`
	ConsumerGroup            string  `mapstructure:"consumer_group"`
	Concurrency              int     `mapstructure:"concurrency"`
	AckPolicy                string  `mapstructure:"ack_policy"`
	MaxRetries               int     `mapstructure:"max_retries"`
	RetryBackoffBaseSeconds  float64 `mapstructure:"retry_backoff_base_seconds"`
	RetryBackoffMultiplier   float64 `mapstructure:"retry_backoff_multiplier"`
	IdempotencyWindowSeconds int     `mapstructure:"idempotency_window_seconds"`
	DedupEnabled             bool    `mapstructure:"dedup_enabled"`
	ParserType               string  `mapstructure:"parser_type"`
	EventNameHeader          string  `mapstructure:"event_name_header"`
	DedupKeyHeader           string  `mapstructure:"dedup_key_header"`
	TenantIDHeader           string  `mapstructure:"tenant_id_header"`
	Focus                    string  `mapstructure:"focus"`
}

// Ack policies applied to messages that cannot be processed.
const (
	AckPolicyAck     = "ack"
	AckPolicyNack    = "nack"
	AckPolicyRequeue = "requeue"
	AckPolicyDLQ     = "dlq"
)

const (
	ParserJSON   = "json"
	ParserText   = "text"
	ParserBinary = "binary"
)

type GovernanceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// FailMode decides what a gate-internal error means: "open" treats the
	// message as allowed, "closed" resolves it like a rejection.
	FailMode string   `mapstructure:"fail_mode"`
	Rules    []string `mapstructure:"rules"`
}

const (
	FailModeOpen   = "open"
	FailModeClosed = "closed"
)

type AuditConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type ProxyConfig struct {
	Enabled                bool               `mapstructure:"enabled"`
	ProviderURL            string             `mapstructure:"provider_url"`
	ProviderTimeoutSeconds float64            `mapstructure:"provider_timeout_seconds"`
	DailyLimitUSD          float64            `mapstructure:"daily_limit_usd"`
	MonthlyLimitUSD        float64            `mapstructure:"monthly_limit_usd"`
	RateLimitPerSecond     int                `mapstructure:"rate_limit_per_second"`
	RateOverrides          map[string]int     `mapstructure:"rate_overrides"`
	FailureThreshold       int                `mapstructure:"failure_threshold"`
	RecoveryTimeoutSeconds float64            `mapstructure:"recovery_timeout_seconds"`
	HalfOpenMaxCalls       int                `mapstructure:"half_open_max_calls"`
	PassthroughOnError     bool               `mapstructure:"passthrough_on_error"`
	CostPer1KTokensUSD     float64            `mapstructure:"cost_per_1k_tokens_usd"`
	ModelRates             map[string]float64 `mapstructure:"model_rates"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
