package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
server:
  port: 8080
logging:
  level: info
broker:
  type: memory
idempotency:
  store: memory
queue_trigger:
  queue_name: agent-tasks
  consumer_group: trigger-workers
  concurrency: 4
  ack_policy: dlq
  max_retries: 2
  retry_backoff_base_seconds: 0.25
  retry_backoff_multiplier: 2.0
  idempotency_window_seconds: 300
  dedup_enabled: true
  parser_type: json
governance:
  enabled: false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "agent-tasks", cfg.QueueTrigger.QueueName)
	assert.Equal(t, 4, cfg.QueueTrigger.Concurrency)
	assert.Equal(t, AckPolicyDLQ, cfg.QueueTrigger.AckPolicy)
	assert.Equal(t, 0.25, cfg.QueueTrigger.RetryBackoffBaseSeconds)
	assert.True(t, cfg.QueueTrigger.DedupEnabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "x-event-name", cfg.QueueTrigger.EventNameHeader)
	assert.Equal(t, "x-dedup-key", cfg.QueueTrigger.DedupKeyHeader)
	assert.Equal(t, "x-tenant-id", cfg.QueueTrigger.TenantIDHeader)
	assert.Equal(t, FailModeOpen, cfg.Governance.FailMode)
	assert.Equal(t, 1000, cfg.Audit.Capacity)
}

func TestLoadConfigEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_QUEUE_NAME", "env-queue")
	t.Setenv("TEST_REDIS_HOST", "redis.internal")

	yaml := `
server:
  port: 8080
broker:
  type: memory
idempotency:
  store: redis
  redis:
    host: ${TEST_REDIS_HOST}
    port: 6379
queue_trigger:
  queue_name: ${TEST_QUEUE_NAME}
  consumer_group: workers
  concurrency: 1
  ack_policy: ack
  max_retries: 0
  retry_backoff_base_seconds: 1.0
  retry_backoff_multiplier: 2.0
  idempotency_window_seconds: 60
  parser_type: json
`
	cfg, err := LoadConfig(writeConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "env-queue", cfg.QueueTrigger.QueueName)
	assert.Equal(t, "redis.internal", cfg.Idempotency.Redis.Host)
}

func TestLoadConfigUnsetEnvFailsValidation(t *testing.T) {
	yaml := `
server:
  port: 8080
broker:
  type: memory
idempotency:
  store: memory
queue_trigger:
  queue_name: ${DEFINITELY_UNSET_QUEUE_NAME_VAR}
  consumer_group: workers
  concurrency: 1
  ack_policy: ack
  max_retries: 0
  retry_backoff_base_seconds: 1.0
  retry_backoff_multiplier: 2.0
  idempotency_window_seconds: 60
  parser_type: json
`
	_, err := LoadConfig(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue_trigger.queue_name")
}

func TestLoadConfigCollectsAllViolations(t *testing.T) {
	yaml := `
server:
  port: 0
broker:
  type: carrier-pigeon
idempotency:
  store: memory
queue_trigger:
  queue_name: ""
  consumer_group: workers
  concurrency: 0
  ack_policy: maybe
  max_retries: -1
  retry_backoff_base_seconds: 0
  retry_backoff_multiplier: 2.0
  idempotency_window_seconds: 60
  parser_type: json
`
	_, err := LoadConfig(writeConfig(t, yaml))
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "server.port")
	assert.Contains(t, msg, "broker.type")
	assert.Contains(t, msg, "queue_trigger.queue_name")
	assert.Contains(t, msg, "queue_trigger.concurrency")
	assert.Contains(t, msg, "queue_trigger.ack_policy")
	assert.Contains(t, msg, "queue_trigger.max_retries")
	assert.Contains(t, msg, "queue_trigger.retry_backoff_base_seconds")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestExpandEnvTree(t *testing.T) {
	t.Setenv("TREE_VAL", "expanded")

	tree := map[string]interface{}{
		"plain": "value",
		"env":   "${TREE_VAL}",
		"nested": map[string]interface{}{
			"inner": "prefix-${TREE_VAL}",
		},
		"list":   []interface{}{"${TREE_VAL}", "literal"},
		"number": 42,
	}

	ExpandEnvTree(tree)

	assert.Equal(t, "value", tree["plain"])
	assert.Equal(t, "expanded", tree["env"])
	assert.Equal(t, "prefix-expanded", tree["nested"].(map[string]interface{})["inner"])
	assert.Equal(t, []interface{}{"expanded", "literal"}, tree["list"])
	assert.Equal(t, 42, tree["number"])
}
