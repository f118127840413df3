package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	// ${ENV_VAR} substitution over the whole settings tree, applied before
	// unmarshalling so nothing resolves env vars at use time.
	expanded := v.AllSettings()
	ExpandEnvTree(expanded)

	merged := viper.New()
	if err := merged.MergeConfigMap(expanded); err != nil {
		return nil, fmt.Errorf("failed to merge expanded config: %w", err)
	}

	var cfg Config
	if err := merged.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// ExpandEnvTree replaces ${VAR} references in every string value of a
// generic key/value tree, in place. Unset variables expand to an empty
// string so validation can reject the resulting blank field.
func ExpandEnvTree(node map[string]interface{}) {
	for key, value := range node {
		node[key] = expandValue(value)
	}
}

func expandValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return expandString(v)
	case map[string]interface{}:
		ExpandEnvTree(v)
		return v
	case []interface{}:
		for i, item := range v {
			v[i] = expandValue(item)
		}
		return v
	default:
		return value
	}
}

func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(name string) string {
		return os.Getenv(name)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.QueueTrigger.EventNameHeader == "" {
		cfg.QueueTrigger.EventNameHeader = "x-event-name"
	}
	if cfg.QueueTrigger.DedupKeyHeader == "" {
		cfg.QueueTrigger.DedupKeyHeader = "x-dedup-key"
	}
	if cfg.QueueTrigger.TenantIDHeader == "" {
		cfg.QueueTrigger.TenantIDHeader = "x-tenant-id"
	}
	if cfg.Governance.FailMode == "" {
		cfg.Governance.FailMode = FailModeOpen
	}
	if cfg.Audit.Capacity == 0 {
		cfg.Audit.Capacity = 1000
	}
}
