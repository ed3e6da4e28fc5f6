package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ZanzyTHEbar/toolweave"
)

// configKeys are the scalar config keys that may be overridden from the
// environment. Viper only consults the environment for keys it knows about.
var configKeys = []string{
	"max_workflow_depth",
	"max_parallel_tools",
	"timeout",
	"retry_attempts",
	"retry_base_delay",
	"enable_caching",
	"enable_learning",
	"confidence_threshold",
	"strict_dependencies",
	"monitor_interval",
	"memory_threshold_percent",
	"quick_workflow_threshold",
	"selection_strategy",
	"response_cache_size",
	"enable_event_bus",
	"event_bus_buffer_size",
	"event_bus_worker_count",
}

// loadConfig layers the config file and environment over the defaults.
func loadConfig(v *viper.Viper, path string) (toolweave.Config, error) {
	cfg := toolweave.DefaultConfig()

	v.SetEnvPrefix("TOOLWEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyTierDefaults(&cfg)
	return cfg, nil
}

// applyTierDefaults fills fields left unset in the config file's tier blocks.
// Each block decodes into a zero value, not over the default entry.
func applyTierDefaults(cfg *toolweave.Config) {
	for name, def := range toolweave.DefaultTiers() {
		tier, ok := cfg.Tiers[name]
		if !ok {
			continue
		}
		if tier.MaxSizeBytes == 0 {
			tier.MaxSizeBytes = def.MaxSizeBytes
		}
		if tier.BaseTTL == 0 {
			tier.BaseTTL = def.BaseTTL
		}
		if tier.MaxEntries == 0 {
			tier.MaxEntries = def.MaxEntries
		}
		if tier.HitRatioThreshold == 0 {
			tier.HitRatioThreshold = def.HitRatioThreshold
		}
		cfg.Tiers[name] = tier
	}
}
