// Package toolweave holds the data model, boundary interfaces, errors and
// configuration shared by the orchestration engine.
package toolweave

import "time"

// Standard cache tier names.
const (
	TierSearch     = "search"
	TierAnalysis   = "analysis"
	TierGeneration = "generation"
	TierEmbeddings = "embeddings"
)

// Config is the configuration surface consumed by the engine. It is supplied
// by the caller; nothing in the engine reads files or the environment.
type Config struct {
	// Maximum number of subtasks a single decomposition may contain
	MaxWorkflowDepth int `mapstructure:"max_workflow_depth"`
	// Maximum number of concurrently executing tool calls
	MaxParallelTools int `mapstructure:"max_parallel_tools"`
	// Per-call timeout
	Timeout time.Duration `mapstructure:"timeout"`

	// Retry configuration: delay before retry n is 2^n * RetryBaseDelay
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`

	EnableCaching       bool    `mapstructure:"enable_caching"`
	EnableLearning      bool    `mapstructure:"enable_learning"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`

	// StrictDependencies turns dependency cycles into scheduling errors
	// instead of degrading to unordered execution.
	StrictDependencies bool `mapstructure:"strict_dependencies"`

	// Background monitor
	MonitorInterval        time.Duration `mapstructure:"monitor_interval"`
	MemoryThresholdPercent float64       `mapstructure:"memory_threshold_percent"`

	// Workflows finishing under this duration with zero retries earn a quality bonus.
	QuickWorkflowThreshold time.Duration `mapstructure:"quick_workflow_threshold"`

	SelectionStrategy string `mapstructure:"selection_strategy"`
	ResponseCacheSize int    `mapstructure:"response_cache_size"`

	Tiers map[string]CacheTierConfig `mapstructure:"tiers"`

	// Event bus configuration
	EnableEventBus      bool `mapstructure:"enable_event_bus"`
	EventBusBufferSize  int  `mapstructure:"event_bus_buffer_size"`
	EventBusWorkerCount int  `mapstructure:"event_bus_worker_count"`
}

// DefaultTiers returns the standard tier configuration.
func DefaultTiers() map[string]CacheTierConfig {
	return map[string]CacheTierConfig{
		TierSearch: {
			MaxSizeBytes:      50 << 20,
			BaseTTL:           10 * time.Minute,
			MaxEntries:        1000,
			HitRatioThreshold: 0.3,
			AdaptiveTTL:       true,
		},
		TierAnalysis: {
			MaxSizeBytes:      100 << 20,
			BaseTTL:           30 * time.Minute,
			MaxEntries:        500,
			HitRatioThreshold: 0.4,
			AdaptiveTTL:       true,
		},
		TierGeneration: {
			MaxSizeBytes:      25 << 20,
			BaseTTL:           5 * time.Minute,
			MaxEntries:        200,
			HitRatioThreshold: 0.2,
			AdaptiveTTL:       false,
		},
		TierEmbeddings: {
			MaxSizeBytes:      200 << 20,
			BaseTTL:           time.Hour,
			MaxEntries:        2000,
			HitRatioThreshold: 0.5,
			AdaptiveTTL:       true,
		},
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkflowDepth:       10,
		MaxParallelTools:       5,
		Timeout:                30 * time.Second,
		RetryAttempts:          3,
		RetryBaseDelay:         time.Second,
		EnableCaching:          true,
		EnableLearning:         true,
		ConfidenceThreshold:    0.6,
		MonitorInterval:        30 * time.Second,
		MemoryThresholdPercent: 85,
		QuickWorkflowThreshold: 2 * time.Second,
		SelectionStrategy:      "balanced",
		ResponseCacheSize:      100,
		Tiers:                  DefaultTiers(),
		EnableEventBus:         true,
		EventBusBufferSize:     100,
		EventBusWorkerCount:    5,
	}
}

// TierForCategory maps a tool category onto a cache tier.
func TierForCategory(category string) string {
	switch category {
	case CategorySearch:
		return TierSearch
	case CategoryGeneration:
		return TierGeneration
	case "embeddings", "semantic":
		return TierEmbeddings
	default:
		return TierAnalysis
	}
}
