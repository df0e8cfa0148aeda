package config

import (
	"time"

	"github.com/nullstack-gw/nexusgate/internal/constants"
)

// SelectionConfig controls how the Selection Engine (C5) picks a credential
// for one provider. Mirrors spec.md §3 SelectionConfig.
type SelectionConfig struct {
	Strategy             string  `yaml:"strategy" json:"strategy"` // hybrid | sticky | round_robin
	HealthWeight         float64 `yaml:"health_weight" json:"health_weight"`
	TokenWeight          float64 `yaml:"token_weight" json:"token_weight"`
	QuotaWeight          float64 `yaml:"quota_weight" json:"quota_weight"`
	LRUWeight            float64 `yaml:"lru_weight" json:"lru_weight"`
	MinHealthThreshold   float64 `yaml:"min_health_threshold" json:"min_health_threshold"`
	TokenBucketMax       float64 `yaml:"token_bucket_max" json:"token_bucket_max"`
	TokenRegenPerMinute  float64 `yaml:"token_regen_per_minute" json:"token_regen_per_minute"`
	QuotaLowThreshold    float64 `yaml:"quota_low_threshold" json:"quota_low_threshold"`
	QuotaCriticalThresh  float64 `yaml:"quota_critical_threshold" json:"quota_critical_threshold"`
	QuarantineThreshold  int     `yaml:"quarantine_threshold" json:"quarantine_threshold"`
	StickyWindowSeconds  int     `yaml:"sticky_window_seconds" json:"sticky_window_seconds"`
	RecencyWindowSeconds int     `yaml:"recency_window_seconds" json:"recency_window_seconds"`
	QuotaTTLSeconds      int     `yaml:"quota_ttl_seconds" json:"quota_ttl_seconds"`
}

// DefaultSelectionConfig matches the neutral values spelled out across §4.3/§4.4.
func DefaultSelectionConfig() SelectionConfig {
	return SelectionConfig{
		Strategy:             "hybrid",
		HealthWeight:         0.4,
		TokenWeight:          0.25,
		QuotaWeight:          0.2,
		LRUWeight:            0.15,
		MinHealthThreshold:   30,
		TokenBucketMax:       50,
		TokenRegenPerMinute:  6,
		QuotaLowThreshold:    0.2,
		QuotaCriticalThresh:  0.05,
		QuarantineThreshold:  10,
		StickyWindowSeconds:  300,
		RecencyWindowSeconds: 600,
		QuotaTTLSeconds:      300,
	}
}

// RetryConfig controls C8's backoff schedule and compression ladder.
type RetryConfig struct {
	MaxRetries           int     `yaml:"max_retries" json:"max_retries"`
	BackoffBaseSeconds   float64 `yaml:"backoff_base_seconds" json:"backoff_base_seconds"`
	MaxCompressionLevel  int     `yaml:"max_compression_level" json:"max_compression_level"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: constants.DefaultMaxRetries, BackoffBaseSeconds: 1.0, MaxCompressionLevel: 3}
}

// BackgroundConfig controls C12's sweeper intervals (spec §5).
type BackgroundConfig struct {
	TokenRefreshIntervalMin  int `yaml:"token_refresh_interval_min" json:"token_refresh_interval_min"`
	TokenRefreshAheadSec     int `yaml:"token_refresh_ahead_sec" json:"token_refresh_ahead_sec"`
	QuotaRefreshIntervalMin  int `yaml:"quota_refresh_interval_min" json:"quota_refresh_interval_min"`
	QuotaTTLMinutes          int `yaml:"quota_ttl_minutes" json:"quota_ttl_minutes"`
	LogRetentionDays         int `yaml:"log_retention_days" json:"log_retention_days"`
}

func DefaultBackgroundConfig() BackgroundConfig {
	return BackgroundConfig{
		TokenRefreshIntervalMin: 30,
		TokenRefreshAheadSec:    180,
		QuotaRefreshIntervalMin: 5,
		QuotaTTLMinutes:         5,
		LogRetentionDays:        30,
	}
}

// HealthConfig controls C4's scoring constants.
type HealthConfig struct {
	BaselineScore        float64 `yaml:"baseline_score" json:"baseline_score"`
	SuccessBonus         float64 `yaml:"success_bonus" json:"success_bonus"`
	FailurePenalty       float64 `yaml:"failure_penalty" json:"failure_penalty"`
	RateLimitPenalty     float64 `yaml:"rate_limit_penalty" json:"rate_limit_penalty"`
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{BaselineScore: 70, SuccessBonus: 1, FailurePenalty: 20, RateLimitPenalty: 10}
}

// ProviderOverride lets the operator tune one provider's selection config and
// quarantine policy independent of the defaults.
type ProviderOverride struct {
	Selection *SelectionConfig `yaml:"selection,omitempty" json:"selection,omitempty"`
}

// ModelRoute maps a requested model name directly to a provider, ahead of
// ModelAlias table resolution (spec §4.8 step 3).
type ModelRoute struct {
	Model    string `yaml:"model" json:"model"`
	Provider string `yaml:"provider" json:"provider"`
}

// ModelAlias maps a client-facing model name to the upstream model id one
// provider actually expects, consulted by C6 before its built-in per-
// provider mapping table (spec §4.5 "Model-alias resolution").
type ModelAlias struct {
	Model        string `yaml:"model" json:"model"`
	Provider     string `yaml:"provider" json:"provider"`
	UpstreamModel string `yaml:"upstream_model" json:"upstream_model"`
}

// FileConfig is the on-disk/env-overridable configuration document.
type FileConfig struct {
	Port      int    `yaml:"port" json:"port"`
	AdminPort int    `yaml:"admin_port" json:"admin_port"`
	Debug     bool   `yaml:"debug" json:"debug"`
	LogFile   string `yaml:"log_file" json:"log_file"`

	StorageBackend string `yaml:"storage_backend" json:"storage_backend"` // file|redis|postgres
	StorageDir     string `yaml:"storage_dir" json:"storage_dir"`
	RedisAddr      string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword  string `yaml:"redis_password" json:"redis_password"`
	RedisDB        int    `yaml:"redis_db" json:"redis_db"`
	PostgresDSN    string `yaml:"postgres_dsn" json:"postgres_dsn"`

	DefaultSelection  SelectionConfig             `yaml:"default_selection" json:"default_selection"`
	ProviderOverrides map[string]ProviderOverride `yaml:"provider_overrides" json:"provider_overrides"`
	ModelRoutes       []ModelRoute                `yaml:"model_routes" json:"model_routes"`
	ModelAliases      []ModelAlias                `yaml:"model_aliases" json:"model_aliases"`

	// DefaultProvider is the provider C9 routes a request to when neither a
	// ModelRoute nor a ModelAlias entry names one (spec §4.8 step 3's final
	// fallback).
	DefaultProvider string `yaml:"default_provider" json:"default_provider"`

	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Background BackgroundConfig `yaml:"background" json:"background"`
	Health     HealthConfig     `yaml:"health" json:"health"`

	DisableCredentialLock bool `yaml:"disable_credential_lock" json:"disable_credential_lock"`

	// AdminTokens authenticates the admin CRUD surface (§4.8's "straightforward
	// wrappers" over C2/C4), separate from client-facing ApiKeys.
	AdminTokens []string `yaml:"admin_tokens" json:"admin_tokens"`

	// ConfigCacheTTLSeconds is loaded and defaulted to 60 seconds, but no
	// code path reads it: Snapshot() does not expire or re-check the cached
	// snapshot.
	ConfigCacheTTLSeconds int `yaml:"config_cache_ttl_seconds" json:"config_cache_ttl_seconds"`
}

// Snapshot is an immutable point-in-time view handed out to request-path
// readers; replacing the pointer (not mutating fields) is what makes
// concurrent reads safe without per-read locking.
type Snapshot struct {
	File      FileConfig
	loadedAt  time.Time
}
