// Package config implements YAML configuration loading, validation, and the
// override chain for erpsync-go. Values resolve in four layers: defaults ->
// config file -> environment variables -> CLI flags, so one-off overrides
// never require editing the file.
package config

import "time"

// Config is the top-level configuration structure parsed from a YAML file.
type Config struct {
	Cloud   EndpointConfig `yaml:"cloud"`
	Local   EndpointConfig `yaml:"local"`
	Webhook WebhookConfig  `yaml:"webhook"`
	Sync    SyncConfig     `yaml:"sync"`
	Retry   RetryConfig    `yaml:"retry"`
	Worker  WorkerConfig   `yaml:"worker"`
	Queue   QueueConfig    `yaml:"queue"`
	State   StateConfig    `yaml:"state"`
	Log     LogConfig      `yaml:"log"`
}

// EndpointConfig identifies one Frappe endpoint and its API credentials.
// Authentication is a static token header built from key and secret.
type EndpointConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// WebhookConfig controls the intake HTTP server.
type WebhookConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Secret keys the HMAC signature check. Empty disables verification,
	// which is acceptable in development only.
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
}

// SyncConfig controls the sync rules: which doctypes, which fields to
// ignore, and how conflicts resolve.
type SyncConfig struct {
	Doctypes           []string `yaml:"doctypes"`
	ExcludedFields     []string `yaml:"excluded_fields"`
	ConflictResolution string   `yaml:"conflict_resolution"`
	BatchSize          int      `yaml:"batch_size"`
}

// RetryConfig bounds per-record retries. BackoffSeconds is surfaced for
// operators scripting around the queue; the worker loop itself relies on
// the poll interval for pacing.
type RetryConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`
	BackoffSeconds int `yaml:"backoff_seconds"`
}

// WorkerConfig controls the queue worker pool.
type WorkerConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
	ClaimBatch     int `yaml:"claim_batch"`
	Count          int `yaml:"count"`
}

// QueueConfig controls queue hygiene windows.
type QueueConfig struct {
	RetentionDays     int `yaml:"retention_days"`
	StaleClaimMinutes int `yaml:"stale_claim_minutes"`
}

// StateConfig locates the SQLite state database.
type StateConfig struct {
	DBPath string `yaml:"db_path"`
}

// LogConfig controls log verbosity.
type LogConfig struct {
	Level string `yaml:"level"`
}

// PollInterval returns the worker poll interval as a duration.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}

// Retention returns the queue retention window as a duration.
func (q QueueConfig) Retention() time.Duration {
	return time.Duration(q.RetentionDays) * 24 * time.Hour
}

// StaleClaimAge returns the stale-claim timeout as a duration.
func (q QueueConfig) StaleClaimAge() time.Duration {
	return time.Duration(q.StaleClaimMinutes) * time.Minute
}

// Default values. Layer 0 of the override chain: a config file only needs
// the endpoint sections to be usable.
const (
	DefaultConfigPath = "erpsync.yaml"

	defaultWebhookHost       = "0.0.0.0"
	defaultWebhookPort       = 5000
	defaultSignatureHeader   = "X-Frappe-Webhook-Signature"
	defaultConflictPolicy    = "latest_timestamp"
	defaultBatchSize         = 100
	defaultMaxAttempts       = 5
	defaultBackoffSeconds    = 30
	defaultPollIntervalMs    = 2000
	defaultClaimBatch        = 10
	defaultWorkerCount       = 2
	defaultRetentionDays     = 30
	defaultStaleClaimMinutes = 5
	defaultDBPath            = "erpsync.db"
	defaultLogLevel          = "info"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for YAML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Webhook: WebhookConfig{
			Host:            defaultWebhookHost,
			Port:            defaultWebhookPort,
			SignatureHeader: defaultSignatureHeader,
		},
		Sync: SyncConfig{
			ConflictResolution: defaultConflictPolicy,
			BatchSize:          defaultBatchSize,
		},
		Retry: RetryConfig{
			MaxAttempts:    defaultMaxAttempts,
			BackoffSeconds: defaultBackoffSeconds,
		},
		Worker: WorkerConfig{
			PollIntervalMs: defaultPollIntervalMs,
			ClaimBatch:     defaultClaimBatch,
			Count:          defaultWorkerCount,
		},
		Queue: QueueConfig{
			RetentionDays:     defaultRetentionDays,
			StaleClaimMinutes: defaultStaleClaimMinutes,
		},
		State: StateConfig{
			DBPath: defaultDBPath,
		},
		Log: LogConfig{
			Level: defaultLogLevel,
		},
	}
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" from
// "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DBPath     *string // --db flag
	LogLevel   *string // resolved from --verbose / --quiet
}
