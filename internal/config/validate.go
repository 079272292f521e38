package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/tonimelisma/erpsync-go/internal/sync"
)

// Validation range constants.
const (
	minPort             = 1
	maxPort             = 65535
	minBatchSize        = 1
	minWorkerCount      = 1
	maxWorkerCount      = 32
	minPollIntervalMs   = 100
	minClaimBatch       = 1
	minRetentionDays    = 1
	minStaleClaimMinute = 1
)

// Validate checks all configuration values and returns all errors found. It
// accumulates every error rather than stopping at the first, so operators
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateWebhook(&cfg.Webhook)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateWorker(&cfg.Worker)...)
	errs = append(errs, validateQueue(&cfg.Queue)...)
	errs = append(errs, validateState(&cfg.State)...)
	errs = append(errs, validateLog(&cfg.Log)...)

	errs = append(errs, validateEndpointIfSet("cloud", &cfg.Cloud)...)
	errs = append(errs, validateEndpointIfSet("local", &cfg.Local)...)

	return errors.Join(errs...)
}

// RequireEndpoints checks that both endpoints carry a URL and credentials.
// Commands that never talk to the remotes (init, status, conflicts) skip
// this; everything else fails fast with a config error.
func (c *Config) RequireEndpoints() error {
	var errs []error

	for _, ep := range []struct {
		name string
		cfg  *EndpointConfig
	}{
		{"cloud", &c.Cloud},
		{"local", &c.Local},
	} {
		if ep.cfg.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url: required", ep.name))
		}

		if ep.cfg.APIKey == "" || ep.cfg.APISecret == "" {
			errs = append(errs, fmt.Errorf("%s: api_key and api_secret required", ep.name))
		}
	}

	return errors.Join(errs...)
}

// validateEndpointIfSet checks endpoint values that are present. Presence
// itself is enforced per-command by RequireEndpoints.
func validateEndpointIfSet(name string, ep *EndpointConfig) []error {
	var errs []error

	if ep.URL != "" {
		u, err := url.Parse(ep.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s.url: must be an absolute http(s) URL, got %q", name, ep.URL))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("%s.url: unsupported scheme %q", name, u.Scheme))
		}
	}

	return errs
}

func validateWebhook(w *WebhookConfig) []error {
	var errs []error

	if w.Port < minPort || w.Port > maxPort {
		errs = append(errs, fmt.Errorf("webhook.port: must be %d-%d, got %d", minPort, maxPort, w.Port))
	}

	if w.SignatureHeader == "" {
		errs = append(errs, errors.New("webhook.signature_header: must not be empty"))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if !sync.ValidPolicy(sync.Policy(s.ConflictResolution)) {
		errs = append(errs, fmt.Errorf(
			"sync.conflict_resolution: must be one of latest_timestamp, cloud_wins, local_wins, manual; got %q",
			s.ConflictResolution))
	}

	if s.BatchSize < minBatchSize {
		errs = append(errs, fmt.Errorf("sync.batch_size: must be >= %d, got %d", minBatchSize, s.BatchSize))
	}

	for _, doctype := range s.Doctypes {
		if strings.TrimSpace(doctype) == "" {
			errs = append(errs, errors.New("sync.doctypes: entries must not be blank"))
			break
		}
	}

	return errs
}

func validateRetry(r *RetryConfig) []error {
	var errs []error

	if r.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts: must be >= 1, got %d", r.MaxAttempts))
	}

	if r.BackoffSeconds < 0 {
		errs = append(errs, fmt.Errorf("retry.backoff_seconds: must be >= 0, got %d", r.BackoffSeconds))
	}

	return errs
}

func validateWorker(w *WorkerConfig) []error {
	var errs []error

	if w.PollIntervalMs < minPollIntervalMs {
		errs = append(errs, fmt.Errorf("worker.poll_interval_ms: must be >= %d, got %d",
			minPollIntervalMs, w.PollIntervalMs))
	}

	if w.ClaimBatch < minClaimBatch {
		errs = append(errs, fmt.Errorf("worker.claim_batch: must be >= %d, got %d", minClaimBatch, w.ClaimBatch))
	}

	if w.Count < minWorkerCount || w.Count > maxWorkerCount {
		errs = append(errs, fmt.Errorf("worker.count: must be %d-%d, got %d",
			minWorkerCount, maxWorkerCount, w.Count))
	}

	return errs
}

func validateQueue(q *QueueConfig) []error {
	var errs []error

	if q.RetentionDays < minRetentionDays {
		errs = append(errs, fmt.Errorf("queue.retention_days: must be >= %d, got %d",
			minRetentionDays, q.RetentionDays))
	}

	if q.StaleClaimMinutes < minStaleClaimMinute {
		errs = append(errs, fmt.Errorf("queue.stale_claim_minutes: must be >= %d, got %d",
			minStaleClaimMinute, q.StaleClaimMinutes))
	}

	return errs
}

func validateState(s *StateConfig) []error {
	if s.DBPath == "" {
		return []error{errors.New("state.db_path: must not be empty")}
	}

	return nil
}

func validateLog(l *LogConfig) []error {
	if _, err := ParseLevel(l.Level); err != nil {
		return []error{err}
	}

	return nil
}

// ParseLevel maps a config level string onto a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level: must be debug, info, warn, or error; got %q", level)
	}
}
