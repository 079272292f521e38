package config

import "os"

// Environment variable names for overrides. These mirror the YAML key paths
// under the ERPSYNC_ prefix; credentials especially tend to arrive through
// the environment rather than the config file.
const (
	EnvConfig = "ERPSYNC_CONFIG"

	EnvCloudURL       = "ERPSYNC_CLOUD_URL"
	EnvCloudAPIKey    = "ERPSYNC_CLOUD_API_KEY"
	EnvCloudAPISecret = "ERPSYNC_CLOUD_API_SECRET"

	EnvLocalURL       = "ERPSYNC_LOCAL_URL"
	EnvLocalAPIKey    = "ERPSYNC_LOCAL_API_KEY"
	EnvLocalAPISecret = "ERPSYNC_LOCAL_API_SECRET"

	EnvWebhookSecret = "ERPSYNC_WEBHOOK_SECRET"
	EnvDBPath        = "ERPSYNC_DB_PATH"
	EnvLogLevel      = "ERPSYNC_LOG_LEVEL"
)

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath string

	CloudURL       string
	CloudAPIKey    string
	CloudAPISecret string

	LocalURL       string
	LocalAPIKey    string
	LocalAPISecret string

	WebhookSecret string
	DBPath        string
	LogLevel      string
}

// ReadEnvOverrides reads the ERPSYNC_ environment variables. It does not
// modify any Config; Resolve applies the non-empty fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:     os.Getenv(EnvConfig),
		CloudURL:       os.Getenv(EnvCloudURL),
		CloudAPIKey:    os.Getenv(EnvCloudAPIKey),
		CloudAPISecret: os.Getenv(EnvCloudAPISecret),
		LocalURL:       os.Getenv(EnvLocalURL),
		LocalAPIKey:    os.Getenv(EnvLocalAPIKey),
		LocalAPISecret: os.Getenv(EnvLocalAPISecret),
		WebhookSecret:  os.Getenv(EnvWebhookSecret),
		DBPath:         os.Getenv(EnvDBPath),
		LogLevel:       os.Getenv(EnvLogLevel),
	}
}

// apply overlays the non-empty override values onto cfg.
func (e EnvOverrides) apply(cfg *Config) {
	if e.CloudURL != "" {
		cfg.Cloud.URL = e.CloudURL
	}

	if e.CloudAPIKey != "" {
		cfg.Cloud.APIKey = e.CloudAPIKey
	}

	if e.CloudAPISecret != "" {
		cfg.Cloud.APISecret = e.CloudAPISecret
	}

	if e.LocalURL != "" {
		cfg.Local.URL = e.LocalURL
	}

	if e.LocalAPIKey != "" {
		cfg.Local.APIKey = e.LocalAPIKey
	}

	if e.LocalAPISecret != "" {
		cfg.Local.APISecret = e.LocalAPISecret
	}

	if e.WebhookSecret != "" {
		cfg.Webhook.Secret = e.WebhookSecret
	}

	if e.DBPath != "" {
		cfg.State.DBPath = e.DBPath
	}

	if e.LogLevel != "" {
		cfg.Log.Level = e.LogLevel
	}
}
