package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort          = 8080
	DefaultGRPCPort          = 50051
	DefaultSyncInterval      = 5 * time.Second
	DefaultSyncTimeout       = 5 * time.Second
	MinRefreshInterval       = 2 * time.Second
	DefaultHistorySize       = 200
	DefaultModalTimeout      = 15 * time.Second
	DefaultMinimizeAfter     = 15 * time.Second
	DefaultRecoveryTimeout   = 7 * time.Second
	DefaultRepeatAfter       = 30 * time.Second
	DefaultClearMargin       = 5.0
	DefaultBroadcastInterval = 2 * time.Second
	DefaultStoragePath       = "intellimonitor.db"
	DefaultLocale            = "en"
)

// Default webhook message templates. {hostname} and {services} are replaced
// at delivery time.
const (
	DefaultFailureTemplate  = "*IntelliMonitor alert*\n\nHost *{hostname}* reported a failure in the following services:\n\n{services}\n\nThe on-call team has been notified."
	DefaultRecoveryTemplate = "*IntelliMonitor recovery*\n\nThe following services on host *{hostname}* are back:\n\n{services}\n\nOperation normalized."
)

// Config holds the full console configuration parsed from config.yaml.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Sync          SyncConfig          `yaml:"sync"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Voice         VoiceConfig         `yaml:"voice"`
	Storage       StorageConfig       `yaml:"storage"`
	WS            WSConfig            `yaml:"ws"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig holds the listener settings for the REST/WebSocket and gRPC
// health endpoints.
type ServerConfig struct {
	// HTTPPort serves the REST API, /metrics and the WebSocket stream.
	HTTPPort int `yaml:"http_port"`

	// GRPCPort serves the gRPC health service. 0 disables it.
	GRPCPort int `yaml:"grpc_port"`

	// Auth protects the operator API and the gRPC listener.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header / gRPC metadata key. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// SyncConfig describes how the fleet snapshot is fetched from the backend.
type SyncConfig struct {
	// BackendURL is the base URL of the inventory provider, e.g. http://10.0.0.5:3001.
	BackendURL string `yaml:"backend_url"`

	// Interval is the reconciliation cadence. Overridden by a persisted
	// operator preference when present.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds a single snapshot fetch.
	Timeout time.Duration `yaml:"timeout"`

	// ConsoleScheme is the scheme the console itself is served on. When it is
	// "https" a plain-http backend is refused.
	ConsoleScheme string `yaml:"console_scheme"`

	// Auth configures how the console authenticates to the backend.
	Auth BackendAuthConfig `yaml:"auth"`

	// TLS holds backend TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// BackendAuthConfig specifies the authentication mode towards the backend.
type BackendAuthConfig struct {
	// Mode is one of: apikey | bearer | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header name used in apikey mode.
	Header string `yaml:"header"`

	// KeyEnv is the environment variable that holds the API key.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env"`
}

// Key returns the API key value resolved from the environment.
func (a BackendAuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a BackendAuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// TLSConfig holds backend TLS dial options.
type TLSConfig struct {
	// CAFile is an optional PEM bundle that replaces the system roots.
	CAFile string `yaml:"ca_file"`

	// InsecureSkipVerify disables certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// AlertsConfig controls the alert history.
type AlertsConfig struct {
	// HistorySize caps the persisted alert history.
	HistorySize int `yaml:"history_size"`
}

// NotificationsConfig holds modal timings and webhook delivery.
type NotificationsConfig struct {
	ModalTimeout    time.Duration   `yaml:"modal_timeout"`
	MinimizeAfter   time.Duration   `yaml:"minimize_after"`
	RecoveryTimeout time.Duration   `yaml:"recovery_timeout"`
	Webhooks        []WebhookConfig `yaml:"webhooks"`
	Templates       TemplateConfig  `yaml:"templates"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// TemplateConfig holds the failure and recovery message templates.
type TemplateConfig struct {
	Failure  string `yaml:"failure"`
	Recovery string `yaml:"recovery"`
}

// VoiceConfig configures spoken announcements.
type VoiceConfig struct {
	// Enabled turns the announcer on. Speech still waits for an operator unlock.
	Enabled bool `yaml:"enabled"`

	// TTSURL is the text-to-speech endpoint that turns text into audio bytes.
	TTSURL string `yaml:"tts_url"`

	// TTSKeyEnv is the environment variable holding the TTS bearer key.
	TTSKeyEnv string `yaml:"tts_key_env"`

	// Locale selects the announcement phrasing: en | pt-BR.
	Locale string `yaml:"locale"`

	// RepeatAfter is the delay of the single failure re-announcement check.
	RepeatAfter time.Duration `yaml:"repeat_after"`

	// ClearMargin is how far below an entry threshold a resource must drop
	// before it can be announced again.
	ClearMargin float64 `yaml:"clear_margin"`

	// PlayerCommand is the audio sink; audio bytes are written to its stdin.
	// Empty disables playback.
	PlayerCommand []string `yaml:"player_command"`

	// RequestsPerSecond limits TTS calls. 0 means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// TTSKey returns the TTS credential resolved from the environment.
func (v VoiceConfig) TTSKey() string {
	if v.TTSKeyEnv == "" {
		return ""
	}
	return os.Getenv(v.TTSKeyEnv)
}

// StorageConfig configures the local key-value store.
type StorageConfig struct {
	// Path is the SQLite file. ":memory:" keeps everything in process.
	Path string `yaml:"path"`
}

// WSConfig configures the WebSocket push.
type WSConfig struct {
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// Load reads and parses the config file at path.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			GRPCPort: DefaultGRPCPort,
		},
		Sync: SyncConfig{
			Interval:      DefaultSyncInterval,
			Timeout:       DefaultSyncTimeout,
			ConsoleScheme: "http",
		},
		Alerts: AlertsConfig{
			HistorySize: DefaultHistorySize,
		},
		Notifications: NotificationsConfig{
			ModalTimeout:    DefaultModalTimeout,
			MinimizeAfter:   DefaultMinimizeAfter,
			RecoveryTimeout: DefaultRecoveryTimeout,
			Templates: TemplateConfig{
				Failure:  DefaultFailureTemplate,
				Recovery: DefaultRecoveryTemplate,
			},
		},
		Voice: VoiceConfig{
			Locale:      DefaultLocale,
			RepeatAfter: DefaultRepeatAfter,
			ClearMargin: DefaultClearMargin,
		},
		Storage: StorageConfig{
			Path: DefaultStoragePath,
		},
		WS: WSConfig{
			BroadcastInterval: DefaultBroadcastInterval,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.GRPCPort < 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", cfg.Server.GRPCPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}

	if cfg.Sync.BackendURL == "" {
		return fmt.Errorf("sync.backend_url is required")
	}
	u, err := url.Parse(cfg.Sync.BackendURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("sync.backend_url %q is not an absolute URL", cfg.Sync.BackendURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("sync.backend_url scheme %q unsupported: want http|https", u.Scheme)
	}
	if cfg.Sync.Interval < MinRefreshInterval {
		return fmt.Errorf("sync.interval must be at least %v", MinRefreshInterval)
	}
	if cfg.Sync.Timeout <= 0 {
		return fmt.Errorf("sync.timeout must be positive")
	}
	switch cfg.Sync.ConsoleScheme {
	case "http", "https":
	default:
		return fmt.Errorf("sync.console_scheme %q unknown: want http|https", cfg.Sync.ConsoleScheme)
	}
	switch cfg.Sync.Auth.Mode {
	case "apikey", "bearer", "none", "":
	default:
		return fmt.Errorf("sync.auth.mode %q unknown: want apikey|bearer|none", cfg.Sync.Auth.Mode)
	}
	if cfg.Sync.Auth.Mode == "apikey" && cfg.Sync.Auth.Header == "" {
		return fmt.Errorf("sync.auth.header is required in apikey mode")
	}

	if cfg.Alerts.HistorySize <= 0 {
		return fmt.Errorf("alerts.history_size must be positive")
	}

	n := cfg.Notifications
	if n.ModalTimeout <= 0 || n.MinimizeAfter <= 0 || n.RecoveryTimeout <= 0 {
		return fmt.Errorf("notifications timeouts must be positive")
	}
	for i, wh := range n.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("notifications.webhooks[%d]: unknown type %q", i, wh.Type)
		}
		if wh.URLEnv == "" {
			return fmt.Errorf("notifications.webhooks[%d]: url_env is required", i)
		}
	}

	v := cfg.Voice
	if v.Enabled && v.TTSURL == "" {
		return fmt.Errorf("voice.tts_url is required when voice is enabled")
	}
	switch v.Locale {
	case "en", "pt-BR":
	default:
		return fmt.Errorf("voice.locale %q unknown: want en|pt-BR", v.Locale)
	}
	if v.RepeatAfter <= 0 {
		return fmt.Errorf("voice.repeat_after must be positive")
	}
	if v.ClearMargin < 0 {
		return fmt.Errorf("voice.clear_margin must not be negative")
	}
	if v.RequestsPerSecond < 0 {
		return fmt.Errorf("voice.requests_per_second must not be negative")
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if cfg.WS.BroadcastInterval <= 0 {
		return fmt.Errorf("ws.broadcast_interval must be positive")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	return nil
}
