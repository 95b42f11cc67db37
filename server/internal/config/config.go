package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the service configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultInterval        = 60 * time.Second
	DefaultNotifyTimeout   = 10 * time.Second
	DefaultProviderTimeout = 10 * time.Second
	DefaultMaxEntries      = 10000
	DefaultRetention       = 30 * 24 * time.Hour
	DefaultPruneSchedule   = "@every 1h"
	DefaultSMTPPort        = 587
	DefaultRedisChannel    = "copperwatch:alerts"
	DefaultWebSocketPath   = "/ws/alerts"
	DefaultLogMaxSizeMB    = 100
	DefaultLogMaxBackups   = 5
	DefaultLogMaxAgeDays   = 28
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Provider  ProviderConfig  `yaml:"provider"`
	Rules     RulesConfig     `yaml:"rules"`
	History   HistoryConfig   `yaml:"history"`
	Notifiers NotifiersConfig `yaml:"notifiers"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, /metrics and the WebSocket hub
	// listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates REST clients.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls client authentication on the REST API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	return lookupEnv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// MonitorConfig drives the monitoring loop.
type MonitorConfig struct {
	// Interval between evaluation passes (default 60s).
	Interval time.Duration `yaml:"interval"`

	// NotifyTimeout bounds each notifier call (default 10s).
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
}

// ProviderConfig selects and configures the market-data source.
type ProviderConfig struct {
	// Type is one of: http | prometheus | none. With none the loop is not
	// started and snapshots can only be pushed through the API.
	Type string `yaml:"type"`

	// Endpoint is the URL to fetch.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds a single fetch (default 10s).
	Timeout time.Duration `yaml:"timeout"`

	// Fields maps snapshot field names to source names: JSON keys for the
	// http provider, metric family names for prometheus. When empty every
	// numeric value is taken under its own name.
	Fields map[string]string `yaml:"fields"`

	// Auth configures how requests to Endpoint are authenticated.
	Auth SourceAuthConfig `yaml:"auth"`

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// SourceAuthConfig specifies the authentication mode for the provider endpoint.
type SourceAuthConfig struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header carrying the key when Mode == "apikey".
	Header string `yaml:"header"`
	// KeyEnv names the environment variable that holds the key.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable that holds the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth user.
	Username string `yaml:"username"`
	// PasswordEnv names the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a SourceAuthConfig) Key() string { return lookupEnv(a.KeyEnv) }

// Token returns the bearer token value resolved from the environment.
func (a SourceAuthConfig) Token() string { return lookupEnv(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a SourceAuthConfig) Password() string { return lookupEnv(a.PasswordEnv) }

// RulesConfig says where rules come from at startup.
type RulesConfig struct {
	// File is an optional YAML or JSON rules document.
	File string `yaml:"file"`

	// Watch reloads File whenever it changes.
	Watch bool `yaml:"watch"`

	// Templates registers the stock copper rule set.
	Templates bool `yaml:"templates"`
}

// HistoryConfig selects the alert history backend.
type HistoryConfig struct {
	// Backend is one of: memory | postgres (default memory).
	Backend string `yaml:"backend"`

	// DSNEnv names the environment variable holding the Postgres DSN.
	DSNEnv string `yaml:"dsn_env"`

	// MaxEntries caps the memory backend; the oldest events are dropped first.
	MaxEntries int `yaml:"max_entries"`

	// Retention is how long events are kept before pruning. Zero disables pruning.
	Retention time.Duration `yaml:"retention"`

	// PruneSchedule is a cron spec for the pruning job (default "@every 1h").
	PruneSchedule string `yaml:"prune_schedule"`
}

// DSN returns the Postgres DSN resolved from the environment.
func (h HistoryConfig) DSN() string { return lookupEnv(h.DSNEnv) }

// NotifiersConfig lists the notification channels to register.
type NotifiersConfig struct {
	Console   ConsoleConfig   `yaml:"console"`
	Email     EmailConfig     `yaml:"email"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// ConsoleConfig configures the console notifier.
type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
	// Output is stdout or stderr (default stderr).
	Output string `yaml:"output"`
}

// EmailConfig configures the SMTP notifier.
type EmailConfig struct {
	Enabled     bool          `yaml:"enabled"`
	SMTPHost    string        `yaml:"smtp_host"`
	SMTPPort    int           `yaml:"smtp_port"`
	Username    string        `yaml:"username"`
	PasswordEnv string        `yaml:"password_env"`
	UseTLS      bool          `yaml:"use_tls"`
	From        string        `yaml:"from"`
	To          []string      `yaml:"to"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Password returns the SMTP password resolved from the environment.
func (e EmailConfig) Password() string { return lookupEnv(e.PasswordEnv) }

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Name identifies the channel in logs and metrics (default "webhook-<type>").
	Name string `yaml:"name"`

	// Type is one of: slack | teams | pagerduty | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`

	// Timeout bounds one delivery. The engine's notify timeout still applies.
	Timeout time.Duration `yaml:"timeout"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string { return lookupEnv(w.URLEnv) }

// KafkaConfig configures publishing alert events to a Kafka topic.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RedisConfig configures publishing alert events on a Redis pub/sub channel.
type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Channel     string `yaml:"channel"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string { return lookupEnv(r.PasswordEnv) }

// WebSocketConfig configures the live alert stream for UI clients.
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error (default info).
	Level string `yaml:"level"`
	// Format is json or text (default json).
	Format string `yaml:"format"`
	// Output is stdout, stderr or file (default stdout).
	Output string `yaml:"output"`

	// File rotation settings, used when Output == "file".
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func lookupEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config pre-populated with default values. It is also
// the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
		},
		Monitor: MonitorConfig{
			Interval:      DefaultInterval,
			NotifyTimeout: DefaultNotifyTimeout,
		},
		Provider: ProviderConfig{
			Type:    "none",
			Timeout: DefaultProviderTimeout,
		},
		History: HistoryConfig{
			Backend:       "memory",
			MaxEntries:    DefaultMaxEntries,
			Retention:     DefaultRetention,
			PruneSchedule: DefaultPruneSchedule,
		},
		Notifiers: NotifiersConfig{
			Console: ConsoleConfig{Enabled: true, Output: "stderr"},
			Email:   EmailConfig{SMTPPort: DefaultSMTPPort},
			Redis:   RedisConfig{Channel: DefaultRedisChannel},
			WebSocket: WebSocketConfig{
				Enabled: true,
				Path:    DefaultWebSocketPath,
			},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}

	if cfg.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if cfg.Monitor.NotifyTimeout <= 0 {
		return fmt.Errorf("monitor.notify_timeout must be positive")
	}

	switch cfg.Provider.Type {
	case "":
		cfg.Provider.Type = "none"
	case "none":
	case "http", "prometheus":
		if cfg.Provider.Endpoint == "" {
			return fmt.Errorf("provider.endpoint is required for type %q", cfg.Provider.Type)
		}
	default:
		return fmt.Errorf("provider.type %q unknown: want http|prometheus|none", cfg.Provider.Type)
	}
	switch cfg.Provider.Auth.Mode {
	case "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("provider.auth.mode %q unknown: want apikey|bearer|basic|none", cfg.Provider.Auth.Mode)
	}

	if cfg.Rules.Watch && cfg.Rules.File == "" {
		return fmt.Errorf("rules.watch requires rules.file")
	}

	switch cfg.History.Backend {
	case "memory", "":
	case "postgres":
		if cfg.History.DSNEnv == "" {
			return fmt.Errorf("history.dsn_env is required for the postgres backend")
		}
	default:
		return fmt.Errorf("history.backend %q unknown: want memory|postgres", cfg.History.Backend)
	}
	if cfg.History.MaxEntries < 0 {
		return fmt.Errorf("history.max_entries must not be negative")
	}
	if cfg.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative")
	}

	n := cfg.Notifiers
	if n.Email.Enabled {
		if n.Email.SMTPHost == "" || n.Email.From == "" || len(n.Email.To) == 0 {
			return fmt.Errorf("notifiers.email requires smtp_host, from and to")
		}
	}
	for i, wh := range n.Webhooks {
		switch wh.Type {
		case "slack", "teams", "pagerduty", "http":
		default:
			return fmt.Errorf("notifiers.webhooks[%d]: unknown type %q", i, wh.Type)
		}
		if wh.URLEnv == "" {
			return fmt.Errorf("notifiers.webhooks[%d]: url_env is required", i)
		}
	}
	if n.Kafka.Enabled && (len(n.Kafka.Brokers) == 0 || n.Kafka.Topic == "") {
		return fmt.Errorf("notifiers.kafka requires brokers and topic")
	}
	if n.Redis.Enabled && n.Redis.Addr == "" {
		return fmt.Errorf("notifiers.redis requires addr")
	}

	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q unknown: want json|text", cfg.Log.Format)
	}
	switch cfg.Log.Output {
	case "stdout", "stderr":
	case "file":
		if cfg.Log.File == "" {
			return fmt.Errorf("log.file is required when log.output is file")
		}
	default:
		return fmt.Errorf("log.output %q unknown: want stdout|stderr|file", cfg.Log.Output)
	}
	return nil
}
