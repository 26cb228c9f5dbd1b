// Package config loads and validates the content scheduler configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the CS_ prefix (e.g., CS_DATABASE_HOST
// overrides database.host in the YAML), so the same binary runs with a
// config.yaml locally and with pure environment variables in containers.
//
// The ENCRYPTION_KEY variable has no CS_ prefix because it is usually injected
// by infrastructure tooling (Kubernetes secrets, Vault agent) as a generic secret.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Generation GenerationConfig `mapstructure:"generation"`
	Payments   PaymentsConfig   `mapstructure:"payments"`
	Social     SocialConfig     `mapstructure:"social"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetPublicURL returns the public-facing URL used for OAuth callbacks and checkout redirects.
// When server.public_url is set it is returned as-is; otherwise it falls back to server.base_url.
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the optional Redis connection used for distributed rate limiting.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// RequireLogin forces authentication on content and scheduling routes. When false,
	// anonymous requests are accepted and the records they create have no owner.
	RequireLogin bool          `mapstructure:"require_login"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	// BcryptCost is the work factor for password hashes.
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// GenerationConfig configures the OpenAI-compatible text generation provider.
type GenerationConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// PaymentsConfig configures Stripe Checkout. When Enabled is false posts are not
// payment gated and the dispatcher clears them itself.
type PaymentsConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	SecretKey         string `mapstructure:"secret_key"`
	WebhookSecret     string `mapstructure:"webhook_secret"`
	Currency          string `mapstructure:"currency"`
	PricePerPostCents int64  `mapstructure:"price_per_post_cents"`
	ProductName       string `mapstructure:"product_name"`
	SuccessURL        string `mapstructure:"success_url"`
	CancelURL         string `mapstructure:"cancel_url"`
}

// SocialConfig holds per-platform application credentials.
type SocialConfig struct {
	Twitter TwitterConfig `mapstructure:"twitter"`
}

// TwitterConfig holds the OAuth1 consumer credentials and endpoints for Twitter/X.
// The endpoint URLs default to the public API and exist for testing against fakes.
type TwitterConfig struct {
	ConsumerKey     string `mapstructure:"consumer_key"`
	ConsumerSecret  string `mapstructure:"consumer_secret"`
	CallbackURL     string `mapstructure:"callback_url"`
	APIBaseURL      string `mapstructure:"api_base_url"`
	RequestTokenURL string `mapstructure:"request_token_url"`
	AuthorizeURL    string `mapstructure:"authorize_url"`
	AccessTokenURL  string `mapstructure:"access_token_url"`
}

// Enabled reports whether consumer credentials are configured.
func (t *TwitterConfig) Enabled() bool {
	return t.ConsumerKey != "" && t.ConsumerSecret != ""
}

// DispatchConfig selects and tunes the scheduled post dispatch strategy.
type DispatchConfig struct {
	// Strategy is "timer" (exact fire time, durable jobs) or "polling" (fixed-interval sweep).
	Strategy     string        `mapstructure:"strategy"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	// DeliveryTimeout bounds a single publish call.
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	// MisfireGrace is how late an overdue job may still fire after a restart.
	// Zero fires every overdue job regardless of lateness.
	MisfireGrace time.Duration `mapstructure:"misfire_grace"`
	// ScheduleSkew is how far in the past a requested scheduled_time may be.
	ScheduleSkew time.Duration `mapstructure:"schedule_skew"`
	// BreakerFailureThreshold consecutive delivery failures open a platform's circuit.
	BreakerFailureThreshold uint          `mapstructure:"breaker_failure_threshold"`
	BreakerDelay            time.Duration `mapstructure:"breaker_delay"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.public_url",
		"server.read_timeout",
		"server.write_timeout",

		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",

		// Auth
		"auth.require_login",
		"auth.token_ttl",
		"auth.bcrypt_cost",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",

		// Generation
		"generation.api_key",
		"generation.base_url",
		"generation.model",
		"generation.max_tokens",
		"generation.timeout",

		// Payments
		"payments.enabled",
		"payments.secret_key",
		"payments.webhook_secret",
		"payments.currency",
		"payments.price_per_post_cents",
		"payments.product_name",
		"payments.success_url",
		"payments.cancel_url",

		// Social
		"social.twitter.consumer_key",
		"social.twitter.consumer_secret",
		"social.twitter.callback_url",
		"social.twitter.api_base_url",
		"social.twitter.request_token_url",
		"social.twitter.authorize_url",
		"social.twitter.access_token_url",

		// Dispatch
		"dispatch.strategy",
		"dispatch.poll_interval",
		"dispatch.batch_size",
		"dispatch.delivery_timeout",
		"dispatch.misfire_grace",
		"dispatch.schedule_skew",
		"dispatch.breaker_failure_threshold",
		"dispatch.breaker_delay",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg, _, err := load(configPath)
	return cfg, err
}

// LoadAndWatch loads configuration like Load and, when a config file was found,
// watches it for changes. onChange receives each successfully re-validated
// configuration; invalid edits are logged and ignored.
func LoadAndWatch(configPath string, onChange func(*Config)) (*Config, error) {
	cfg, v, err := load(configPath)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			slog.Warn("ignoring invalid configuration change", "file", e.Name, "error", err)
			return
		}
		slog.Info("configuration file changed", "file", e.Name)
		onChange(next)
	})
	v.WatchConfig()
	return cfg, nil
}

func load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/content-scheduler")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("CS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Generation.APIKey = expandEnv(cfg.Generation.APIKey)
	cfg.Payments.SecretKey = expandEnv(cfg.Payments.SecretKey)
	cfg.Payments.WebhookSecret = expandEnv(cfg.Payments.WebhookSecret)
	cfg.Social.Twitter.ConsumerKey = expandEnv(cfg.Social.Twitter.ConsumerKey)
	cfg.Social.Twitter.ConsumerSecret = expandEnv(cfg.Social.Twitter.ConsumerSecret)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "content_scheduler")
	v.SetDefault("database.user", "scheduler")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.require_login", true)
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.bcrypt_cost", 12)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "content-scheduler")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)

	// Generation defaults
	v.SetDefault("generation.model", "gpt-4")
	v.SetDefault("generation.max_tokens", 200)
	v.SetDefault("generation.timeout", "60s")

	// Payments defaults
	v.SetDefault("payments.enabled", false)
	v.SetDefault("payments.currency", "usd")
	v.SetDefault("payments.price_per_post_cents", 100)
	v.SetDefault("payments.product_name", "Scheduled post")

	// Social defaults
	v.SetDefault("social.twitter.api_base_url", "https://api.twitter.com")
	v.SetDefault("social.twitter.request_token_url", "https://api.twitter.com/oauth/request_token")
	v.SetDefault("social.twitter.authorize_url", "https://api.twitter.com/oauth/authorize")
	v.SetDefault("social.twitter.access_token_url", "https://api.twitter.com/oauth/access_token")

	// Dispatch defaults
	v.SetDefault("dispatch.strategy", "timer")
	v.SetDefault("dispatch.poll_interval", "60s")
	v.SetDefault("dispatch.batch_size", 100)
	v.SetDefault("dispatch.delivery_timeout", "30s")
	v.SetDefault("dispatch.misfire_grace", "0s")
	v.SetDefault("dispatch.schedule_skew", "1m")
	v.SetDefault("dispatch.breaker_failure_threshold", 5)
	v.SetDefault("dispatch.breaker_delay", "1m")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Payments.Enabled {
		if c.Payments.SecretKey == "" {
			return fmt.Errorf("payments.secret_key is required when payments are enabled")
		}
		if c.Payments.WebhookSecret == "" {
			return fmt.Errorf("payments.webhook_secret is required when payments are enabled")
		}
		if c.Payments.PricePerPostCents <= 0 {
			return fmt.Errorf("payments.price_per_post_cents must be positive")
		}
	}

	switch c.Dispatch.Strategy {
	case "timer":
	case "polling":
		if c.Dispatch.PollInterval <= 0 {
			return fmt.Errorf("dispatch.poll_interval must be positive for the polling strategy")
		}
	default:
		return fmt.Errorf("invalid dispatch strategy: %s (must be timer or polling)", c.Dispatch.Strategy)
	}
	if c.Dispatch.DeliveryTimeout <= 0 {
		return fmt.Errorf("dispatch.delivery_timeout must be positive")
	}
	if c.Dispatch.MisfireGrace < 0 || c.Dispatch.ScheduleSkew < 0 {
		return fmt.Errorf("dispatch.misfire_grace and dispatch.schedule_skew must not be negative")
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
