// Package config loads and validates the accountd configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the ACCT_ prefix (e.g., ACCT_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Auth          AuthConfig          `mapstructure:"auth"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	// PublicURL is the externally visible URL used in password-reset links.
	// Falls back to base_url when unset (reverse-proxied deployments differ).
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetPublicURL returns the public-facing URL used in emailed links.
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

// StorageConfig holds avatar storage backend configuration
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO, DigitalOcean Spaces, etc.)
	Endpoint string `mapstructure:"endpoint"`
	// Region is the AWS region
	Region string `mapstructure:"region"`
	// Bucket is the S3 bucket name
	Bucket string `mapstructure:"bucket"`

	// Authentication method: "default" or "static"
	// - "default": AWS default credential chain (env vars, shared config, IAM role, etc.)
	// - "static": explicit access key and secret key
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath      string `mapstructure:"base_path"`
	ServeDirectly bool   `mapstructure:"serve_directly"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// AccessTokenTTL is the lifetime of issued access tokens (default 1h)
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	// RefreshTokenTTL is the lifetime of refresh tokens (default 168h = 7 days)
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	// ResetTokenTTL is the lifetime of password reset tokens (default 10m)
	ResetTokenTTL time.Duration `mapstructure:"reset_token_ttl"`
	// BcryptCost is the bcrypt work factor for password hashing (default 10)
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

// RateLimitConfig holds fixed-window rate limiter configuration.
// Each class guards a route group; windows reset entirely when they elapse.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend selects the counter store: "memory" (default) or "redis"
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`

	General       RateLimitClassConfig `mapstructure:"general"`
	Auth          RateLimitClassConfig `mapstructure:"auth"`
	Login         RateLimitClassConfig `mapstructure:"login"`
	PasswordReset RateLimitClassConfig `mapstructure:"password_reset"`
	API           RateLimitClassConfig `mapstructure:"api"`
	Upload        RateLimitClassConfig `mapstructure:"upload"`
}

// RateLimitClassConfig holds the window and budget for one limiter class
type RateLimitClassConfig struct {
	Window time.Duration `mapstructure:"window"`
	Max    int           `mapstructure:"max"`
}

// RedisConfig holds the connection settings for the Redis counter backend
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS       CORSConfig       `mapstructure:"cors"`
	BruteForce BruteForceConfig `mapstructure:"brute_force"`
	TLS        TLSConfig        `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// BruteForceConfig holds the failed-login guard settings
type BruteForceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MaxAttempts is the failed-login count at which further logins are blocked
	MaxAttempts int `mapstructure:"max_attempts"`
	// Window is the trailing interval over which failures are counted
	Window time.Duration `mapstructure:"window"`
	// BlockDuration is reported to clients as the advisory blocked-until hint
	BlockDuration time.Duration `mapstructure:"block_duration"`
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
	Output string `mapstructure:"output"`
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

// NotificationsConfig holds settings for outbound notification emails
type NotificationsConfig struct {
	// Enabled globally toggles all outbound emails. Requires SMTP to be configured.
	Enabled bool `mapstructure:"enabled"`
	// SMTP holds the outbound mail server settings
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig holds outbound mail server configuration
type SMTPConfig struct {
	// Host is the SMTP server hostname (e.g. smtp.sendgrid.net)
	Host string `mapstructure:"host"`
	// Port is the SMTP server port (587 for STARTTLS, 465 for SMTPS, 25 for plain)
	Port int `mapstructure:"port"`
	// Username for SMTP authentication
	Username string `mapstructure:"username"`
	// Password for SMTP authentication
	Password string `mapstructure:"password"`
	// From is the sender address shown in outbound emails
	From string `mapstructure:"from"`
	// UseTLS enables STARTTLS (port 587) or implicit TLS (port 465); false = plain SMTP
	UseTLS bool `mapstructure:"use_tls"`
}

// MaintenanceConfig holds settings for the periodic database cleanup jobs.
type MaintenanceConfig struct {
	// TokenCleanupInterval controls how often expired refresh tokens are purged.
	TokenCleanupInterval time.Duration `mapstructure:"token_cleanup_interval"`
	// TokenGracePeriod keeps expired tokens around for this long before deletion
	// so the rotation trail stays inspectable after an incident.
	TokenGracePeriod time.Duration `mapstructure:"token_grace_period"`
	// LogRetentionDays is the automatic activity-log retention. Zero disables
	// automatic pruning; logs can still be trimmed via the admin cleanup endpoint.
	LogRetentionDays int `mapstructure:"log_retention_days"`
	// LogCleanupInterval controls how often the retention sweep runs.
	LogCleanupInterval time.Duration `mapstructure:"log_cleanup_interval"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
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

		// Storage
		"storage.default_backend",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.auth_method",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.local.base_path",
		"storage.local.serve_directly",

		// Auth
		"auth.access_token_ttl",
		"auth.refresh_token_ttl",
		"auth.reset_token_ttl",
		"auth.bcrypt_cost",

		// Rate limiting
		"ratelimit.enabled",
		"ratelimit.backend",
		"ratelimit.redis.addr",
		"ratelimit.redis.password",
		"ratelimit.redis.db",
		"ratelimit.general.window",
		"ratelimit.general.max",
		"ratelimit.auth.window",
		"ratelimit.auth.max",
		"ratelimit.login.window",
		"ratelimit.login.max",
		"ratelimit.password_reset.window",
		"ratelimit.password_reset.max",
		"ratelimit.api.window",
		"ratelimit.api.max",
		"ratelimit.upload.window",
		"ratelimit.upload.max",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.brute_force.enabled",
		"security.brute_force.max_attempts",
		"security.brute_force.window",
		"security.brute_force.block_duration",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",

		// Notifications / SMTP
		// Maintenance
		"maintenance.token_cleanup_interval",
		"maintenance.token_grace_period",
		"maintenance.log_retention_days",
		"maintenance.log_cleanup_interval",

		"notifications.enabled",
		"notifications.smtp.host",
		"notifications.smtp.port",
		"notifications.smtp.username",
		"notifications.smtp.password",
		"notifications.smtp.from",
		"notifications.smtp.use_tls",
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
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/accountd")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("ACCT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.RateLimit.Redis.Password = expandEnv(cfg.RateLimit.Redis.Password)
	cfg.Notifications.SMTP.Password = expandEnv(cfg.Notifications.SMTP.Password)

	// Validate configuration
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
	v.SetDefault("database.name", "accountd")
	v.SetDefault("database.user", "accountd")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./storage")
	v.SetDefault("storage.local.serve_directly", true)

	// Auth defaults
	v.SetDefault("auth.access_token_ttl", "1h")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.reset_token_ttl", "10m")
	v.SetDefault("auth.bcrypt_cost", 10)

	// Rate limit defaults — fixed windows, per limiter class
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.redis.addr", "localhost:6379")
	v.SetDefault("ratelimit.redis.db", 0)
	v.SetDefault("ratelimit.general.window", "15m")
	v.SetDefault("ratelimit.general.max", 100)
	v.SetDefault("ratelimit.auth.window", "15m")
	v.SetDefault("ratelimit.auth.max", 10)
	v.SetDefault("ratelimit.login.window", "15m")
	v.SetDefault("ratelimit.login.max", 5)
	v.SetDefault("ratelimit.password_reset.window", "60m")
	v.SetDefault("ratelimit.password_reset.max", 3)
	v.SetDefault("ratelimit.api.window", "15m")
	v.SetDefault("ratelimit.api.max", 50)
	v.SetDefault("ratelimit.upload.window", "15m")
	v.SetDefault("ratelimit.upload.max", 10)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.brute_force.enabled", true)
	v.SetDefault("security.brute_force.max_attempts", 5)
	v.SetDefault("security.brute_force.window", "15m")
	v.SetDefault("security.brute_force.block_duration", "15m")
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "accountd")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)

	// Notifications defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.smtp.port", 587)
	v.SetDefault("notifications.smtp.use_tls", true)

	// Maintenance defaults
	v.SetDefault("maintenance.token_cleanup_interval", "1h")
	v.SetDefault("maintenance.token_grace_period", "720h")
	v.SetDefault("maintenance.log_retention_days", 0)
	v.SetDefault("maintenance.log_cleanup_interval", "24h")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate storage backend
	validBackends := map[string]bool{"s3": true, "local": true}
	if !validBackends[c.Storage.DefaultBackend] {
		return fmt.Errorf("invalid storage backend: %s (must be s3 or local)", c.Storage.DefaultBackend)
	}
	if c.Storage.DefaultBackend == "s3" {
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using S3 backend")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when using S3 backend")
		}
	}
	if c.Storage.DefaultBackend == "local" {
		if c.Storage.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required when using local backend")
		}
	}

	// Validate rate limiter backend
	validStores := map[string]bool{"memory": true, "redis": true}
	if !validStores[c.RateLimit.Backend] {
		return fmt.Errorf("invalid ratelimit backend: %s (must be memory or redis)", c.RateLimit.Backend)
	}
	if c.RateLimit.Backend == "redis" && c.RateLimit.Redis.Addr == "" {
		return fmt.Errorf("ratelimit.redis.addr is required when using the redis backend")
	}
	for name, class := range map[string]RateLimitClassConfig{
		"general":        c.RateLimit.General,
		"auth":           c.RateLimit.Auth,
		"login":          c.RateLimit.Login,
		"password_reset": c.RateLimit.PasswordReset,
		"api":            c.RateLimit.API,
		"upload":         c.RateLimit.Upload,
	} {
		if class.Window <= 0 {
			return fmt.Errorf("ratelimit.%s.window must be positive", name)
		}
		if class.Max <= 0 {
			return fmt.Errorf("ratelimit.%s.max must be positive", name)
		}
	}

	// Validate brute-force guard
	if c.Security.BruteForce.MaxAttempts <= 0 {
		return fmt.Errorf("security.brute_force.max_attempts must be positive")
	}
	if c.Security.BruteForce.Window <= 0 {
		return fmt.Errorf("security.brute_force.window must be positive")
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
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
