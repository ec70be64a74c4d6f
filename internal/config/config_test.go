package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "accountd",
				Password: "secret",
				Name:     "accountd",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=accountd password=secret dbname=accountd sslmode=require",
		},
		{
			name: "disable ssl mode",
			cfg: DatabaseConfig{
				Host:     "db.example.com",
				Port:     5433,
				User:     "admin",
				Password: "pass",
				Name:     "mydb",
				SSLMode:  "disable",
			},
			want: "host=db.example.com port=5433 user=admin password=pass dbname=mydb sslmode=disable",
		},
		{
			name: "empty password",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "",
				Name:     "dbname",
				SSLMode:  "prefer",
			},
			want: "host=localhost port=5432 user=user password= dbname=dbname sslmode=prefer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetDSN()
			if got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ServerConfig.GetAddress / GetPublicURL
// ---------------------------------------------------------------------------

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"localhost", ServerConfig{Host: "localhost", Port: 3000}, "localhost:3000"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
		{"port 443", ServerConfig{Host: "0.0.0.0", Port: 443}, "0.0.0.0:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetAddress()
			if got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetPublicURL(t *testing.T) {
	t.Run("explicit public url wins", func(t *testing.T) {
		s := ServerConfig{PublicURL: "https://accounts.example.com", BaseURL: "http://internal:8080"}
		if got := s.GetPublicURL(); got != "https://accounts.example.com" {
			t.Errorf("GetPublicURL() = %q, want public url", got)
		}
	})

	t.Run("falls back to base url", func(t *testing.T) {
		s := ServerConfig{BaseURL: "http://internal:8080"}
		if got := s.GetPublicURL(); got != "http://internal:8080" {
			t.Errorf("GetPublicURL() = %q, want base url", got)
		}
	})
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	classes := RateLimitClassConfig{Window: 15 * time.Minute, Max: 100}
	return &Config{
		Server: ServerConfig{
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Name: "accountd",
			User: "accountd",
		},
		Storage: StorageConfig{
			DefaultBackend: "local",
			Local:          LocalStorageConfig{BasePath: "./storage"},
		},
		RateLimit: RateLimitConfig{
			Backend:       "memory",
			General:       classes,
			Auth:          classes,
			Login:         classes,
			PasswordReset: classes,
			API:           classes,
			Upload:        classes,
		},
		Security: SecurityConfig{
			BruteForce: BruteForceConfig{
				MaxAttempts: 5,
				Window:      15 * time.Minute,
			},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid minimal config passes", func(t *testing.T) {
		if err := minimalValidConfig().Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("invalid server port 0", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Server.Port = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for port 0, got nil")
		}
	})

	t.Run("invalid server port 70000", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Server.Port = 70000
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for port 70000, got nil")
		}
	})

	t.Run("missing base_url", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Server.BaseURL = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for empty base_url, got nil")
		}
	})

	t.Run("missing database host", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Database.Host = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for empty database host, got nil")
		}
	})

	t.Run("missing database name", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Database.Name = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for empty database name, got nil")
		}
	})

	t.Run("missing database user", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Database.User = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for empty database user, got nil")
		}
	})

	t.Run("invalid storage backend", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Storage.DefaultBackend = "ftp"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for invalid storage backend, got nil")
		}
	})

	t.Run("s3 backend missing bucket", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Storage.DefaultBackend = "s3"
		cfg.Storage.S3 = S3StorageConfig{Region: "us-east-1"}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing s3 bucket, got nil")
		}
	})

	t.Run("s3 backend missing region", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Storage.DefaultBackend = "s3"
		cfg.Storage.S3 = S3StorageConfig{Bucket: "mybucket"}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing s3 region, got nil")
		}
	})

	t.Run("valid s3 config passes", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Storage.DefaultBackend = "s3"
		cfg.Storage.S3 = S3StorageConfig{Bucket: "mybucket", Region: "us-east-1"}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error for valid s3 config: %v", err)
		}
	})

	t.Run("local backend missing base_path", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Storage.Local = LocalStorageConfig{BasePath: ""}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing local base_path, got nil")
		}
	})

	t.Run("invalid ratelimit backend", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.RateLimit.Backend = "memcached"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for invalid ratelimit backend, got nil")
		}
	})

	t.Run("redis backend missing addr", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.RateLimit.Backend = "redis"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing redis addr, got nil")
		}
	})

	t.Run("zero ratelimit window rejected", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.RateLimit.Login.Window = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for zero login window, got nil")
		}
	})

	t.Run("zero ratelimit max rejected", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.RateLimit.PasswordReset.Max = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for zero password_reset max, got nil")
		}
	})

	t.Run("zero brute force attempts rejected", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Security.BruteForce.MaxAttempts = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for zero max_attempts, got nil")
		}
	})

	t.Run("tls enabled missing cert_file", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Security.TLS = TLSConfig{Enabled: true, KeyFile: "key.pem"}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing tls cert_file, got nil")
		}
	})

	t.Run("tls enabled missing key_file", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Security.TLS = TLSConfig{Enabled: true, CertFile: "cert.pem"}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing tls key_file, got nil")
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Logging.Level = "verbose"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for invalid log level, got nil")
		}
	})

	t.Run("all valid log levels pass", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			cfg := minimalValidConfig()
			cfg.Logging.Level = level
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() unexpected error for log level %q: %v", level, err)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// expandEnv
// ---------------------------------------------------------------------------

func TestExpandEnv(t *testing.T) {
	t.Run("expands ${VAR} syntax", func(t *testing.T) {
		t.Setenv("CONFIG_TEST_SECRET", "super-secret")
		got := expandEnv("${CONFIG_TEST_SECRET}")
		if got != "super-secret" {
			t.Errorf("expandEnv() = %q, want %q", got, "super-secret")
		}
	})

	t.Run("expands $VAR syntax", func(t *testing.T) {
		t.Setenv("CONFIG_TEST_VAL", "hello")
		got := expandEnv("$CONFIG_TEST_VAL")
		if got != "hello" {
			t.Errorf("expandEnv() = %q, want %q", got, "hello")
		}
	})

	t.Run("plain string passthrough", func(t *testing.T) {
		got := expandEnv("no-vars-here")
		if got != "no-vars-here" {
			t.Errorf("expandEnv() = %q, want %q", got, "no-vars-here")
		}
	})

	t.Run("unset variable expands to empty string", func(t *testing.T) {
		os.Unsetenv("CONFIG_TEST_DEFINITELY_UNSET_12345")
		got := expandEnv("${CONFIG_TEST_DEFINITELY_UNSET_12345}")
		if got != "" {
			t.Errorf("expandEnv() = %q, want empty string", got)
		}
	})
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// writeTempConfig creates a temp YAML file and registers a cleanup to remove it.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "config-test-*.yaml")
	if err != nil {
		t.Fatal("CreateTemp:", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal("WriteString:", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_WithConfigFile(t *testing.T) {
	const content = `
server:
  host: "testhost"
  port: 9999
  base_url: "http://testhost:9999"
database:
  host: "dbhost"
  name: "testdb"
  user: "testuser"
storage:
  default_backend: "local"
  local:
    base_path: "./test-storage"
logging:
  level: "debug"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "testhost" {
		t.Errorf("Server.Host = %q, want testhost", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Database.Host != "dbhost" {
		t.Errorf("Database.Host = %q, want dbhost", cfg.Database.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	const content = `
server:
  base_url: "http://localhost:8080"
database:
  host: "localhost"
  name: "accountd"
  user: "accountd"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("default Database.Port = %d, want 5432", cfg.Database.Port)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("default Database.SSLMode = %q, want require", cfg.Database.SSLMode)
	}
	if cfg.Auth.AccessTokenTTL != time.Hour {
		t.Errorf("default Auth.AccessTokenTTL = %v, want 1h", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.RefreshTokenTTL != 168*time.Hour {
		t.Errorf("default Auth.RefreshTokenTTL = %v, want 168h", cfg.Auth.RefreshTokenTTL)
	}
	if cfg.Auth.ResetTokenTTL != 10*time.Minute {
		t.Errorf("default Auth.ResetTokenTTL = %v, want 10m", cfg.Auth.ResetTokenTTL)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("default RateLimit.Enabled = false, want true")
	}
	if cfg.RateLimit.Login.Max != 5 {
		t.Errorf("default RateLimit.Login.Max = %d, want 5", cfg.RateLimit.Login.Max)
	}
	if cfg.RateLimit.PasswordReset.Window != time.Hour {
		t.Errorf("default RateLimit.PasswordReset.Window = %v, want 1h", cfg.RateLimit.PasswordReset.Window)
	}
	if !cfg.Security.BruteForce.Enabled {
		t.Error("default Security.BruteForce.Enabled = false, want true")
	}
	if cfg.Security.BruteForce.MaxAttempts != 5 {
		t.Errorf("default BruteForce.MaxAttempts = %d, want 5", cfg.Security.BruteForce.MaxAttempts)
	}
	if cfg.Telemetry.Metrics.PrometheusPort != 9090 {
		t.Errorf("default PrometheusPort = %d, want 9090", cfg.Telemetry.Metrics.PrometheusPort)
	}
	if cfg.Notifications.Enabled {
		t.Error("default Notifications.Enabled = true, want false")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASS", "mysecret")
	const content = `
server:
  port: 8080
  base_url: "http://localhost:8080"
database:
  host: "localhost"
  name: "accountd"
  user: "accountd"
  password: "${TEST_DB_PASS}"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "mysecret" {
		t.Errorf("Database.Password = %q, want mysecret", cfg.Database.Password)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	t.Setenv("ACCT_DATABASE_HOST", "env-db-host")
	const content = `
server:
  port: 8080
  base_url: "http://localhost:8080"
database:
  host: "file-db-host"
  name: "accountd"
  user: "accountd"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Host != "env-db-host" {
		t.Errorf("Database.Host = %q, want env var to win over the file", cfg.Database.Host)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unclosed")
	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	const content = `
server:
  port: 8080
  base_url: "http://localhost:8080"
database:
  host: "localhost"
  name: "accountd"
  user: "accountd"
logging:
  level: "verbose"
`
	path := writeTempConfig(t, content)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Load() = %v, want invalid configuration error", err)
	}
}
