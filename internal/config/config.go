package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// MasterConfig holds the runtime configuration for the master service.
// Values come from an optional TOML file (MASTER_CONFIG_FILE) with
// environment variables taking precedence.
type MasterConfig struct {
	HTTPPort    string `toml:"http_port"`
	DBDriver    string `toml:"db_driver"`
	DBDSN       string `toml:"db_dsn"`
	AutoMigrate bool   `toml:"db_auto_migrate"`
	APIKey      string `toml:"api_key"`
	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`
	Debug       bool   `toml:"debug"`

	// Panel session handling
	LoginFailThreshold int `toml:"login_fail_threshold"`
	LockoutMinutes     int `toml:"lockout_minutes"`
	SessionTTLMinutes  int `toml:"session_ttl_minutes"`
	RetryDelaySeconds  int `toml:"retry_delay_seconds"`

	// Sync scheduling
	SyncWorkers int    `toml:"sync_workers"`
	SyncCron    string `toml:"sync_cron"`
	StatusCron  string `toml:"status_cron"`
}

// LoadMasterConfig builds the configuration from file and environment.
func LoadMasterConfig() (*MasterConfig, error) {
	cfg := &MasterConfig{
		HTTPPort:           "8085",
		DBDriver:           "sqlite",
		AutoMigrate:        true,
		LoginFailThreshold: 5,
		LockoutMinutes:     30,
		SessionTTLMinutes:  60,
		RetryDelaySeconds:  1,
		SyncWorkers:        4,
		SyncCron:           "@every 2m",
		StatusCron:         "@every 30s",
	}

	if path := os.Getenv("MASTER_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.HTTPPort = getenv("MASTER_HTTP_PORT", cfg.HTTPPort)
	cfg.DBDriver = getenv("MASTER_DB_DRIVER", cfg.DBDriver)
	cfg.DBDSN = getenv("MASTER_DB_DSN", cfg.DBDSN)
	cfg.AutoMigrate = getenvBool("MASTER_DB_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.APIKey = getenv("MASTER_API_KEY", cfg.APIKey)
	cfg.TLSCertFile = getenv("MASTER_TLS_CERT_FILE", cfg.TLSCertFile)
	cfg.TLSKeyFile = getenv("MASTER_TLS_KEY_FILE", cfg.TLSKeyFile)
	cfg.Debug = getenvBool("MASTER_DEBUG", cfg.Debug)
	cfg.LoginFailThreshold = getenvInt("SYNC_LOGIN_FAIL_THRESHOLD", cfg.LoginFailThreshold)
	cfg.LockoutMinutes = getenvInt("SYNC_LOCKOUT_MINUTES", cfg.LockoutMinutes)
	cfg.SessionTTLMinutes = getenvInt("SYNC_SESSION_TTL_MINUTES", cfg.SessionTTLMinutes)
	cfg.RetryDelaySeconds = getenvInt("SYNC_RETRY_DELAY", cfg.RetryDelaySeconds)
	cfg.SyncWorkers = getenvInt("SYNC_WORKERS", cfg.SyncWorkers)
	cfg.SyncCron = getenv("SYNC_CRON", cfg.SyncCron)
	cfg.StatusCron = getenv("SYNC_STATUS_CRON", cfg.StatusCron)

	if cfg.DBDriver != "sqlite" && cfg.DBDSN == "" {
		return nil, fmt.Errorf("MASTER_DB_DSN is required when using %s driver", cfg.DBDriver)
	}

	if cfg.DBDriver == "sqlite" && cfg.DBDSN == "" {
		cfg.DBDSN = "data/master.db"
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("MASTER_API_KEY must be provided")
	}

	if cfg.LoginFailThreshold <= 0 {
		return nil, fmt.Errorf("login fail threshold must be positive")
	}

	return cfg, nil
}

// LockoutDuration returns the login lockout window.
func (c *MasterConfig) LockoutDuration() time.Duration {
	return time.Duration(c.LockoutMinutes) * time.Minute
}

// SessionTTL returns how long a panel session is trusted after login.
func (c *MasterConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// RetryDelay returns the fixed delay between request attempts.
func (c *MasterConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
