package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMasterConfigDefaults(t *testing.T) {
	t.Setenv("MASTER_API_KEY", "k")

	cfg, err := LoadMasterConfig()
	if err != nil {
		t.Fatalf("LoadMasterConfig failed: %v", err)
	}
	if cfg.HTTPPort != "8085" || cfg.DBDriver != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DBDSN != "data/master.db" {
		t.Fatalf("expected sqlite default dsn, got %q", cfg.DBDSN)
	}
	if cfg.LoginFailThreshold != 5 || cfg.LockoutMinutes != 30 {
		t.Fatalf("unexpected session defaults: %+v", cfg)
	}
	if cfg.LockoutDuration() != 30*time.Minute {
		t.Fatalf("unexpected lockout duration: %v", cfg.LockoutDuration())
	}
	if cfg.SessionTTL() != time.Hour || cfg.RetryDelay() != time.Second {
		t.Fatalf("unexpected durations: ttl=%v delay=%v", cfg.SessionTTL(), cfg.RetryDelay())
	}
}

func TestLoadMasterConfigRequiresAPIKey(t *testing.T) {
	os.Unsetenv("MASTER_API_KEY")
	if _, err := LoadMasterConfig(); err == nil {
		t.Fatalf("expected error without API key")
	}
}

func TestLoadMasterConfigFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.toml")
	content := `
http_port = "9000"
api_key = "from-file"
sync_workers = 8
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("MASTER_CONFIG_FILE", path)
	t.Setenv("MASTER_HTTP_PORT", "9100")

	cfg, err := LoadMasterConfig()
	if err != nil {
		t.Fatalf("LoadMasterConfig failed: %v", err)
	}
	if cfg.HTTPPort != "9100" {
		t.Fatalf("environment must override file, got %q", cfg.HTTPPort)
	}
	if cfg.APIKey != "from-file" || cfg.SyncWorkers != 8 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadMasterConfigRequiresDSNForExternalDB(t *testing.T) {
	t.Setenv("MASTER_API_KEY", "k")
	t.Setenv("MASTER_DB_DRIVER", "mysql")
	os.Unsetenv("MASTER_DB_DSN")

	if _, err := LoadMasterConfig(); err == nil {
		t.Fatalf("expected error for mysql without dsn")
	}
}
