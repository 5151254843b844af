package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.CredentialsPath == "" {
		t.Error("expected non-empty default credentials path")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestDefaultTimeouts(t *testing.T) {
	ts := DefaultTimeouts()

	if ts.BleConnectRetries != 3 {
		t.Errorf("expected 3 BLE connect retries, got %d", ts.BleConnectRetries)
	}
	if ts.HTTPReadyMaxRetries != 12 {
		t.Errorf("expected 12 readiness retries, got %d", ts.HTTPReadyMaxRetries)
	}
	if ts.HTTPReadyFatalThreshold < ts.HTTPReadyTimeoutThreshold {
		t.Error("fatal threshold must not be below warning threshold")
	}
	if ts.WifiProvisionTimeout != 60*time.Second {
		t.Errorf("expected 60s provision timeout, got %s", ts.WifiProvisionTimeout)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
credentials_path: /tmp/test-creds.db
log_level: debug
timeouts:
  ble_connect_timeout: 30s
  http_ready_max_retries: 20
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.CredentialsPath != "/tmp/test-creds.db" {
		t.Errorf("credentials path = %q", cfg.CredentialsPath)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.Timeouts.BleConnectTimeout != 30*time.Second {
		t.Errorf("ble connect timeout = %s", cfg.Timeouts.BleConnectTimeout)
	}
	if cfg.Timeouts.HTTPReadyMaxRetries != 20 {
		t.Errorf("ready max retries = %d", cfg.Timeouts.HTTPReadyMaxRetries)
	}

	// Unset fields keep their defaults.
	if cfg.Timeouts.BleWriteTimeout != 10*time.Second {
		t.Errorf("ble write timeout should default to 10s, got %s", cfg.Timeouts.BleWriteTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("timeouts: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"empty credentials path", func(c *Config) { c.CredentialsPath = "" }, true},
		{"zero ble write timeout", func(c *Config) { c.Timeouts.BleWriteTimeout = 0 }, true},
		{"negative poll interval", func(c *Config) { c.Timeouts.CohnStatusPollInterval = -time.Second }, true},
		{"zero connect retries", func(c *Config) { c.Timeouts.BleConnectRetries = 0 }, true},
		{"zero ready retries", func(c *Config) { c.Timeouts.HTTPReadyMaxRetries = 0 }, true},
		{"fatal below warning threshold", func(c *Config) {
			c.Timeouts.HTTPReadyTimeoutThreshold = 6
			c.Timeouts.HTTPReadyFatalThreshold = 4
		}, true},
		{"zero ip wait attempts", func(c *Config) { c.Timeouts.IPWaitMaxAttempts = 0 }, true},
		{"zero reconnect attempts", func(c *Config) { c.Timeouts.MaxReconnectAttempts = 0 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"warn log level", func(c *Config) { c.LogLevel = "warn" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}

	got := expandTilde("~/creds.db")
	want := filepath.Join(home, "creds.db")
	if got != want {
		t.Errorf("expandTilde = %q, want %q", got, want)
	}

	if got := expandTilde("/abs/path.db"); got != "/abs/path.db" {
		t.Errorf("absolute path should pass through, got %q", got)
	}
}
