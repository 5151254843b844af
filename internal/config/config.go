// Package config holds the client configuration, most importantly the
// timeout/retry bundle injected into every component that waits on the
// camera. Nothing in the connection stack hard-codes a duration; it all
// comes from here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all client configuration.
type Config struct {
	// CredentialsPath is the SQLite file holding per-camera COHN credentials.
	CredentialsPath string `yaml:"credentials_path"`

	Timeouts TimeoutConfig `yaml:"timeouts"`
	LogLevel string        `yaml:"log_level"`
}

// TimeoutConfig is the immutable bundle of timeouts, poll intervals and
// retry counts governing every wait in the connection stack.
type TimeoutConfig struct {
	// BLE link.
	BleWriteTimeout     time.Duration `yaml:"ble_write_timeout"`
	BleReadTimeout      time.Duration `yaml:"ble_read_timeout"`
	BleDiscoveryTimeout time.Duration `yaml:"ble_discovery_timeout"`
	BleResponseTimeout  time.Duration `yaml:"ble_response_timeout"`
	BleConnectTimeout   time.Duration `yaml:"ble_connect_timeout"`
	BleConnectRetries   int           `yaml:"ble_connect_retries"`

	// HTTP session.
	HTTPRequestTimeout      time.Duration `yaml:"http_request_timeout"`
	HTTPDownloadTimeout     time.Duration `yaml:"http_download_timeout"`
	HTTPKeepAliveTimeout    time.Duration `yaml:"http_keep_alive_timeout"`
	HTTPInitialCheckTimeout time.Duration `yaml:"http_initial_check_timeout"`

	// HTTP readiness probe.
	HTTPReadyMaxRetries       int           `yaml:"http_ready_max_retries"`
	HTTPReadyRetryInterval    time.Duration `yaml:"http_ready_retry_interval"`
	HTTPReadyTimeoutThreshold int           `yaml:"http_ready_timeout_threshold"`
	HTTPReadyFatalThreshold   int           `yaml:"http_ready_fatal_threshold"`

	// WiFi association.
	WifiScanTimeout         time.Duration `yaml:"wifi_scan_timeout"`
	WifiConnectKnownTimeout time.Duration `yaml:"wifi_connect_known_timeout"`
	WifiProvisionTimeout    time.Duration `yaml:"wifi_provision_timeout"`

	// COHN provisioning.
	CohnWaitProvisionedTimeout time.Duration `yaml:"cohn_wait_provisioned_timeout"`
	CohnStatusPollInterval     time.Duration `yaml:"cohn_status_poll_interval"`

	// IP refresh after a network change.
	IPWaitMaxAttempts int           `yaml:"ip_wait_max_attempts"`
	IPWaitInterval    time.Duration `yaml:"ip_wait_interval"`

	// Reconnect loop.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "goprolink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultTimeouts returns the timeout bundle with production defaults.
// The values mirror observed camera behavior: certificate generation plus
// WiFi association routinely takes tens of seconds, while command acks
// arrive within a couple hundred milliseconds.
func DefaultTimeouts() TimeoutConfig {
	return TimeoutConfig{
		BleWriteTimeout:     10 * time.Second,
		BleReadTimeout:      10 * time.Second,
		BleDiscoveryTimeout: 5 * time.Second,
		BleResponseTimeout:  5 * time.Second,
		BleConnectTimeout:   20 * time.Second,
		BleConnectRetries:   3,

		HTTPRequestTimeout:      30 * time.Second,
		HTTPDownloadTimeout:     300 * time.Second,
		HTTPKeepAliveTimeout:    8 * time.Second,
		HTTPInitialCheckTimeout: 2 * time.Second,

		HTTPReadyMaxRetries:       12,
		HTTPReadyRetryInterval:    1500 * time.Millisecond,
		HTTPReadyTimeoutThreshold: 4,
		HTTPReadyFatalThreshold:   6,

		WifiScanTimeout:         10 * time.Second,
		WifiConnectKnownTimeout: 15 * time.Second,
		WifiProvisionTimeout:    60 * time.Second,

		CohnWaitProvisionedTimeout: 45 * time.Second,
		CohnStatusPollInterval:     time.Second,

		IPWaitMaxAttempts: 5,
		IPWaitInterval:    3 * time.Second,

		MaxReconnectAttempts: 3,
	}
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		CredentialsPath: filepath.Join(home, ".local", "share", "goprolink", "cohn_credentials.db"),
		Timeouts:        DefaultTimeouts(),
		LogLevel:        "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in credentials_path is expanded to the user's
// home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.CredentialsPath = expandTilde(cfg.CredentialsPath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.CredentialsPath == "" {
		return fmt.Errorf("credentials_path must not be empty")
	}

	t := c.Timeouts
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"ble_write_timeout", t.BleWriteTimeout},
		{"ble_read_timeout", t.BleReadTimeout},
		{"ble_discovery_timeout", t.BleDiscoveryTimeout},
		{"ble_response_timeout", t.BleResponseTimeout},
		{"ble_connect_timeout", t.BleConnectTimeout},
		{"http_request_timeout", t.HTTPRequestTimeout},
		{"http_keep_alive_timeout", t.HTTPKeepAliveTimeout},
		{"wifi_scan_timeout", t.WifiScanTimeout},
		{"wifi_connect_known_timeout", t.WifiConnectKnownTimeout},
		{"wifi_provision_timeout", t.WifiProvisionTimeout},
		{"cohn_wait_provisioned_timeout", t.CohnWaitProvisionedTimeout},
		{"cohn_status_poll_interval", t.CohnStatusPollInterval},
		{"ip_wait_interval", t.IPWaitInterval},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("timeouts.%s must be > 0", p.name)
		}
	}

	if t.BleConnectRetries < 1 {
		return fmt.Errorf("timeouts.ble_connect_retries must be >= 1")
	}
	if t.HTTPReadyMaxRetries < 1 {
		return fmt.Errorf("timeouts.http_ready_max_retries must be >= 1")
	}
	if t.HTTPReadyFatalThreshold < t.HTTPReadyTimeoutThreshold {
		return fmt.Errorf("timeouts.http_ready_fatal_threshold must be >= http_ready_timeout_threshold")
	}
	if t.IPWaitMaxAttempts < 1 {
		return fmt.Errorf("timeouts.ip_wait_max_attempts must be >= 1")
	}
	if t.MaxReconnectAttempts < 1 {
		return fmt.Errorf("timeouts.max_reconnect_attempts must be >= 1")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
