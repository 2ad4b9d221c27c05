package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/blelight/internal/ble"
)

// Config holds all application configuration.
type Config struct {
	Device    DeviceConfig  `yaml:"device"`
	Scan      ScanConfig    `yaml:"scan"`
	Connect   ConnectConfig `yaml:"connect"`
	Write     WriteConfig   `yaml:"write"`
	Bluez     BluezConfig   `yaml:"bluez"`
	Metrics   MetricsConfig `yaml:"metrics"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // "text" or "json"
}

// DeviceConfig identifies the peripheral and its color characteristic.
type DeviceConfig struct {
	Name               string `yaml:"name"`
	ServiceUUID        string `yaml:"service_uuid"`
	CharacteristicUUID string `yaml:"characteristic_uuid"`
}

// ScanConfig holds discovery settings.
type ScanConfig struct {
	Timeout time.Duration `yaml:"timeout"` // 0 scans until cancelled
}

// ConnectConfig holds connection settings.
type ConnectConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// WriteConfig tunes the color write pipeline.
type WriteConfig struct {
	SettleDelay time.Duration `yaml:"settle_delay"`
	MaxRate     float64       `yaml:"max_rate"` // writes per second, 0 = unlimited
}

// BluezConfig holds Linux-only settings.
type BluezConfig struct {
	Adapter string `yaml:"adapter"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blelight")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:               ble.DeviceName,
			ServiceUUID:        ble.ServiceUUID,
			CharacteristicUUID: ble.ColorCharUUID,
		},
		Connect: ConnectConfig{
			Timeout: 15 * time.Second,
		},
		Write: WriteConfig{
			SettleDelay: 20 * time.Millisecond,
		},
		Bluez: BluezConfig{
			Adapter: "hci0",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return fmt.Errorf("device.name must not be empty")
	}
	if _, err := uuid.Parse(c.Device.ServiceUUID); err != nil {
		return fmt.Errorf("device.service_uuid %q: %w", c.Device.ServiceUUID, err)
	}
	if _, err := uuid.Parse(c.Device.CharacteristicUUID); err != nil {
		return fmt.Errorf("device.characteristic_uuid %q: %w", c.Device.CharacteristicUUID, err)
	}

	if c.Scan.Timeout < 0 {
		return fmt.Errorf("scan.timeout must be >= 0")
	}
	if c.Connect.Timeout < 0 {
		return fmt.Errorf("connect.timeout must be >= 0")
	}
	if c.Write.SettleDelay < 0 {
		return fmt.Errorf("write.settle_delay must be >= 0")
	}
	if c.Write.MaxRate < 0 {
		return fmt.Errorf("write.max_rate must be >= 0")
	}

	if c.Bluez.Adapter == "" {
		return fmt.Errorf("bluez.adapter must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	return nil
}

const defaultHeader = "# blelight configuration\n# Durations use Go syntax (20ms, 15s). See the README for every key.\n\n"

// WriteDefault writes the default config to DefaultConfigPath. If the
// file already exists it does nothing and returns ("", nil).
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
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
