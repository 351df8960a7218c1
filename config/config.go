package config

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTransport = "auto"
	DefaultWebPort   = 8080
	DefaultLogLevel  = "info"
)

// Config holds meshwatch settings loaded from the optional YAML file.
// Command-line flags override anything set here.
type Config struct {
	Transport string     `yaml:"transport"` // auto, serial, tcp or ble
	Device    string     `yaml:"device"`    // serial port path
	Host      string     `yaml:"host"`      // address of a networked node
	BLEName   string     `yaml:"ble_name"`  // BLE peripheral name
	LogLevel  string     `yaml:"log_level"`
	Web       *WebConfig `yaml:"web,omitempty"`
}

// WebConfig configures the optional web dashboard.
type WebConfig struct {
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

// DefaultPath returns the standard location of the config file.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "meshwatch.yaml"
	}
	return filepath.Join(dir, "meshwatch", "config.yaml")
}

// Load reads and parses a YAML config file. A missing file is not an
// error and yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var cfg Config
			ApplyDefaults(&cfg)
			return cfg, nil
		}
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	switch cfg.Transport {
	case "auto", "serial", "tcp", "ble":
	default:
		return fmt.Errorf("transport must be auto, serial, tcp or ble, got %q", cfg.Transport)
	}
	if cfg.Transport == "serial" && cfg.Device == "" {
		return fmt.Errorf("device is required when transport is serial")
	}
	if cfg.Transport == "tcp" && cfg.Host == "" {
		return fmt.Errorf("host is required when transport is tcp")
	}
	if cfg.Transport == "ble" && cfg.BLEName == "" {
		return fmt.Errorf("ble_name is required when transport is ble")
	}
	if cfg.LogLevel != "" {
		if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	if cfg.Web != nil && (cfg.Web.Port < 1 || cfg.Web.Port > 65535) {
		return fmt.Errorf("web.port must be between 1 and 65535, got %d", cfg.Web.Port)
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Transport == "" {
		cfg.Transport = DefaultTransport
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.Web != nil && cfg.Web.Port == 0 {
		cfg.Web.Port = DefaultWebPort
	}
}
