package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config validation errors.
var (
	ErrEmptyRoot       = errors.New("assets.root must not be empty")
	ErrInvalidWindow   = errors.New("assets.throttle_window must be positive")
	ErrInvalidBuffer   = errors.New("assets.subscriber_buffer must be at least 1")
	ErrInvalidImageExt = errors.New("assets.image_extensions entries must start with '.'")
)

// Load loads configuration with priority: defaults < file < flags.
func Load() (*Config, error) {
	cfg := Default()

	// Explicit path takes priority
	configPath := ConfigPath()
	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
		}
	}

	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the asset manager misbehave.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Assets.Root) == "" {
		return ErrEmptyRoot
	}
	if c.Assets.ThrottleWindow <= 0 {
		return ErrInvalidWindow
	}
	if c.Assets.SubscriberBuffer < 1 {
		return ErrInvalidBuffer
	}
	for _, ext := range c.Assets.ImageExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("%w: %q", ErrInvalidImageExt, ext)
		}
	}
	return nil
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		filepath.Join(ConfigDir(), "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "ObjWatch")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "ObjWatch")
	default: // Linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "objwatch")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "objwatch")
	}
}

// loadFromFile loads config from a YAML file, merging with existing values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
