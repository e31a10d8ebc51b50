// Package config handles asset server configuration loading and management.
package config

import "time"

// Config holds all server settings.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Assets  AssetsConfig  `yaml:"assets"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP and websocket settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadBuffer     int           `yaml:"read_buffer"`     // Websocket read buffer, bytes
	WriteBuffer    int           `yaml:"write_buffer"`    // Websocket write buffer, bytes
	AllowedOrigins []string      `yaml:"allowed_origins"` // Empty allows any origin
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// AssetsConfig holds asset discovery and refresh settings.
type AssetsConfig struct {
	Root             string        `yaml:"root"`              // Directory scanned for assets
	ThrottleWindow   time.Duration `yaml:"throttle_window"`   // Change coalescing window
	ImageExtensions  []string      `yaml:"image_extensions"`  // Files delivered as image textures
	SubscriberBuffer int           `yaml:"subscriber_buffer"` // Queued updates per subscriber
	DedupeFetches    bool          `yaml:"dedupe_fetches"`    // Share concurrent fetches of one asset
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
	JSON    bool   `yaml:"json"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":3000",
			ReadBuffer:   4096,
			WriteBuffer:  64 * 1024,
			PingInterval: 30 * time.Second,
			WriteTimeout: 40 * time.Second,
		},
		Assets: AssetsConfig{
			Root:             "public/assets",
			ThrottleWindow:   2 * time.Second,
			ImageExtensions:  []string{".jpeg"},
			SubscriberBuffer: 4,
			DedupeFetches:    true,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
