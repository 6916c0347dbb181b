// Package config loads the hub server's YAML configuration, following the
// reference broker's load-then-default pattern: unmarshal into zero values,
// then fill in defaults for the string and numeric fields left unset.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the flockhubd server process.
type Config struct {
	AppName string `yaml:"app_name"`
	Debug   bool   `yaml:"debug"`

	TCP       TCPConfig       `yaml:"tcp"`
	WebSocket WebSocketConfig `yaml:"websocket"`

	Queue     QueueConfig     `yaml:"queue"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// TCPConfig configures the line-delimited JSON TCP listener.
type TCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// WebSocketConfig configures the gorilla/websocket listener.
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// QueueConfig tunes the hub's outbound queue.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// RateLimitConfig tunes the two built-in rate limiters.
type RateLimitConfig struct {
	BatchDelayMillis   int `yaml:"batch_delay_millis"`
	SettleWindowMillis int `yaml:"settle_window_millis"`
}

// Load reads and parses filename, then fills in defaults for the string and
// numeric fields the file left unset. The debug and enabled flags are not
// defaulted: a flag the file omits stays false.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if cfg.Queue.Capacity < 0 {
		return nil, fmt.Errorf("queue capacity cannot be negative: %d", cfg.Queue.Capacity)
	}
	if cfg.RateLimit.BatchDelayMillis < 0 {
		return nil, fmt.Errorf("rate_limit.batch_delay_millis cannot be negative: %d", cfg.RateLimit.BatchDelayMillis)
	}
	if cfg.RateLimit.SettleWindowMillis < 0 {
		return nil, fmt.Errorf("rate_limit.settle_window_millis cannot be negative: %d", cfg.RateLimit.SettleWindowMillis)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AppName == "" {
		c.AppName = "flockhubd"
	}
	if c.TCP.Addr == "" {
		c.TCP.Addr = ":9001"
	}
	if c.WebSocket.Addr == "" {
		c.WebSocket.Addr = ":9002"
	}
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = "/"
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 4096
	}
	if c.RateLimit.BatchDelayMillis == 0 {
		c.RateLimit.BatchDelayMillis = 100
	}
	if c.RateLimit.SettleWindowMillis == 0 {
		c.RateLimit.SettleWindowMillis = 100
	}
}
