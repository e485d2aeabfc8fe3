// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

// Package config defines and loads the Trackgate configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then environment variables (highest priority). See Load in koanf.go.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root Trackgate configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Batch     BatchConfig     `koanf:"batch"`
	Cache     CacheConfig     `koanf:"cache"`
	Retry     RetryConfig     `koanf:"retry"`
	Push      PushConfig      `koanf:"push"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig identifies the remote tracking server and credentials.
// Either Token or Username+Password must be set; Token wins when both are.
type ServerConfig struct {
	URL      string        `koanf:"url"      validate:"required,url"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	Token    string        `koanf:"token"`
	Timeout  time.Duration `koanf:"timeout"`
}

// RateLimitConfig controls the sliding-window admission limiter.
type RateLimitConfig struct {
	// MaxRequests is the number of requests admitted per TimeWindow.
	// Zero rejects everything (useful for draining).
	MaxRequests int `koanf:"max_requests" validate:"gte=0"`

	// TimeWindow is the trailing window duration. Must be positive.
	TimeWindow time.Duration `koanf:"time_window" validate:"required"`

	// QueueRequests enables the FIFO wait queue instead of immediate
	// rejection when the window is full.
	QueueRequests bool `koanf:"queue_requests"`

	// MaxQueueSize bounds the wait queue; zero means unbounded.
	MaxQueueSize int `koanf:"max_queue_size" validate:"gte=0"`

	// RetryDelay is the interval at which queued tickets are re-checked
	// against the window.
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// BatchConfig controls request coalescing.
type BatchConfig struct {
	Enabled      bool          `koanf:"enabled"`
	MaxBatchSize int           `koanf:"max_batch_size" validate:"gte=0"`
	MaxWaitTime  time.Duration `koanf:"max_wait_time"`

	// BatchableEndpoints restricts coalescing to paths with one of these
	// prefixes. Empty means every bodiless GET is batchable.
	BatchableEndpoints []string `koanf:"batchable_endpoints"`
}

// CacheConfig controls the read-through response cache.
type CacheConfig struct {
	// Backend selects the store implementation: "memory" or "badger".
	Backend string `koanf:"backend" validate:"omitempty,oneof=memory badger"`

	// Path is the badger database directory (badger backend only).
	Path string `koanf:"path"`

	DefaultTTL time.Duration `koanf:"default_ttl"`

	// MaxSize is the total payload size ceiling in bytes; oldest entries
	// are evicted first once exceeded. Zero disables size eviction.
	MaxSize int64 `koanf:"max_size" validate:"gte=0"`

	// OfflineMode serves fresh entries without a network call and stale
	// entries as a last resort on connectivity failure.
	OfflineMode bool `koanf:"offline_mode"`

	// EndpointTTLs overrides DefaultTTL per path prefix; the longest
	// matching prefix wins.
	EndpointTTLs map[string]time.Duration `koanf:"endpoint_ttls"`
}

// RetryConfig controls replay of failed attempts.
type RetryConfig struct {
	MaxRetries       int           `koanf:"max_retries" validate:"gte=0"`
	RetryDelay       time.Duration `koanf:"retry_delay"`
	RetryStatusCodes []int         `koanf:"retry_status_codes"`
}

// PushConfig controls the WebSocket push channel.
type PushConfig struct {
	AutoReconnect        bool          `koanf:"auto_reconnect"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts" validate:"gte=0"`
	ReconnectDelay       time.Duration `koanf:"reconnect_delay"`
	HeartbeatInterval    time.Duration `koanf:"heartbeat_interval"`
}

// BreakerConfig controls the circuit breaker around the transport.
type BreakerConfig struct {
	Enabled     bool          `koanf:"enabled"`
	MaxRequests uint32        `koanf:"max_requests"`
	Interval    time.Duration `koanf:"interval"`
	Timeout     time.Duration `koanf:"timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"  validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// Default returns a Config with all defaults applied. These are overridden
// by config file values and environment variables during Load.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Timeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   60,
			TimeWindow:    time.Minute,
			QueueRequests: true,
			MaxQueueSize:  100,
			RetryDelay:    250 * time.Millisecond,
		},
		Batch: BatchConfig{
			Enabled:      true,
			MaxBatchSize: 10,
			MaxWaitTime:  50 * time.Millisecond,
		},
		Cache: CacheConfig{
			Backend:    "memory",
			DefaultTTL: 5 * time.Minute,
			MaxSize:    32 << 20, // 32MB
		},
		Retry: RetryConfig{
			MaxRetries:       3,
			RetryDelay:       time.Second,
			RetryStatusCodes: []int{502, 503, 504, 408, 429},
		},
		Push: PushConfig{
			AutoReconnect:        true,
			MaxReconnectAttempts: 10,
			ReconnectDelay:       5 * time.Second,
			HeartbeatInterval:    30 * time.Second,
		},
		Breaker: BreakerConfig{
			Enabled:     true,
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks structural validity (tags) and cross-field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.RateLimit.TimeWindow <= 0 {
		return fmt.Errorf("ratelimit.time_window must be positive, got %v", c.RateLimit.TimeWindow)
	}
	if c.RateLimit.QueueRequests && c.RateLimit.RetryDelay <= 0 {
		return fmt.Errorf("ratelimit.retry_delay must be positive when queuing is enabled")
	}
	if c.Batch.Enabled {
		if c.Batch.MaxBatchSize < 1 {
			return fmt.Errorf("batch.max_batch_size must be at least 1, got %d", c.Batch.MaxBatchSize)
		}
		if c.Batch.MaxWaitTime <= 0 {
			return fmt.Errorf("batch.max_wait_time must be positive, got %v", c.Batch.MaxWaitTime)
		}
	}
	if c.Cache.Backend == "badger" && c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required for the badger backend")
	}
	if c.Server.Token == "" && (c.Server.Username == "" || c.Server.Password == "") {
		return fmt.Errorf("server credentials required: set server.token or server.username and server.password")
	}
	if c.Retry.MaxRetries > 0 && c.Retry.RetryDelay <= 0 {
		return fmt.Errorf("retry.retry_delay must be positive when retries are enabled")
	}
	if c.Push.AutoReconnect && c.Push.ReconnectDelay <= 0 {
		return fmt.Errorf("push.reconnect_delay must be positive when auto reconnect is enabled")
	}

	return nil
}

// RetryStatusSet returns the configured retryable statuses as a lookup set.
func (c *Config) RetryStatusSet() map[int]bool {
	set := make(map[int]bool, len(c.Retry.RetryStatusCodes))
	for _, code := range c.Retry.RetryStatusCodes {
		set[code] = true
	}
	return set
}
