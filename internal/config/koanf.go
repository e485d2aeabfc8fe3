// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"trackgate.yaml",
	"trackgate.yml",
	"/etc/trackgate/config.yaml",
	"/etc/trackgate/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "TRACKGATE_CONFIG"

// envPrefix namespaces all Trackgate environment variables.
const envPrefix = "TRACKGATE_"

// Load builds the configuration from layered sources:
//  1. Defaults: Default()
//  2. Config file: optional YAML file (if found)
//  3. Environment variables: highest priority (TRACKGATE_ prefix)
//
// The result is validated before being returned.
func Load() (*Config, error) {
	return loadFrom(findConfigFile())
}

// LoadFile builds the configuration from a specific YAML file plus
// environment overrides. The file must exist.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return loadFrom(path)
}

func loadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// Layer 2: optional config file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables
	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envMappings maps TRACKGATE_ environment variables (lowercased, prefix
// stripped) to koanf config paths. Underscores inside key names make a
// generic transform ambiguous, so the mapping is explicit.
var envMappings = map[string]string{
	"server_url":      "server.url",
	"server_username": "server.username",
	"server_password": "server.password",
	"server_token":    "server.token",
	"server_timeout":  "server.timeout",

	"ratelimit_max_requests":   "ratelimit.max_requests",
	"ratelimit_time_window":    "ratelimit.time_window",
	"ratelimit_queue_requests": "ratelimit.queue_requests",
	"ratelimit_max_queue_size": "ratelimit.max_queue_size",
	"ratelimit_retry_delay":    "ratelimit.retry_delay",

	"batch_enabled":        "batch.enabled",
	"batch_max_batch_size": "batch.max_batch_size",
	"batch_max_wait_time":  "batch.max_wait_time",

	"cache_backend":      "cache.backend",
	"cache_path":         "cache.path",
	"cache_default_ttl":  "cache.default_ttl",
	"cache_max_size":     "cache.max_size",
	"cache_offline_mode": "cache.offline_mode",

	"retry_max_retries": "retry.max_retries",
	"retry_retry_delay": "retry.retry_delay",

	"push_auto_reconnect":         "push.auto_reconnect",
	"push_max_reconnect_attempts": "push.max_reconnect_attempts",
	"push_reconnect_delay":        "push.reconnect_delay",
	"push_heartbeat_interval":     "push.heartbeat_interval",

	"breaker_enabled":      "breaker.enabled",
	"breaker_max_requests": "breaker.max_requests",
	"breaker_interval":     "breaker.interval",
	"breaker_timeout":      "breaker.timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
}

// envTransformFunc maps an environment variable name to its koanf path.
// Unmapped variables are dropped so unrelated TRACKGATE_* vars cannot
// corrupt nested keys.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if path, ok := envMappings[key]; ok {
		return path
	}
	return ""
}
