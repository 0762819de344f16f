// Package config loads the shared taskmesh config.toml. Every binary reads
// the same file and picks the sections it cares about; flags override.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Registry   RegistryConfig   `toml:"registry"`
	Stream     StreamConfig     `toml:"stream"`
	Matcher    MatcherConfig    `toml:"matcher"`
	Agent      AgentConfig      `toml:"agent"`
	Classifier ClassifierConfig `toml:"classifier"`
	Raw        map[string]any   `toml:"-"`
	Path       string           `toml:"-"`
}

type RegistryConfig struct {
	Addr               string `toml:"addr"`
	DBPath             string `toml:"db_path"`
	HeartbeatTimeoutMS int    `toml:"heartbeat_timeout_ms"`
	PurgeAfterMS       int    `toml:"purge_after_ms"`
	SweepIntervalMS    int    `toml:"sweep_interval_ms"`
}

type StreamConfig struct {
	// Backend selects the log implementation: memory, redis or nats.
	Backend string `toml:"backend"`
	Redis   string `toml:"redis"`
	NATS    string `toml:"nats"`
}

type MatcherConfig struct {
	Group         string  `toml:"group"`
	Consumer      string  `toml:"consumer"`
	MinScore      float64 `toml:"min_score"`
	FallbackAgent string  `toml:"fallback_agent"`
	BatchSize     int     `toml:"batch_size"`
	BlockMS       int     `toml:"block_ms"`
}

type AgentConfig struct {
	ID                  string   `toml:"id"`
	Type                string   `toml:"type"`
	Version             string   `toml:"version"`
	Capabilities        []string `toml:"capabilities"`
	HeartbeatIntervalMS int      `toml:"heartbeat_interval_ms"`
	RegistryURL         string   `toml:"registry_url"`
}

type ClassifierConfig struct {
	AutoTune bool `toml:"auto_tune"`
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file at the default location is not an error: every
// setting has a flag or built-in default.
func Load(path string) (Config, error) {
	resolved := path
	usedDefault := false
	if resolved == "" {
		resolved = defaultConfigPath()
		usedDefault = true
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if usedDefault && os.IsNotExist(err) {
			return Config{Path: resolved}, nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(bytes), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg.Raw = raw
	cfg.Path = resolved
	return cfg, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taskmesh/config.toml"
	}
	return filepath.Join(home, ".taskmesh", "config.toml")
}
