// Package config loads ClawTalkGateway's YAML configuration, applying
// .env-file and environment-variable overrides the way the host loads its
// own assistant config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/affinity"
)

// SlackAccount configures one Slack workspace's signing secret and webhook.
type SlackAccount struct {
	SigningSecret string `yaml:"signing_secret"`
	WebhookURL    string `yaml:"webhook_url"`
	Mode          string `yaml:"mode"`
}

// Config is ClawTalkGateway's top-level configuration.
type Config struct {
	DataDir        string                  `yaml:"data_dir"`
	HostConfigPath string                  `yaml:"host_config_path"`
	HostHTTPPort   int                     `yaml:"host_http_port"`
	DefaultModel   string                  `yaml:"default_model"`
	SlackAccounts  map[string]SlackAccount `yaml:"slack_accounts"`
	Affinity       AffinityConfig          `yaml:"affinity"`
	EventDebounceMs int                    `yaml:"event_debounce_ms"`
}

// AffinityConfig mirrors affinity.Config with YAML tags and the
// CLAWTALK_AFFINITY_* environment overrides spec.md §6 names.
type AffinityConfig struct {
	Warmup        int     `yaml:"warmup"`
	Window        int     `yaml:"window"`
	ExplorationRate int   `yaml:"exploration_rate"`
	MinThreshold  float64 `yaml:"min_threshold"`
	Enabled       bool    `yaml:"enabled"`
}

// DefaultConfig seeds every optional field before YAML/env overlays apply.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:         filepath.Join(home, ".clawtalk-gateway"),
		HostConfigPath:  filepath.Join(home, ".clawtalk-gateway", "host-config.json"),
		HostHTTPPort:    8085,
		SlackAccounts:   map[string]SlackAccount{},
		EventDebounceMs: 30_000,
		Affinity: AffinityConfig{
			Warmup:          3,
			Window:          50,
			ExplorationRate: 20,
			MinThreshold:    0.1,
			Enabled:         true,
		},
	}
}

// Load reads path (if present), applies .env + environment overrides, and
// returns the resulting Config. A missing file is not an error: defaults
// plus environment overrides are used (spec.md §6's "each overrides
// same-named config field").
func Load(path string) (*Config, error) {
	loadEnvFiles()

	cfg := DefaultConfig()
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOME"); v != "" && cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(v, ".clawtalk-gateway")
	}
	if v := os.Getenv("OPENCLAW_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HostHTTPPort = n
		}
	}
	if v := os.Getenv("CLAWTALK_AFFINITY_WARMUP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Affinity.Warmup = n
		}
	}
	if v := os.Getenv("CLAWTALK_AFFINITY_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Affinity.Window = n
		}
	}
	if v := os.Getenv("CLAWTALK_AFFINITY_EXPLORATION_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Affinity.ExplorationRate = n
		}
	}
	if v := os.Getenv("CLAWTALK_AFFINITY_MIN_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Affinity.MinThreshold = f
		}
	}
	if v := os.Getenv("CLAWTALK_AFFINITY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Affinity.Enabled = b
		}
	}
	if v := os.Getenv("GATEWAY_SLACK_OPENCLAW_WEBHOOK_URL"); v != "" {
		acct := cfg.SlackAccounts["default"]
		acct.WebhookURL = v
		cfg.SlackAccounts["default"] = acct
	}
}

// AffinityStoreConfig converts the loaded AffinityConfig into affinity.Config.
func (c *Config) AffinityStoreConfig() affinity.Config {
	return affinity.Config{
		WarmupThreshold:       c.Affinity.Warmup,
		ExplorationRate:       c.Affinity.ExplorationRate,
		MinAffinityThreshold:  c.Affinity.MinThreshold,
		SlidingWindowSize:     c.Affinity.Window,
		BaseTimeoutMs:         240_000,
		Enabled:               c.Affinity.Enabled,
	}
}
