// Package hostconfig models the host's on-disk config file format, which
// RoutingReconciler writes and OwnershipDoctor reads (spec.md §6).
package hostconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Peer identifies a Slack channel or user a Binding targets.
type Peer struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Match scopes a Binding to a channel and peer.
type Match struct {
	Channel   string `json:"channel"`
	AccountID string `json:"accountId,omitempty"`
	Peer      Peer   `json:"peer"`
}

// Binding is one row of the host config's top-level bindings array.
type Binding struct {
	AgentID string `json:"agentId"`
	Match   Match  `json:"match"`
}

// SandboxConfig configures an agent's sandboxing.
type SandboxConfig struct {
	Mode string `json:"mode"`
}

// Agent is one entry in the host config's agents.list array.
type Agent struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Model   string         `json:"model,omitempty"`
	Sandbox SandboxConfig `json:"sandbox"`
}

// AgentDefaults holds the agents.defaults sub-object.
type AgentDefaults struct {
	Model struct {
		Primary string `json:"primary,omitempty"`
	} `json:"model"`
}

// Agents is the host config's top-level agents object.
type Agents struct {
	List     []Agent       `json:"list"`
	Defaults AgentDefaults `json:"defaults"`
}

// SlackChannelConfig configures one channel within a Slack account.
type SlackChannelConfig struct {
	RequireMention bool `json:"requireMention"`
}

// SlackAccountConfig configures one Slack account's signing/transport settings.
type SlackAccountConfig struct {
	SigningSecret string                         `json:"signingSecret,omitempty"`
	Mode          string                         `json:"mode,omitempty"`
	WebhookPath   string                         `json:"webhookPath,omitempty"`
	Channels      map[string]SlackChannelConfig `json:"channels,omitempty"`
}

// SlackConfig is the channels.slack sub-object.
type SlackConfig struct {
	Accounts map[string]SlackAccountConfig `json:"accounts"`
}

// Channels is the host config's top-level channels object.
type Channels struct {
	Slack SlackConfig `json:"slack"`
}

// Config is the full host config file.
type Config struct {
	Bindings []Binding `json:"bindings"`
	Agents   Agents    `json:"agents"`
	Channels Channels  `json:"channels"`
}

// Load reads and parses the host config file at path. A missing file
// yields an empty Config, not an error (mirrors TalkStore's "missing file
// reads as empty" policy).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Agents: Agents{}, Channels: Channels{Slack: SlackConfig{Accounts: map[string]SlackAccountConfig{}}}}, nil
		}
		return nil, fmt.Errorf("hostconfig: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("hostconfig: parse %s: %w", path, err)
	}
	if cfg.Channels.Slack.Accounts == nil {
		cfg.Channels.Slack.Accounts = map[string]SlackAccountConfig{}
	}
	return &cfg, nil
}

// Save serializes cfg and writes it via temp-then-rename, skipping the
// write entirely if the serialized form is byte-identical to what's on
// disk (spec.md §4.10 step 8).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("hostconfig: marshal: %w", err)
	}
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("hostconfig: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-hostconfig-*")
	if err != nil {
		return fmt.Errorf("hostconfig: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("hostconfig: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("hostconfig: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("hostconfig: rename: %w", err)
	}
	return nil
}
