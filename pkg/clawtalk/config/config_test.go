package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigSeedsExpectedValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.HostHTTPPort != 8085 {
		t.Fatalf("expected default port 8085, got %d", cfg.HostHTTPPort)
	}
	if cfg.EventDebounceMs != 30_000 {
		t.Fatalf("expected default debounce 30000ms, got %d", cfg.EventDebounceMs)
	}
	if cfg.Affinity.Warmup != 3 || cfg.Affinity.Window != 50 || cfg.Affinity.ExplorationRate != 20 {
		t.Fatalf("unexpected affinity defaults: %+v", cfg.Affinity)
	}
	if cfg.Affinity.MinThreshold != 0.1 || !cfg.Affinity.Enabled {
		t.Fatalf("unexpected affinity defaults: %+v", cfg.Affinity)
	}
	if cfg.SlackAccounts == nil {
		t.Fatal("expected initialized slack accounts map")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HostHTTPPort != 8085 {
		t.Fatalf("expected default port preserved, got %d", cfg.HostHTTPPort)
	}
}

func TestLoadOverlaysYAMLOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlBody := `
data_dir: /tmp/my-gateway
default_model: claude-test
slack_accounts:
  acct1:
    signing_secret: shh
    webhook_url: http://127.0.0.1:4000/slack/events
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataDir != "/tmp/my-gateway" || cfg.DefaultModel != "claude-test" {
		t.Fatalf("expected yaml overlay applied, got %+v", cfg)
	}
	if cfg.HostHTTPPort != 8085 {
		t.Fatalf("expected untouched fields to keep defaults, got %d", cfg.HostHTTPPort)
	}
	acct, ok := cfg.SlackAccounts["acct1"]
	if !ok || acct.SigningSecret != "shh" || acct.WebhookURL != "http://127.0.0.1:4000/slack/events" {
		t.Fatalf("unexpected slack account config: %+v", cfg.SlackAccounts)
	}
}

func TestApplyEnvOverridesTakesPrecedenceOverDefaults(t *testing.T) {
	t.Setenv("OPENCLAW_HTTP_PORT", "9090")
	t.Setenv("CLAWTALK_AFFINITY_WARMUP", "7")
	t.Setenv("CLAWTALK_AFFINITY_WINDOW", "100")
	t.Setenv("CLAWTALK_AFFINITY_EXPLORATION_RATE", "5")
	t.Setenv("CLAWTALK_AFFINITY_MIN_THRESHOLD", "0.25")
	t.Setenv("CLAWTALK_AFFINITY_ENABLED", "false")
	t.Setenv("GATEWAY_SLACK_OPENCLAW_WEBHOOK_URL", "http://127.0.0.1:5000/slack/events")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HostHTTPPort != 9090 {
		t.Fatalf("expected port override, got %d", cfg.HostHTTPPort)
	}
	if cfg.Affinity.Warmup != 7 || cfg.Affinity.Window != 100 || cfg.Affinity.ExplorationRate != 5 {
		t.Fatalf("unexpected affinity overrides: %+v", cfg.Affinity)
	}
	if cfg.Affinity.MinThreshold != 0.25 || cfg.Affinity.Enabled {
		t.Fatalf("unexpected affinity overrides: %+v", cfg.Affinity)
	}
	if cfg.SlackAccounts["default"].WebhookURL != "http://127.0.0.1:5000/slack/events" {
		t.Fatalf("expected default webhook override applied, got %+v", cfg.SlackAccounts)
	}
}

func TestAffinityStoreConfigConvertsFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Affinity = AffinityConfig{Warmup: 4, Window: 60, ExplorationRate: 15, MinThreshold: 0.2, Enabled: false}

	store := cfg.AffinityStoreConfig()
	if store.WarmupThreshold != 4 || store.SlidingWindowSize != 60 || store.ExplorationRate != 15 {
		t.Fatalf("unexpected conversion: %+v", store)
	}
	if store.MinAffinityThreshold != 0.2 || store.Enabled {
		t.Fatalf("unexpected conversion: %+v", store)
	}
	if store.BaseTimeoutMs != 240_000 {
		t.Fatalf("expected fixed base timeout, got %d", store.BaseTimeoutMs)
	}
}
