package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.PollInterval != 15*time.Second {
		t.Errorf("Expected poll interval 15s, got %v", cfg.PollInterval)
	}
	if cfg.PollTimeout != 5*time.Minute {
		t.Errorf("Expected poll timeout 5m, got %v", cfg.PollTimeout)
	}
	if cfg.ReplayWindow != 5*time.Minute {
		t.Errorf("Expected replay window 5m, got %v", cfg.ReplayWindow)
	}
	if cfg.Payment.ExpectedNetwork != "base" {
		t.Errorf("Expected default network 'base', got '%s'", cfg.Payment.ExpectedNetwork)
	}
	if cfg.Webhook.Path != "/api/webhooks/freepik" {
		t.Errorf("Unexpected webhook path '%s'", cfg.Webhook.Path)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 8080
  verbose: true
  environment: production
provider:
  api_key: file-key
webhook:
  secret: whsec
payment:
  network_policy: reject
poller:
  interval: 1s
  timeout: 10s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if !cfg.IsProduction() {
		t.Error("Expected production environment")
	}
	if !cfg.WebhookVerificationEnabled() {
		t.Error("Expected webhook verification to be enabled")
	}
	if cfg.Payment.NetworkPolicy != NetworkPolicyReject {
		t.Errorf("Expected reject policy, got '%s'", cfg.Payment.NetworkPolicy)
	}
	if cfg.PollInterval != time.Second || cfg.PollTimeout != 10*time.Second {
		t.Errorf("Unexpected poller durations %v/%v", cfg.PollInterval, cfg.PollTimeout)
	}
	// Unset keys keep their defaults
	if cfg.Provider.GeneratePath != "/v1/x402/ai/mystic" {
		t.Errorf("Expected default generate path, got '%s'", cfg.Provider.GeneratePath)
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	cfg := Defaults()
	cfg.Provider.APIKey = "file-key"

	env := map[string]string{
		"FREEPIK_API_KEY":        "env-key",
		"FREEPIK_WEBHOOK_SECRET": "env-secret",
		"WEBHOOK_URL":            "https://abc123.ngrok.io/api/webhooks/freepik",
		"NEXT_PUBLIC_NETWORK":    "base-sepolia",
		"USDC_CONTRACT_ADDRESS":  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		"PORT":                   "4000",
	}
	applyEnv(&cfg, func(k string) string { return env[k] })

	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("Expected env api key, got '%s'", cfg.Provider.APIKey)
	}
	if cfg.Webhook.Secret != "env-secret" {
		t.Errorf("Expected env secret, got '%s'", cfg.Webhook.Secret)
	}
	if cfg.Webhook.CallbackURL != env["WEBHOOK_URL"] {
		t.Errorf("Expected callback override, got '%s'", cfg.Webhook.CallbackURL)
	}
	if cfg.Payment.ExpectedNetwork != "base-sepolia" {
		t.Errorf("Expected base-sepolia, got '%s'", cfg.Payment.ExpectedNetwork)
	}
	if cfg.Payment.ExpectedAsset != env["USDC_CONTRACT_ADDRESS"] {
		t.Errorf("Expected asset override, got '%s'", cfg.Payment.ExpectedAsset)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Expected port 4000, got %d", cfg.Server.Port)
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad policy", func(c *Config) { c.Payment.NetworkPolicy = "ignore" }},
		{"bad backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"bad duration", func(c *Config) { c.Poller.Interval = "soon" }},
		{"zero timeout", func(c *Config) { c.Poller.Timeout = "0s" }},
		{"relative webhook path", func(c *Config) { c.Webhook.Path = "hooks" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if _, err := Parse(cfg); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}
