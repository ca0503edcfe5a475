package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration as written in config.yaml
type Config struct {
	Server struct {
		Port         int    `yaml:"port"`
		Verbose      bool   `yaml:"verbose"`
		Environment  string `yaml:"environment"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`

	Provider struct {
		APIKey         string `yaml:"api_key"`
		BaseURL        string `yaml:"base_url"`
		GeneratePath   string `yaml:"generate_path"`
		StatusPath     string `yaml:"status_path"`
		Timeout        string `yaml:"timeout"`
		StandaloneMode bool   `yaml:"standalone_mode"`
	} `yaml:"provider"`

	Webhook struct {
		Secret       string `yaml:"secret"`
		CallbackURL  string `yaml:"callback_url"`
		Path         string `yaml:"path"`
		ReplayWindow string `yaml:"replay_window"`
	} `yaml:"webhook"`

	Payment struct {
		ExpectedNetwork string `yaml:"expected_network"`
		ExpectedAsset   string `yaml:"expected_asset"`
		NetworkPolicy   string `yaml:"network_policy"`
		MaxAmount       string `yaml:"max_amount"`
	} `yaml:"payment"`

	Storage struct {
		Backend         string `yaml:"backend"`
		RedisAddr       string `yaml:"redis_addr"`
		RedisDB         int    `yaml:"redis_db"`
		RedisTTL        string `yaml:"redis_ttl"`
		MaxTaskAge      string `yaml:"max_task_age"`
		CleanupInterval string `yaml:"cleanup_interval"`
	} `yaml:"storage"`

	Poller struct {
		Interval string `yaml:"interval"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"poller"`

	Sandbox struct {
		Port            int    `yaml:"port"`
		CompletionDelay string `yaml:"completion_delay"`
		PayTo           string `yaml:"pay_to"`
		Price           string `yaml:"price"`
	} `yaml:"sandbox"`
}

// ParsedConfig contains parsed time.Duration values for easier use
type ParsedConfig struct {
	Config
	ReadTimeout            time.Duration
	WriteTimeout           time.Duration
	ProviderTimeout        time.Duration
	ReplayWindow           time.Duration
	RedisTTL               time.Duration
	MaxTaskAge             time.Duration
	CleanupInterval        time.Duration
	PollInterval           time.Duration
	PollTimeout            time.Duration
	SandboxCompletionDelay time.Duration
}

// Network policies applied when a payment envelope targets a different network than expected.
const (
	NetworkPolicyWarn   = "warn"
	NetworkPolicyReject = "reject"
)

// Defaults returns the configuration used when no file is present
func Defaults() Config {
	var cfg Config
	cfg.Server.Port = 3000
	cfg.Server.Environment = "development"
	cfg.Server.ReadTimeout = "30s"
	cfg.Server.WriteTimeout = "120s"
	cfg.Provider.BaseURL = "https://api.freepik.com"
	cfg.Provider.GeneratePath = "/v1/x402/ai/mystic"
	cfg.Provider.StatusPath = "/v1/ai/mystic"
	cfg.Provider.Timeout = "90s"
	cfg.Webhook.Path = "/api/webhooks/freepik"
	cfg.Webhook.ReplayWindow = "5m"
	cfg.Payment.ExpectedNetwork = "base"
	cfg.Payment.NetworkPolicy = NetworkPolicyWarn
	cfg.Payment.MaxAmount = "5000000"
	cfg.Storage.Backend = "memory"
	cfg.Storage.RedisAddr = "localhost:6379"
	cfg.Storage.RedisTTL = "24h"
	cfg.Storage.MaxTaskAge = "0s"
	cfg.Storage.CleanupInterval = "10m"
	cfg.Poller.Interval = "15s"
	cfg.Poller.Timeout = "5m"
	cfg.Sandbox.Port = 4020
	cfg.Sandbox.CompletionDelay = "3s"
	cfg.Sandbox.PayTo = "0x000000000000000000000000000000000000dEaD"
	cfg.Sandbox.Price = "50000"
	return cfg
}

// LoadConfig loads configuration from a YAML file on top of the defaults and then applies
// environment overrides. A missing file is not an error.
func LoadConfig(filepath string) (*ParsedConfig, error) {
	cfg := Defaults()

	data, err := os.ReadFile(filepath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(&cfg, os.Getenv)

	return Parse(cfg)
}

// Parse validates cfg and resolves its duration strings
func Parse(cfg Config) (*ParsedConfig, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	parsed := &ParsedConfig{Config: cfg}
	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"server.read_timeout", cfg.Server.ReadTimeout, &parsed.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout, &parsed.WriteTimeout},
		{"provider.timeout", cfg.Provider.Timeout, &parsed.ProviderTimeout},
		{"webhook.replay_window", cfg.Webhook.ReplayWindow, &parsed.ReplayWindow},
		{"storage.redis_ttl", cfg.Storage.RedisTTL, &parsed.RedisTTL},
		{"storage.max_task_age", cfg.Storage.MaxTaskAge, &parsed.MaxTaskAge},
		{"storage.cleanup_interval", cfg.Storage.CleanupInterval, &parsed.CleanupInterval},
		{"poller.interval", cfg.Poller.Interval, &parsed.PollInterval},
		{"poller.timeout", cfg.Poller.Timeout, &parsed.PollTimeout},
		{"sandbox.completion_delay", cfg.Sandbox.CompletionDelay, &parsed.SandboxCompletionDelay},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	if parsed.PollInterval <= 0 || parsed.PollTimeout <= 0 {
		return nil, fmt.Errorf("poller interval and timeout must be positive")
	}

	return parsed, nil
}

// applyEnv overlays the recognized environment-level options. Environment wins over the file.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("FREEPIK_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := getenv("FREEPIK_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := getenv("WEBHOOK_URL"); v != "" {
		cfg.Webhook.CallbackURL = v
	}
	if v := getenv("NEXT_PUBLIC_NETWORK"); v != "" {
		cfg.Payment.ExpectedNetwork = v
	}
	if v := getenv("NETWORK"); v != "" {
		cfg.Payment.ExpectedNetwork = v
	}
	if v := getenv("USDC_CONTRACT_ADDRESS"); v != "" {
		cfg.Payment.ExpectedAsset = v
	}
	if v := getenv("APP_ENV"); v != "" {
		cfg.Server.Environment = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

// validateConfig validates the configuration values
func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if cfg.Provider.BaseURL == "" && !cfg.Provider.StandaloneMode {
		return fmt.Errorf("provider base_url is required unless standalone_mode is set")
	}

	switch strings.ToLower(cfg.Payment.NetworkPolicy) {
	case NetworkPolicyWarn, NetworkPolicyReject:
	default:
		return fmt.Errorf("payment network_policy must be %q or %q", NetworkPolicyWarn, NetworkPolicyReject)
	}

	switch cfg.Storage.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("storage backend must be memory or redis")
	}

	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		return fmt.Errorf("webhook path must start with /")
	}

	return nil
}

// IsProduction reports whether derived callback URLs should use https
func (c *ParsedConfig) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// WebhookVerificationEnabled reports whether inbound webhooks are authenticated
func (c *ParsedConfig) WebhookVerificationEnabled() bool {
	return c.Webhook.Secret != ""
}
