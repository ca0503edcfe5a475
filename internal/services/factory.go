package services

import (
	"time"

	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
	"github.com/Must-be-Ash/freepik-402demo/internal/config"
	"github.com/Must-be-Ash/freepik-402demo/internal/interfaces"
	"github.com/Must-be-Ash/freepik-402demo/internal/sandbox"
	"github.com/Must-be-Ash/freepik-402demo/internal/services/mock"
	"github.com/Must-be-Ash/freepik-402demo/internal/services/real"
	"github.com/Must-be-Ash/freepik-402demo/internal/webhook"
)

// SandboxAPIKey is the credential used when standalone mode runs without one
const SandboxAPIKey = "sandbox"

// CreateProvider creates the provider implementation selected by the configuration
func CreateProvider(cfg *config.ParsedConfig, c clock.Clock, logger *zap.Logger) (interfaces.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.Provider.StandaloneMode {
		// Standalone mode: simulated provider in process
		sim := NewSimulator(cfg, c, logger.Named("sandbox"))
		logger.Info("initialized MOCK provider for standalone mode")
		return mock.NewMockProvider(sim, logger.Named("mock")), nil
	}

	// Online mode: Freepik over HTTP
	provider := real.NewRealProvider(
		cfg.Provider.BaseURL,
		cfg.Provider.GeneratePath,
		cfg.Provider.StatusPath,
		cfg.ProviderTimeout,
		logger.Named("provider"),
	)
	logger.Info("initialized REAL provider", zap.String("endpoint", provider.Endpoint()))
	return provider, nil
}

// NewSimulator builds the sandbox simulator described by the configuration
func NewSimulator(cfg *config.ParsedConfig, c clock.Clock, logger *zap.Logger) *sandbox.Simulator {
	apiKey := cfg.Provider.APIKey
	if apiKey == "" {
		apiKey = SandboxAPIKey
	}

	return sandbox.NewSimulator(sandbox.Config{
		APIKey:          apiKey,
		Network:         cfg.Payment.ExpectedNetwork,
		Asset:           cfg.Payment.ExpectedAsset,
		PayTo:           cfg.Sandbox.PayTo,
		Price:           cfg.Sandbox.Price,
		Resource:        cfg.Provider.BaseURL + cfg.Provider.GeneratePath,
		WebhookSecret:   cfg.Webhook.Secret,
		CompletionDelay: cfg.SandboxCompletionDelay,
		Sender:          webhook.NewSender(10*time.Second, 3, time.Second, c, logger.Named("webhook")),
		Clock:           c,
		Logger:          logger,
	})
}
