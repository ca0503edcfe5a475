package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
	"github.com/Must-be-Ash/freepik-402demo/internal/config"
	"github.com/Must-be-Ash/freepik-402demo/internal/gateway"
	"github.com/Must-be-Ash/freepik-402demo/internal/handlers"
	"github.com/Must-be-Ash/freepik-402demo/internal/server"
	"github.com/Must-be-Ash/freepik-402demo/internal/services"
	"github.com/Must-be-Ash/freepik-402demo/internal/storage"
	"github.com/Must-be-Ash/freepik-402demo/internal/webhook"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the image generation gateway",
		Long: `Run the gateway HTTP server.

Endpoints:
  POST /api/generate-image
  GET  /api/task-status?task_id=
  POST /api/webhooks/freepik
  GET  /api/webhooks/freepik?task_id=
  GET  /health`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := clock.NewClock()

	store, err := newStore(ctx, cfg, c, logger.Named("storage"))
	if err != nil {
		return err
	}
	if closer, ok := store.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("failed to close task store", zap.Error(err))
			}
		}()
	}

	provider, err := services.CreateProvider(cfg, c, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize provider: %w", err)
	}
	if closer, ok := provider.(interface{ Close() }); ok {
		defer closer.Close()
	}

	apiKey := cfg.Provider.APIKey
	if apiKey == "" && cfg.Provider.StandaloneMode {
		apiKey = services.SandboxAPIKey
	}
	if apiKey == "" {
		logger.Warn("FREEPIK_API_KEY is not set; generation and status calls will fail until it is configured")
	}

	if !cfg.WebhookVerificationEnabled() {
		logger.Warn("FREEPIK_WEBHOOK_SECRET is not set; webhook deliveries are accepted WITHOUT authentication")
	}

	gw := gateway.New(gateway.Config{
		Provider:        provider,
		APIKey:          apiKey,
		CallbackURL:     cfg.Webhook.CallbackURL,
		WebhookPath:     cfg.Webhook.Path,
		Production:      cfg.IsProduction(),
		ExpectedNetwork: cfg.Payment.ExpectedNetwork,
		ExpectedAsset:   cfg.Payment.ExpectedAsset,
		NetworkPolicy:   cfg.Payment.NetworkPolicy,
		Clock:           c,
		Logger:          logger.Named("gateway"),
	})

	auth := webhook.NewAuthenticator(c, cfg.ReplayWindow)
	h := handlers.NewHandler(gw, store, auth, cfg.Webhook.Secret, logger.Named("handlers"))

	srv := server.NewServer(h, server.Options{
		Port:         cfg.Server.Port,
		Verbose:      cfg.Server.Verbose,
		WebhookPath:  cfg.Webhook.Path,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger.Named("server"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newStore builds the task store selected by storage.backend
func newStore(ctx context.Context, cfg *config.ParsedConfig, c clock.Clock, logger *zap.Logger) (storage.TaskStore, error) {
	switch cfg.Storage.Backend {
	case "redis":
		client, err := storage.DialRedis(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisDB)
		if err != nil {
			return nil, err
		}
		logger.Info("using redis task store", zap.String("addr", cfg.Storage.RedisAddr), zap.Duration("ttl", cfg.RedisTTL))
		return storage.NewRedisStore(client, c, cfg.RedisTTL), nil
	default:
		ms := storage.NewMemoryStorage(c, cfg.MaxTaskAge, logger)
		ms.StartCleanupRoutine(ctx, cfg.CleanupInterval)
		logger.Info("using in-memory task store; results are lost on restart")
		return ms, nil
	}
}
