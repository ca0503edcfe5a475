package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
	"github.com/Must-be-Ash/freepik-402demo/internal/sandbox"
	"github.com/Must-be-Ash/freepik-402demo/internal/services"
)

func sandboxCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run a local stand-in for the provider's x402 endpoints",
		Long: `Run a simulated provider that demands payment, issues receipts and delivers
signed completion webhooks. Point provider.base_url at it to exercise the gateway
without spending real funds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if port == 0 {
				port = cfg.Sandbox.Port
			}

			sim := services.NewSimulator(cfg, clock.NewClock(), logger.Named("sandbox"))
			defer sim.Close()

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", port),
				Handler:      sandbox.NewRouter(sim, cfg.Provider.GeneratePath, cfg.Provider.StatusPath),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Info("starting provider sandbox",
				zap.Int("port", port),
				zap.String("generate_path", cfg.Provider.GeneratePath),
				zap.String("status_path", cfg.Provider.StatusPath+"/{task_id}"),
				zap.String("price_units", cfg.Sandbox.Price),
				zap.Duration("completion_delay", cfg.SandboxCompletionDelay),
			)

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default sandbox.port)")
	return cmd
}
