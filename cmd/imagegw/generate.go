package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Must-be-Ash/freepik-402demo/internal/client"
	"github.com/Must-be-Ash/freepik-402demo/internal/models"
	"github.com/Must-be-Ash/freepik-402demo/internal/payment"
	"github.com/Must-be-Ash/freepik-402demo/internal/poller"
)

func generateCmd() *cobra.Command {
	var (
		serverURL    string
		model        string
		resolution   string
		aspectRatio  string
		envelope     string
		envelopeFile string
		maxAmount    string
		noWait       bool
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate an image through the gateway, paying when asked",
		Long: `Submit a prompt to the gateway. When the gateway answers 402 the request is retried
once with a pre-signed X-PAYMENT envelope, then the task is polled until images arrive.

Examples:
  imagegw generate "A mountain at sunset" --envelope-file payment.b64
  imagegw generate "A lighthouse in fog" --model fluid --resolution 4k --no-wait`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if envelopeFile != "" {
				data, err := os.ReadFile(envelopeFile)
				if err != nil {
					return fmt.Errorf("failed to read envelope file: %w", err)
				}
				envelope = strings.TrimSpace(string(data))
			}
			if serverURL == "" {
				serverURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
			}
			if maxAmount == "" {
				maxAmount = cfg.Payment.MaxAmount
			}
			ceiling, err := payment.ParseUnits(maxAmount)
			if err != nil {
				return fmt.Errorf("invalid --max-amount: %w", err)
			}

			opts := []client.Option{
				client.WithLogger(logger.Named("client")),
				client.WithMaxAmount(new(big.Int).Set(ceiling)),
				client.WithWebhookPath(cfg.Webhook.Path),
			}
			if envelope != "" {
				opts = append(opts, client.WithSigner(client.StaticSigner{Envelope: envelope}))
			}
			c := client.New(serverURL, opts...)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			req := &models.GenerationRequest{
				Prompt:      strings.Join(args, " "),
				Model:       model,
				Resolution:  resolution,
				AspectRatio: aspectRatio,
			}

			res, err := c.Generate(ctx, req)
			if err != nil {
				return errors.New(client.FriendlyMessage(err))
			}

			fmt.Printf("Task ID: %s\n", res.Task.TaskID)
			fmt.Printf("Status:  %s\n", res.Task.Status)
			if res.Receipt != nil {
				fmt.Printf("Paid:    %s\n", payment.ExplorerURL(res.Receipt.Network, res.Receipt.Transaction))
			}

			if len(res.Task.Generated) > 0 {
				printImages(res.Task.Generated)
				return nil
			}
			if noWait {
				return nil
			}

			fmt.Println("Waiting for the image (webhook or status polling)...")
			p := poller.New(res.Task.TaskID,
				poller.Merged(poller.QuerierFunc(c.StoredResult), poller.QuerierFunc(c.TaskStatus)),
				poller.Options{
					Interval: cfg.PollInterval,
					Timeout:  cfg.PollTimeout,
					Logger:   logger.Named("poller"),
					OnUpdate: func(t *models.Task) {
						fmt.Printf("  status: %s\n", t.Status)
					},
				},
			)

			task, err := p.Run(ctx)
			switch {
			case errors.Is(err, poller.ErrTimedOut):
				return fmt.Errorf("no image after %s; check later with GET %s?task_id=%s", cfg.PollTimeout, cfg.Webhook.Path, res.Task.TaskID)
			case err != nil:
				return err
			}

			printImages(task.Generated)
			return nil
		},
	}

	cmd.Flags().StringVarP(&serverURL, "server", "s", "", "gateway URL (default http://localhost:<server.port>)")
	cmd.Flags().StringVar(&model, "model", "realism", "model: realism, fluid or zen")
	cmd.Flags().StringVar(&resolution, "resolution", "2k", "resolution: 1k, 2k or 4k")
	cmd.Flags().StringVar(&aspectRatio, "aspect-ratio", "square_1_1", "aspect ratio")
	cmd.Flags().StringVar(&envelope, "envelope", "", "pre-signed base64 X-PAYMENT envelope")
	cmd.Flags().StringVar(&envelopeFile, "envelope-file", "", "file holding a pre-signed X-PAYMENT envelope")
	cmd.Flags().StringVar(&maxAmount, "max-amount", "", "largest payment to make, in USDC smallest units (default payment.max_amount)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return after the task is created")

	return cmd
}

func printImages(urls []string) {
	fmt.Printf("Generated %d image(s):\n", len(urls))
	for _, u := range urls {
		fmt.Printf("  %s\n", u)
	}
}
