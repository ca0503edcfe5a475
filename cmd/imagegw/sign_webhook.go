package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Must-be-Ash/freepik-402demo/internal/webhook"
)

func signWebhookCmd() *cobra.Command {
	var (
		secret string
		id     string
		file   string
		target string
	)

	cmd := &cobra.Command{
		Use:   "sign-webhook [body]",
		Short: "Print signed webhook headers for a body",
		Long: `Sign a webhook body the way the provider does and print the headers, plus a curl
command that delivers it. The body is read from the argument, --file, or stdin.

Example:
  imagegw sign-webhook '{"task_id":"t-1","status":"COMPLETED","generated":["https://example/img1.png"]}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadRuntime()
			if err != nil {
				return err
			}
			if secret == "" {
				secret = cfg.Webhook.Secret
			}
			if secret == "" {
				return fmt.Errorf("no secret: pass --secret or set FREEPIK_WEBHOOK_SECRET")
			}

			var body []byte
			switch {
			case len(args) == 1:
				body = []byte(args[0])
			case file != "":
				if body, err = os.ReadFile(file); err != nil {
					return fmt.Errorf("failed to read body: %w", err)
				}
			default:
				if body, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("failed to read body: %w", err)
				}
			}

			if id == "" {
				id = "msg_" + uuid.NewString()
			}
			if target == "" {
				target = fmt.Sprintf("http://localhost:%d%s", cfg.Server.Port, cfg.Webhook.Path)
			}

			headers := webhook.Headers(id, time.Now(), body, secret)
			keys := make([]string, 0, len(headers))
			for k := range headers {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			out := cmd.OutOrStdout()
			for _, k := range keys {
				fmt.Fprintf(out, "%s: %s\n", k, headers[k])
			}

			fmt.Fprintf(out, "\ncurl -X POST %s \\\n  -H 'Content-Type: application/json' \\\n", target)
			for _, k := range keys {
				fmt.Fprintf(out, "  -H '%s: %s' \\\n", k, headers[k])
			}
			fmt.Fprintf(out, "  --data-raw '%s'\n", body)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "webhook secret (default webhook.secret)")
	cmd.Flags().StringVar(&id, "id", "", "webhook id (default random msg_ id)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the body from a file")
	cmd.Flags().StringVar(&target, "url", "", "delivery URL for the printed curl command")
	return cmd
}
