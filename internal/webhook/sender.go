package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
)

// Sender delivers signed webhook notifications with retries
type Sender struct {
	httpClient *http.Client
	clock      clock.Clock
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewSender creates a new webhook sender. Retry n waits n*backoff before sending.
func NewSender(timeout time.Duration, maxRetries int, backoff time.Duration, c clock.Clock, logger *zap.Logger) *Sender {
	if c == nil {
		c = clock.NewClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		clock:      c,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}
}

// Deliver posts body to url, signing it with secret when one is set
func (s *Sender) Deliver(ctx context.Context, url string, body []byte, secret string) error {
	msgID := "msg_" + uuid.NewString()

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			if err := s.wait(ctx, time.Duration(attempt)*s.backoff); err != nil {
				return err
			}
			s.logger.Debug("retrying webhook delivery", zap.Int("attempt", attempt), zap.String("url", url))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			for k, v := range Headers(msgID, s.clock.Now(), body, secret) {
				req.Header.Set(k, v)
			}
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("webhook request failed: %w", err)
			s.logger.Warn("webhook request failed", zap.String("url", url), zap.Error(err))
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			s.logger.Debug("webhook delivered", zap.String("url", url), zap.String("webhook_id", msgID))
			return nil
		}

		lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		s.logger.Warn("webhook rejected", zap.String("url", url), zap.Int("status", resp.StatusCode))
	}

	s.logger.Error("webhook delivery failed",
		zap.String("url", url),
		zap.Int("attempts", s.maxRetries+1),
		zap.Error(lastErr),
	)
	return lastErr
}

func (s *Sender) wait(ctx context.Context, d time.Duration) error {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
