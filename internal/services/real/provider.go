package real

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/api"
	"github.com/Must-be-Ash/freepik-402demo/internal/interfaces"
)

// maxBodyBytes caps how much of an upstream response is buffered
const maxBodyBytes = 10 << 20

type RealProvider struct {
	baseURL      string
	generatePath string
	statusPath   string
	httpClient   *http.Client
	logger       *zap.Logger
}

func NewRealProvider(baseURL, generatePath, statusPath string, timeout time.Duration, logger *zap.Logger) *RealProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealProvider{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		generatePath: generatePath,
		statusPath:   strings.TrimSuffix(statusPath, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (r *RealProvider) Endpoint() string {
	return r.baseURL + r.generatePath
}

// Generate posts a generation request to the provider's x402 endpoint
func (r *RealProvider) Generate(ctx context.Context, call interfaces.GenerateCall) (*interfaces.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint(), bytes.NewReader(call.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create generation request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.HeaderProviderAPIKey, call.APIKey)
	if call.Payment != "" {
		req.Header.Set(api.HeaderPayment, call.Payment)
	}

	return r.do(req)
}

// TaskStatus fetches the state of a task
func (r *RealProvider) TaskStatus(ctx context.Context, apiKey, taskID string) (*interfaces.UpstreamResponse, error) {
	statusURL := r.baseURL + r.statusPath + "/" + url.PathEscape(taskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set(api.HeaderProviderAPIKey, apiKey)

	return r.do(req)
}

func (r *RealProvider) do(req *http.Request) (*interfaces.UpstreamResponse, error) {
	start := time.Now()

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn("provider request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response body: %w", err)
	}

	r.logger.Debug("provider responded",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &interfaces.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}
