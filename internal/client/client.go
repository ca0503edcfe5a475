package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/api"
	"github.com/Must-be-Ash/freepik-402demo/internal/models"
	"github.com/Must-be-Ash/freepik-402demo/internal/payment"
)

// DefaultMaxAmount is the largest payment the client signs without asking: 5 USDC
const DefaultMaxAmount = 5_000_000

var (
	ErrNotFound     = errors.New("task not found")
	ErrNoSigner     = errors.New("No Web3 wallet configured to pay for this request")
	ErrNoAcceptable = errors.New("payment required but no acceptable payment option was offered")
)

// PaymentSigner produces an X-PAYMENT envelope satisfying a requirement
type PaymentSigner interface {
	Sign(ctx context.Context, req models.PaymentRequirement) (string, error)
}

// AmountExceedsMaxError is returned when the provider asks for more than the configured ceiling
type AmountExceedsMaxError struct {
	Required string
	Max      string
}

func (e *AmountExceedsMaxError) Error() string {
	return fmt.Sprintf("payment of %s USDC exceeds the maximum of %s USDC",
		payment.FormatUnits(e.Required, payment.USDCDecimals), payment.FormatUnits(e.Max, payment.USDCDecimals))
}

// PaymentRejectedError is returned when a signed payment was still answered with 402
type PaymentRejectedError struct {
	Reason string
}

func (e *PaymentRejectedError) Error() string {
	return "payment rejected: " + e.Reason
}

// StatusError is any non-success answer from the gateway
type StatusError struct {
	StatusCode int
	Body       api.APIError
}

func (e *StatusError) Error() string {
	msg := e.Body.Error
	if e.Body.Message != "" {
		msg += ": " + e.Body.Message
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("request failed: %d %s", e.StatusCode, msg)
}

// GenerateResult is the outcome of a paid generation request
type GenerateResult struct {
	Task       models.TaskDescriptor
	Receipt    *payment.Receipt
	RawReceipt string
	Paid       bool
}

// Client talks to the gateway and pays for generations when asked to
type Client struct {
	baseURL     string
	webhookPath string
	httpClient  *http.Client
	signer      PaymentSigner
	maxAmount   *big.Int
	logger      *zap.Logger
}

type Option func(*Client)

func WithSigner(s PaymentSigner) Option {
	return func(c *Client) { c.signer = s }
}

// WithMaxAmount sets the payment ceiling in smallest units
func WithMaxAmount(units *big.Int) Option {
	return func(c *Client) { c.maxAmount = units }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithWebhookPath(p string) Option {
	return func(c *Client) { c.webhookPath = p }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		webhookPath: "/api/webhooks/freepik",
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		maxAmount:   big.NewInt(DefaultMaxAmount),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate submits a request. A 402 answer is paid once through the signer and retried.
func (c *Client) Generate(ctx context.Context, req *models.GenerationRequest) (*GenerateResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, respBody, err := c.postGenerate(ctx, body, "")
	if err != nil {
		return nil, err
	}

	paid := false
	if resp.StatusCode == http.StatusPaymentRequired {
		header, err := c.pay(ctx, respBody)
		if err != nil {
			return nil, err
		}

		resp, respBody, err = c.postGenerate(ctx, body, header)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusPaymentRequired {
			var demand models.PaymentRequired
			_ = json.Unmarshal(respBody, &demand)
			return nil, &PaymentRejectedError{Reason: demand.Error}
		}
		paid = true
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, respBody)
	}

	var env models.TaskEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}

	result := &GenerateResult{Task: env.Data, Paid: paid}
	if raw := resp.Header.Get(api.HeaderPaymentResponse); raw != "" {
		result.RawReceipt = raw
		if receipt, err := payment.DecodeReceipt(raw); err == nil {
			result.Receipt = receipt
			c.logger.Info("payment confirmed",
				zap.String("transaction", receipt.Transaction),
				zap.String("explorer", payment.ExplorerURL(receipt.Network, receipt.Transaction)),
			)
		} else {
			c.logger.Warn("could not decode payment receipt", zap.Error(err))
		}
	}

	return result, nil
}

func (c *Client) pay(ctx context.Context, body []byte) (string, error) {
	if c.signer == nil {
		return "", ErrNoSigner
	}

	var demand models.PaymentRequired
	if err := json.Unmarshal(body, &demand); err != nil {
		return "", fmt.Errorf("failed to decode payment requirements: %w", err)
	}
	if len(demand.Accepts) == 0 {
		return "", ErrNoAcceptable
	}

	requirement := demand.Accepts[0]
	required, err := payment.ParseUnits(requirement.MaxAmountRequired)
	if err != nil {
		return "", fmt.Errorf("invalid payment requirement: %w", err)
	}
	if required.Cmp(c.maxAmount) > 0 {
		return "", &AmountExceedsMaxError{Required: required.String(), Max: c.maxAmount.String()}
	}

	c.logger.Info("paying for generation",
		zap.String("network", requirement.Network),
		zap.String("pay_to", requirement.PayTo),
		zap.String("amount_usdc", payment.FormatUnits(required.String(), payment.USDCDecimals)),
	)

	header, err := c.signer.Sign(ctx, requirement)
	if err != nil {
		return "", fmt.Errorf("failed to sign payment: %w", err)
	}
	return header, nil
}

func (c *Client) postGenerate(ctx context.Context, body []byte, paymentHeader string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate-image", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if paymentHeader != "" {
		req.Header.Set(api.HeaderPayment, paymentHeader)
	}
	return c.do(req)
}

// TaskStatus asks the gateway's status proxy for the task
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*models.Task, error) {
	body, err := c.get(ctx, "/api/task-status", taskID)
	if err != nil {
		return nil, err
	}

	task, ok := models.TaskFromEnvelope(body)
	if !ok {
		return nil, fmt.Errorf("status response for task %s carries no task", taskID)
	}
	return task, nil
}

// StoredResult reads what a webhook delivered for the task
func (c *Client) StoredResult(ctx context.Context, taskID string) (*models.Task, error) {
	body, err := c.get(ctx, c.webhookPath, taskID)
	if err != nil {
		return nil, err
	}

	var task models.Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("failed to decode stored result: %w", err)
	}
	return &task, nil
}

func (c *Client) get(ctx context.Context, path, taskID string) ([]byte, error) {
	u := c.baseURL + path + "?task_id=" + url.QueryEscape(taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	case resp.StatusCode != http.StatusOK:
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, body, nil
}

func statusError(code int, body []byte) error {
	e := &StatusError{StatusCode: code}
	_ = json.Unmarshal(body, &e.Body)
	return e
}

// FriendlyMessage turns an error into something to show an end user
func FriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "rejected"):
		return "Payment was rejected. Please try again."
	case strings.Contains(msg, "Insufficient funds"):
		return "Insufficient USDC balance. Please add funds to your wallet."
	case strings.Contains(msg, "No Web3 wallet"):
		return "No wallet detected. Please refresh and try again."
	default:
		return msg
	}
}
