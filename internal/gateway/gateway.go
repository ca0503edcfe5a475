package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/api"
	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
	"github.com/Must-be-Ash/freepik-402demo/internal/config"
	"github.com/Must-be-Ash/freepik-402demo/internal/interfaces"
	"github.com/Must-be-Ash/freepik-402demo/internal/logging"
	"github.com/Must-be-Ash/freepik-402demo/internal/models"
	"github.com/Must-be-Ash/freepik-402demo/internal/payment"
)

const (
	defaultWebhookPath = "/api/webhooks/freepik"
	defaultHost        = "localhost:3000"

	serverErrorMessage = "Freepik API returned 500 Internal Server Error. This is likely a payment settlement issue on their end."
	suggestedAction    = "Contact Freepik support with the request ID if this persists"

	maxDetailBytes = 2048
)

var htmlTitle = regexp.MustCompile(`(?is)<title>(.*?)</title>`)

// Config holds the gateway's dependencies and deployment settings
type Config struct {
	Provider interfaces.Provider
	APIKey   string
	// CallbackURL overrides the callback derived from the inbound host
	CallbackURL     string
	WebhookPath     string
	Production      bool
	ExpectedNetwork string
	ExpectedAsset   string
	NetworkPolicy   string
	Clock           clock.Clock
	Logger          *zap.Logger
}

// Result is a provider response to be written to the caller as is. Header carries only the
// headers the gateway adds or forwards.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Gateway submits generation requests to the provider and classifies its answers. It keeps
// no state of its own and never writes task results.
type Gateway struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config) *Gateway {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = defaultWebhookPath
	}
	if cfg.NetworkPolicy == "" {
		cfg.NetworkPolicy = config.NetworkPolicyWarn
	}
	return &Gateway{cfg: cfg, logger: cfg.Logger}
}

// Submit forwards one generation request, with the caller's payment envelope when present
func (g *Gateway) Submit(ctx context.Context, req *models.GenerationRequest, paymentHeader, host string) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	if g.cfg.APIKey == "" {
		return nil, &ConfigurationError{Message: "Freepik API key not configured"}
	}

	if paymentHeader != "" {
		if err := g.inspectPayment(paymentHeader); err != nil {
			return nil, err
		}
	} else {
		g.logger.Info("no payment header, provider will answer 402")
	}

	callback := g.CallbackURL(host)
	body, err := json.Marshal(models.UpstreamGenerationRequest{
		GenerationRequest: *req,
		WebhookURL:        callback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	resp, err := g.cfg.Provider.Generate(ctx, interfaces.GenerateCall{
		APIKey:  g.cfg.APIKey,
		Body:    body,
		Payment: paymentHeader,
	})
	if err != nil {
		endpoint := g.cfg.Provider.Endpoint()
		g.logger.Error("facilitator verification error",
			zap.String("facilitator_url", endpoint),
			zap.Bool("timeout", isTimeout(err)),
			zap.Error(err),
		)
		return nil, &UpstreamUnreachableError{Endpoint: endpoint, Cause: err}
	}

	switch resp.StatusCode {
	case http.StatusPaymentRequired:
		g.logPaymentRequired(resp.Body, paymentHeader)
		return &Result{
			StatusCode: http.StatusPaymentRequired,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       resp.Body,
		}, nil

	case http.StatusOK:
		header := http.Header{"Content-Type": []string{"application/json"}}
		if receipt := resp.Header.Get(api.HeaderPaymentResponse); receipt != "" {
			g.logReceipt(receipt)
			header.Set(api.HeaderPaymentResponse, receipt)
			header.Set(api.HeaderExposeHeaders, api.HeaderPaymentResponse)
		} else {
			g.logger.Info("no payment receipt on success, payment may not have been required")
		}
		g.logger.Info("provider accepted generation", zap.ByteString("body", resp.Body))
		return &Result{StatusCode: http.StatusOK, Header: header, Body: resp.Body}, nil

	case http.StatusInternalServerError:
		return nil, g.classifyServerError(resp, paymentHeader)

	default:
		g.logger.Error("unexpected response from provider",
			zap.Int("status", resp.StatusCode),
			zap.String("body", logging.Truncate(string(resp.Body), maxDetailBytes)),
		)
		return nil, &UnexpectedUpstreamStatusError{Status: resp.StatusCode, Body: resp.Body}
	}
}

// TaskStatus proxies a status query. The provider's body is returned verbatim on success.
func (g *Gateway) TaskStatus(ctx context.Context, taskID string) (*Result, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, &ValidationError{Message: "task_id parameter required"}
	}
	if g.cfg.APIKey == "" {
		return nil, &ConfigurationError{Message: "Freepik API key not configured"}
	}

	g.logger.Debug("checking task status", zap.String("task_id", taskID))

	resp, err := g.cfg.Provider.TaskStatus(ctx, g.cfg.APIKey, taskID)
	if err != nil {
		g.logger.Warn("status query failed", zap.String("task_id", taskID), zap.Error(err))
		return nil, &StatusQueryError{TaskID: taskID, Status: http.StatusInternalServerError, Message: err.Error(), Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Warn("status query rejected", zap.String("task_id", taskID), zap.Int("status", resp.StatusCode))
		return nil, &StatusQueryError{TaskID: taskID, Status: resp.StatusCode, Message: providerMessage(resp)}
	}

	return &Result{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       resp.Body,
	}, nil
}

// CallbackURL resolves where the provider should deliver completion webhooks: the configured
// override, else the inbound host plus the webhook path
func (g *Gateway) CallbackURL(host string) string {
	if g.cfg.CallbackURL != "" {
		return g.cfg.CallbackURL
	}

	if host == "" {
		host = defaultHost
	}
	scheme := "http"
	if g.cfg.Production {
		scheme = "https"
	}

	url := fmt.Sprintf("%s://%s%s", scheme, host, g.cfg.WebhookPath)
	if !g.cfg.Production {
		g.logger.Warn("callback URL derived from request host; it must be publicly reachable for webhooks to arrive",
			zap.String("webhook_url", url),
			zap.String("hint", "set WEBHOOK_URL to a tunnel such as https://abc123.ngrok.io/api/webhooks/freepik"),
		)
	}
	return url
}

// inspectPayment decodes the envelope for diagnostics. Only a network mismatch under the
// reject policy stops the request; the header itself is always forwarded untouched.
func (g *Gateway) inspectPayment(header string) error {
	g.logger.Info("payment header received, forwarding to provider",
		zap.String("x_payment", logging.Truncate(header, 200)),
	)

	env, err := payment.Decode(header)
	if err != nil {
		g.logger.Warn("could not decode payment header", zap.Error(err))
		return nil
	}

	g.logger.Info("payment envelope", env.Fields(g.cfg.Clock.Now())...)
	if g.cfg.ExpectedAsset != "" {
		g.logger.Debug("expected settlement asset", zap.String("asset", g.cfg.ExpectedAsset))
	}

	if err := env.CheckNetwork(g.cfg.ExpectedNetwork); err != nil {
		var mismatch *payment.NetworkMismatchError
		if errors.As(err, &mismatch) && strings.EqualFold(g.cfg.NetworkPolicy, config.NetworkPolicyReject) {
			g.logger.Warn("rejecting payment for another network", zap.Error(err))
			return &ValidationError{Message: "Payment network mismatch: " + err.Error()}
		}
		g.logger.Warn("payment network mismatch", zap.Error(err))
	}
	return nil
}

func (g *Gateway) logPaymentRequired(body []byte, paymentHeader string) {
	var demand models.PaymentRequired
	if err := json.Unmarshal(body, &demand); err != nil {
		g.logger.Warn("402 body is not a payment requirement", zap.Error(err))
		return
	}

	var first models.PaymentRequirement
	if len(demand.Accepts) > 0 {
		first = demand.Accepts[0]
	}

	if !strings.Contains(strings.ToLower(demand.Error), "verification") {
		g.logger.Info("provider requires payment",
			zap.String("error", demand.Error),
			zap.Int("accepts", len(demand.Accepts)),
			zap.ByteString("extra", first.Extra),
		)
		return
	}

	fields := []zap.Field{
		zap.String("error", demand.Error),
		zap.String("network", first.Network),
		zap.String("expected_asset", first.Asset),
		zap.String("expected_recipient", first.PayTo),
		zap.String("max_amount", first.MaxAmountRequired),
	}
	if env, err := payment.Decode(paymentHeader); err == nil {
		auth := env.Payload.Authorization
		fields = append(fields,
			zap.String("sent_network", env.Network),
			zap.String("sent_from", auth.From),
			zap.String("sent_to", auth.To),
			zap.String("sent_value", auth.Value.String()),
		)
	}
	g.logger.Error("payment verification failed", fields...)
}

func (g *Gateway) logReceipt(header string) {
	receipt, err := payment.DecodeReceipt(header)
	if err != nil {
		g.logger.Warn("could not decode payment receipt", zap.Error(err))
		return
	}
	g.logger.Info("payment confirmed",
		zap.Bool("success", receipt.Success),
		zap.String("transaction", receipt.Transaction),
		zap.String("network", receipt.Network),
		zap.String("payer", receipt.Payer),
		zap.String("explorer", payment.ExplorerURL(receipt.Network, receipt.Transaction)),
	)
}

func (g *Gateway) classifyServerError(resp *interfaces.UpstreamResponse, paymentHeader string) error {
	diag := api.Diagnostics{
		HasPayment:      paymentHeader != "",
		UpstreamStatus:  resp.Header.Get(api.HeaderUpstreamStatus),
		RequestID:       resp.Header.Get(api.HeaderUpstreamRequest),
		SuggestedAction: suggestedAction,
	}

	details := serverErrorDetails(resp.Body)

	fields := []zap.Field{
		zap.Int("status", resp.StatusCode),
		zap.Any("details", details),
		zap.Bool("has_payment", diag.HasPayment),
		zap.String("upstream_status", diag.UpstreamStatus),
		zap.String("request_id", diag.RequestID),
	}
	if env, err := payment.Decode(paymentHeader); err == nil {
		fields = append(fields, zap.String("payment_network", env.Network))
	}
	g.logger.Error("provider server error", fields...)

	return &ClassifiedUpstreamError{
		Status:      http.StatusInternalServerError,
		Message:     serverErrorMessage,
		Details:     details,
		Diagnostics: diag,
	}
}

// serverErrorDetails prefers the title of an HTML error page, then a JSON body, then the raw text
func serverErrorDetails(body []byte) interface{} {
	if bytes.Contains(bytes.ToLower(body), []byte("<!doctype html")) {
		if m := htmlTitle.FindSubmatch(body); m != nil {
			return strings.TrimSpace(string(m[1]))
		}
		return "HTML error page"
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	return logging.Truncate(string(body), maxDetailBytes)
}

func providerMessage(resp *interfaces.UpstreamResponse) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return fmt.Sprintf("Request failed with status code %d", resp.StatusCode)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &te) && te.Timeout())
}
