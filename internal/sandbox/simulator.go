package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/api"
	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
	"github.com/Must-be-Ash/freepik-402demo/internal/interfaces"
	"github.com/Must-be-Ash/freepik-402demo/internal/models"
	"github.com/Must-be-Ash/freepik-402demo/internal/payment"
)

// Provider-side task states
const (
	StatusCreated    = "CREATED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

// Deliverer posts a signed webhook body to a callback URL
type Deliverer interface {
	Deliver(ctx context.Context, url string, body []byte, secret string) error
}

// Config describes the simulated provider
type Config struct {
	APIKey        string // empty accepts any key
	Network       string
	Asset         string
	PayTo         string
	Price         string // smallest units
	Resource      string
	ImageBaseURL  string
	WebhookSecret string
	// CompletionDelay schedules automatic completion; zero leaves tasks pending until Complete
	CompletionDelay time.Duration
	Sender          Deliverer
	Clock           clock.Clock
	Logger          *zap.Logger
}

type task struct {
	id        string
	prompt    string
	callback  string
	status    string
	generated []string
}

// Simulator emulates the provider's x402 generation endpoint, its status endpoint and its
// completion webhooks. Payments are checked for shape only; nothing is settled.
type Simulator struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	tasks  map[string]*task
	nonces map[string]struct{}
	timers []clock.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSimulator(cfg Config) *Simulator {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Network == "" {
		cfg.Network = "base"
	}
	if cfg.Price == "" {
		cfg.Price = "50000"
	}
	if cfg.ImageBaseURL == "" {
		cfg.ImageBaseURL = "https://sandbox.invalid/images"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Simulator{
		cfg:    cfg,
		logger: cfg.Logger,
		tasks:  make(map[string]*task),
		nonces: make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Requirement is the single payment option the simulator advertises
func (s *Simulator) Requirement() models.PaymentRequirement {
	return models.PaymentRequirement{
		Scheme:            "exact",
		Network:           s.cfg.Network,
		Asset:             s.cfg.Asset,
		PayTo:             s.cfg.PayTo,
		MaxAmountRequired: s.cfg.Price,
		Resource:          s.cfg.Resource,
		Description:       "Mystic image generation",
		MimeType:          "application/json",
		MaxTimeoutSeconds: 300,
		Extra:             json.RawMessage(`{"name":"USD Coin","version":"2"}`),
	}
}

// Generate handles one generation attempt
func (s *Simulator) Generate(_ context.Context, call interfaces.GenerateCall) (*interfaces.UpstreamResponse, error) {
	if s.cfg.APIKey != "" && call.APIKey != s.cfg.APIKey {
		return jsonResponse(http.StatusUnauthorized, nil, map[string]string{"message": "Invalid API key"}), nil
	}

	var req models.UpstreamGenerationRequest
	if err := json.Unmarshal(call.Body, &req); err != nil {
		return jsonResponse(http.StatusBadRequest, nil, map[string]string{"message": "Invalid JSON body"}), nil
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return jsonResponse(http.StatusBadRequest, nil, map[string]string{"message": "prompt is required"}), nil
	}

	if call.Payment == "" {
		return s.paymentRequired("X-PAYMENT header is required"), nil
	}

	env, err := s.verify(call.Payment)
	if err != nil {
		s.logger.Info("payment rejected", zap.Error(err))
		return s.paymentRequired("Payment verification failed: " + err.Error()), nil
	}

	t := &task{
		id:        uuid.NewString(),
		prompt:    req.Prompt,
		callback:  req.WebhookURL,
		status:    StatusCreated,
		generated: []string{},
	}

	s.mu.Lock()
	s.tasks[t.id] = t
	if s.cfg.CompletionDelay > 0 {
		s.scheduleLocked(t.id)
	}
	s.mu.Unlock()

	receipt, err := payment.EncodeReceipt(&payment.Receipt{
		Success:     true,
		Transaction: settlementHash(env.Payload.Authorization.Nonce),
		Network:     env.Network,
		Payer:       env.Payload.Authorization.From,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task created",
		zap.String("task_id", t.id),
		zap.String("payer", env.Payload.Authorization.From),
		zap.String("value_usdc", env.ValueUSDC()),
	)

	header := http.Header{}
	header.Set(api.HeaderPaymentResponse, receipt)
	return jsonResponse(http.StatusOK, header, s.envelope(t)), nil
}

// verify checks the envelope against the advertised requirement and burns its nonce
func (s *Simulator) verify(header string) (*payment.Envelope, error) {
	env, err := payment.Decode(header)
	if err != nil {
		return nil, err
	}
	if err := env.CheckNetwork(s.cfg.Network); err != nil {
		return nil, err
	}

	auth := env.Payload.Authorization
	if s.cfg.PayTo != "" && !strings.EqualFold(auth.To, s.cfg.PayTo) {
		return nil, fmt.Errorf("recipient %s does not match %s", auth.To, s.cfg.PayTo)
	}

	value, err := payment.ParseUnits(auth.Value.String())
	if err != nil {
		return nil, err
	}
	price, err := payment.ParseUnits(s.cfg.Price)
	if err != nil {
		return nil, err
	}
	if value.Cmp(price) < 0 {
		return nil, fmt.Errorf("value %s is below the required %s", auth.Value, s.cfg.Price)
	}

	if after, before, err := env.ValidityWindow(); err == nil {
		now := s.cfg.Clock.Now()
		if now.Before(after) || !now.Before(before) {
			return nil, fmt.Errorf("authorization is outside its validity window")
		}
	}

	if auth.Nonce == "" {
		return nil, fmt.Errorf("authorization nonce is missing")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, used := s.nonces[auth.Nonce]; used {
		return nil, fmt.Errorf("nonce %s has already been used", auth.Nonce)
	}
	s.nonces[auth.Nonce] = struct{}{}

	return env, nil
}

// TaskStatus answers a status query
func (s *Simulator) TaskStatus(_ context.Context, apiKey, taskID string) (*interfaces.UpstreamResponse, error) {
	if s.cfg.APIKey != "" && apiKey != s.cfg.APIKey {
		return jsonResponse(http.StatusUnauthorized, nil, map[string]string{"message": "Invalid API key"}), nil
	}

	s.mu.Lock()
	t, ok := s.tasks[taskID]
	var body models.TaskEnvelope
	if ok {
		body = s.envelope(t)
	}
	s.mu.Unlock()

	if !ok {
		return jsonResponse(http.StatusNotFound, nil, map[string]string{"message": "Task not found"}), nil
	}
	return jsonResponse(http.StatusOK, nil, body), nil
}

func (s *Simulator) Endpoint() string {
	if s.cfg.Resource != "" {
		return s.cfg.Resource
	}
	return "sandbox://mystic"
}

// Start marks a created task as in progress
func (s *Simulator) Start(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	if t.status == StatusCreated {
		t.status = StatusInProgress
	}
	return nil
}

// Complete finishes a task and notifies its callback URL, if it has one
func (s *Simulator) Complete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s not found", taskID)
	}
	t.status = StatusCompleted
	t.generated = []string{fmt.Sprintf("%s/%s.png", strings.TrimSuffix(s.cfg.ImageBaseURL, "/"), t.id)}
	callback := t.callback
	body, err := json.Marshal(models.TaskDescriptor{
		TaskID:    t.id,
		Status:    t.status,
		Generated: append([]string(nil), t.generated...),
	})
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	s.logger.Info("task completed", zap.String("task_id", taskID), zap.String("callback", callback))

	if callback == "" || s.cfg.Sender == nil {
		return nil
	}
	return s.cfg.Sender.Deliver(ctx, callback, body, s.cfg.WebhookSecret)
}

// Close cancels pending automatic completions
func (s *Simulator) Close() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

func (s *Simulator) scheduleLocked(taskID string) {
	timer := s.cfg.Clock.NewTimer(s.cfg.CompletionDelay)
	s.timers = append(s.timers, timer)

	go func() {
		select {
		case <-timer.C():
			if err := s.Complete(s.ctx, taskID); err != nil {
				s.logger.Warn("automatic completion failed", zap.String("task_id", taskID), zap.Error(err))
			}
		case <-s.ctx.Done():
		}
	}()
}

func (s *Simulator) envelope(t *task) models.TaskEnvelope {
	return models.TaskEnvelope{Data: models.TaskDescriptor{
		TaskID:    t.id,
		Status:    t.status,
		Generated: append([]string{}, t.generated...),
	}}
}

func (s *Simulator) paymentRequired(reason string) *interfaces.UpstreamResponse {
	return jsonResponse(http.StatusPaymentRequired, nil, models.PaymentRequired{
		X402Version: 1,
		Error:       reason,
		Accepts:     []models.PaymentRequirement{s.Requirement()},
	})
}

func settlementHash(nonce string) string {
	sum := sha256.Sum256([]byte("settle:" + nonce))
	return "0x" + hex.EncodeToString(sum[:])
}

func jsonResponse(status int, header http.Header, v interface{}) *interfaces.UpstreamResponse {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")

	body, err := json.Marshal(v)
	if err != nil {
		body = []byte(`{"message":"internal error"}`)
		status = http.StatusInternalServerError
	}
	return &interfaces.UpstreamResponse{StatusCode: status, Header: header, Body: body}
}
