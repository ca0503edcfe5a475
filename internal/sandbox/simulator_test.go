package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Must-be-Ash/freepik-402demo/internal/api"
	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
	"github.com/Must-be-Ash/freepik-402demo/internal/interfaces"
	"github.com/Must-be-Ash/freepik-402demo/internal/models"
	"github.com/Must-be-Ash/freepik-402demo/internal/payment"
)

const payTo = "0x000000000000000000000000000000000000dEaD"

type delivery struct {
	url    string
	body   []byte
	secret string
}

type recordingSender struct {
	mu         sync.Mutex
	deliveries []delivery
	done       chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{done: make(chan struct{}, 10)}
}

func (r *recordingSender) Deliver(_ context.Context, url string, body []byte, secret string) error {
	r.mu.Lock()
	r.deliveries = append(r.deliveries, delivery{url: url, body: body, secret: secret})
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func testEnvelope(t *testing.T, network, nonce, value string) string {
	t.Helper()
	header, err := payment.Encode(&payment.Envelope{
		X402Version: 1,
		Scheme:      "exact",
		Network:     network,
		Payload: payment.Payload{
			Signature: "0xsig",
			Authorization: payment.Authorization{
				From:        "0xpayer",
				To:          payTo,
				Value:       json.Number(value),
				ValidAfter:  "0",
				ValidBefore: "4102444800",
				Nonce:       nonce,
			},
		},
	})
	if err != nil {
		t.Fatalf("Failed to encode envelope: %v", err)
	}
	return header
}

func newTestSimulator(t *testing.T, sender Deliverer, delay time.Duration, c clock.Clock) *Simulator {
	t.Helper()
	if c == nil {
		c = clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	}
	sim := NewSimulator(Config{
		APIKey:          "key",
		Network:         "base",
		PayTo:           payTo,
		Price:           "50000",
		ImageBaseURL:    "https://example",
		WebhookSecret:   "whsec",
		CompletionDelay: delay,
		Sender:          sender,
		Clock:           c,
		Logger:          zaptest.NewLogger(t),
	})
	t.Cleanup(sim.Close)
	return sim
}

func generate(t *testing.T, sim *Simulator, paymentHeader string) *interfaces.UpstreamResponse {
	t.Helper()
	resp, err := sim.Generate(context.Background(), interfaces.GenerateCall{
		APIKey:  "key",
		Body:    []byte(`{"prompt":"A mountain at sunset","webhook_url":"http://localhost:3000/api/webhooks/freepik"}`),
		Payment: paymentHeader,
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	return resp
}

func TestGenerateWithoutPaymentReturnsRequirements(t *testing.T) {
	sim := newTestSimulator(t, nil, 0, nil)

	resp := generate(t, sim, "")
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d", resp.StatusCode)
	}

	var body models.PaymentRequired
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("Failed to decode 402 body: %v", err)
	}
	if len(body.Accepts) == 0 {
		t.Fatal("Expected a non-empty accepts list")
	}
	if body.Accepts[0].PayTo != payTo || body.Accepts[0].MaxAmountRequired != "50000" {
		t.Errorf("Unexpected requirement %+v", body.Accepts[0])
	}
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	sim := newTestSimulator(t, nil, 0, nil)

	resp, _ := sim.Generate(context.Background(), interfaces.GenerateCall{APIKey: "wrong", Body: []byte(`{"prompt":"x"}`)})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a wrong key, got %d", resp.StatusCode)
	}

	resp, _ = sim.Generate(context.Background(), interfaces.GenerateCall{APIKey: "key", Body: []byte(`{"prompt":" "}`)})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for a blank prompt, got %d", resp.StatusCode)
	}
}

func TestGenerateWithPaymentCreatesTask(t *testing.T) {
	sim := newTestSimulator(t, nil, 0, nil)

	resp := generate(t, sim, testEnvelope(t, "base", "0x01", "50000"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	receipt, err := payment.DecodeReceipt(resp.Header.Get(api.HeaderPaymentResponse))
	if err != nil {
		t.Fatalf("Failed to decode receipt: %v", err)
	}
	if !receipt.Success || receipt.Payer != "0xpayer" || !strings.HasPrefix(receipt.Transaction, "0x") {
		t.Errorf("Unexpected receipt %+v", receipt)
	}

	task, ok := models.TaskFromEnvelope(resp.Body)
	if !ok {
		t.Fatalf("Expected task envelope, got %s", resp.Body)
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("Expected pending status, got %s", task.Status)
	}

	status, _ := sim.TaskStatus(context.Background(), "key", task.TaskID)
	if status.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", status.StatusCode)
	}

	missing, _ := sim.TaskStatus(context.Background(), "key", "nope")
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown task, got %d", missing.StatusCode)
	}
}

func TestGenerateRejectsInvalidPayments(t *testing.T) {
	sim := newTestSimulator(t, nil, 0, nil)

	if resp := generate(t, sim, testEnvelope(t, "base", "0x02", "50000")); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected first payment to succeed, got %d", resp.StatusCode)
	}

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"replayed nonce", testEnvelope(t, "base", "0x02", "50000"), "already been used"},
		{"wrong network", testEnvelope(t, "base-sepolia", "0x03", "50000"), "network"},
		{"underpaid", testEnvelope(t, "base", "0x04", "49999"), "below"},
		{"not base64", "%%%", "base64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := generate(t, sim, tt.header)
			if resp.StatusCode != http.StatusPaymentRequired {
				t.Fatalf("Expected 402, got %d", resp.StatusCode)
			}
			var body models.PaymentRequired
			_ = json.Unmarshal(resp.Body, &body)
			if !strings.Contains(body.Error, "Payment verification failed") || !strings.Contains(body.Error, tt.message) {
				t.Errorf("Unexpected error %q", body.Error)
			}
		})
	}
}

func TestCompleteDeliversWebhook(t *testing.T) {
	sender := newRecordingSender()
	sim := newTestSimulator(t, sender, 0, nil)

	resp := generate(t, sim, testEnvelope(t, "base", "0x05", "50000"))
	task, _ := models.TaskFromEnvelope(resp.Body)

	if err := sim.Complete(context.Background(), task.TaskID); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	if len(sender.deliveries) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(sender.deliveries))
	}
	d := sender.deliveries[0]
	if d.url != "http://localhost:3000/api/webhooks/freepik" || d.secret != "whsec" {
		t.Errorf("Unexpected delivery target %+v", d)
	}

	var body models.TaskDescriptor
	if err := json.Unmarshal(d.body, &body); err != nil {
		t.Fatalf("Failed to decode webhook body: %v", err)
	}
	if body.TaskID != task.TaskID || body.Status != StatusCompleted || len(body.Generated) != 1 {
		t.Errorf("Unexpected webhook body %+v", body)
	}
	if body.Generated[0] != "https://example/"+task.TaskID+".png" {
		t.Errorf("Unexpected image url %s", body.Generated[0])
	}
}

func TestAutomaticCompletionAfterDelay(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sender := newRecordingSender()
	sim := newTestSimulator(t, sender, 3*time.Second, fake)

	generate(t, sim, testEnvelope(t, "base", "0x06", "50000"))

	fake.Advance(2 * time.Second)
	select {
	case <-sender.done:
		t.Fatal("Expected no delivery before the delay elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	fake.Advance(time.Second)
	select {
	case <-sender.done:
	case <-time.After(time.Second):
		t.Fatal("Expected a delivery once the delay elapsed")
	}
}

func TestRouterServesProviderPaths(t *testing.T) {
	sim := newTestSimulator(t, nil, 0, nil)
	srv := httptest.NewServer(NewRouter(sim, "/v1/x402/ai/mystic", "/v1/ai/mystic"))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/x402/ai/mystic", bytes.NewBufferString(`{"prompt":"p"}`))
	req.Header.Set(api.HeaderProviderAPIKey, "key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("Expected 402, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/v1/x402/ai/mystic", bytes.NewBufferString(`{"prompt":"p"}`))
	req.Header.Set(api.HeaderProviderAPIKey, "key")
	req.Header.Set(api.HeaderPayment, testEnvelope(t, "base", "0x07", "50000"))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	var env models.TaskEnvelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get(api.HeaderPaymentResponse) == "" {
		t.Fatalf("Expected 200 with receipt, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v1/ai/mystic/"+env.Data.TaskID, nil)
	req.Header.Set(api.HeaderProviderAPIKey, "key")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/sandbox/tasks/"+env.Data.TaskID+"/complete", "application/json", nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected complete 200, got %d", resp.StatusCode)
	}
}
