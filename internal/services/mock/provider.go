package mock

import (
	"context"

	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/interfaces"
	"github.com/Must-be-Ash/freepik-402demo/internal/sandbox"
)

// MockProvider serves generation and status calls in process, without network access
type MockProvider struct {
	sim    *sandbox.Simulator
	logger *zap.Logger
}

func NewMockProvider(sim *sandbox.Simulator, logger *zap.Logger) *MockProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockProvider{
		sim:    sim,
		logger: logger,
	}
}

func (m *MockProvider) Generate(ctx context.Context, call interfaces.GenerateCall) (*interfaces.UpstreamResponse, error) {
	m.logger.Debug("[MOCK] generate", zap.Bool("has_payment", call.Payment != ""), zap.Int("body_bytes", len(call.Body)))

	resp, err := m.sim.Generate(ctx, call)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("[MOCK] generate answered", zap.Int("status", resp.StatusCode))
	return resp, nil
}

func (m *MockProvider) TaskStatus(ctx context.Context, apiKey, taskID string) (*interfaces.UpstreamResponse, error) {
	m.logger.Debug("[MOCK] task status", zap.String("task_id", taskID))
	return m.sim.TaskStatus(ctx, apiKey, taskID)
}

func (m *MockProvider) Endpoint() string {
	return m.sim.Endpoint()
}

// Simulator exposes the backing simulator so callers can complete tasks by hand
func (m *MockProvider) Simulator() *sandbox.Simulator {
	return m.sim
}

// Close stops pending automatic completions
func (m *MockProvider) Close() {
	m.sim.Close()
}
