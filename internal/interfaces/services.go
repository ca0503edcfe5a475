package interfaces

import (
	"context"
	"net/http"
)

// Provider is the upstream image generation service. Implementations return an error only
// when no response was received; every HTTP status is reported through UpstreamResponse.
type Provider interface {
	Generate(ctx context.Context, call GenerateCall) (*UpstreamResponse, error)
	TaskStatus(ctx context.Context, apiKey, taskID string) (*UpstreamResponse, error)
	// Endpoint identifies the generation endpoint in diagnostics
	Endpoint() string
}

// GenerateCall is one outbound generation attempt. Payment is forwarded byte for byte and
// omitted when empty.
type GenerateCall struct {
	APIKey  string
	Body    []byte
	Payment string
}

// UpstreamResponse is a raw provider response
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
