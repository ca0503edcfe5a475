package api

// APIError represents the normalized JSON error body returned to callers
type APIError struct {
	Error       string       `json:"error"`
	Code        string       `json:"code,omitempty"`
	Message     string       `json:"message,omitempty"`
	Status      int          `json:"status,omitempty"`
	Details     interface{}  `json:"details,omitempty"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
	ErrorType   string       `json:"errorType,omitempty"`
	Facilitator string       `json:"facilitatorUrl,omitempty"`
	TaskID      string       `json:"task_id,omitempty"`
}

// Diagnostics carries upstream identifiers for operator debugging
type Diagnostics struct {
	HasPayment      bool   `json:"hasPayment"`
	UpstreamStatus  string `json:"upstreamStatus,omitempty"`
	RequestID       string `json:"requestId,omitempty"`
	SuggestedAction string `json:"suggestedAction,omitempty"`
}

// Common error codes
const (
	ErrorCodeValidationFailed    = "VALIDATION_FAILED"
	ErrorCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrorCodeUpstreamUnreachable = "UPSTREAM_UNREACHABLE"
	ErrorCodeUpstreamError       = "UPSTREAM_ERROR"
	ErrorCodeUnexpectedStatus    = "UNEXPECTED_UPSTREAM_STATUS"
	ErrorCodeWebhookAuth         = "WEBHOOK_AUTH_FAILED"
	ErrorCodeMalformedPayload    = "MALFORMED_PAYLOAD"
	ErrorCodeTaskNotFound        = "TASK_NOT_FOUND"
	ErrorCodeInternalError       = "INTERNAL_ERROR"
)

// WebhookAck is returned to the provider after a delivery is stored
type WebhookAck struct {
	Success  bool   `json:"success"`
	Received string `json:"received"`
}
