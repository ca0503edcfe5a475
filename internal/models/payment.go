package models

import "encoding/json"

// PaymentRequirement describes one way of paying that would satisfy the provider
type PaymentRequirement struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	Asset             string          `json:"asset"`
	PayTo             string          `json:"payTo"`
	MaxAmountRequired string          `json:"maxAmountRequired"`
	Resource          string          `json:"resource,omitempty"`
	Description       string          `json:"description,omitempty"`
	MimeType          string          `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int64           `json:"maxTimeoutSeconds,omitempty"`
	Extra             json.RawMessage `json:"extra,omitempty"`
}

// PaymentRequired is the body of a 402 response
type PaymentRequired struct {
	X402Version int                  `json:"x402Version"`
	Error       string               `json:"error,omitempty"`
	Accepts     []PaymentRequirement `json:"accepts"`
}
