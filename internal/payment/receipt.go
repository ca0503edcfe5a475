package payment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Receipt is the decoded X-PAYMENT-RESPONSE header returned after settlement
type Receipt struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// DecodeReceipt parses a base64 X-PAYMENT-RESPONSE value
func DecodeReceipt(header string) (*Receipt, error) {
	raw, err := decodeBase64(header)
	if err != nil {
		return nil, fmt.Errorf("payment receipt: %w", err)
	}

	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("payment receipt is not valid JSON: %w", err)
	}
	return &r, nil
}

// EncodeReceipt produces the header form of r
func EncodeReceipt(r *Receipt) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ExplorerURL links a settlement transaction on the block explorer of its network.
// Unknown networks fall back to Base mainnet.
func ExplorerURL(network, tx string) string {
	if tx == "" {
		return ""
	}
	switch strings.ToLower(network) {
	case "base-sepolia":
		return "https://sepolia.basescan.org/tx/" + tx
	default:
		return "https://basescan.org/tx/" + tx
	}
}
