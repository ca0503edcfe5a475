package payment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// USDCDecimals is the number of decimals of the settlement asset
const USDCDecimals = 6

// Envelope is the decoded form of an X-PAYMENT header. It is read for diagnostics only;
// verification and settlement belong to the provider's facilitator.
type Envelope struct {
	X402Version int     `json:"x402Version"`
	Scheme      string  `json:"scheme"`
	Network     string  `json:"network"`
	Payload     Payload `json:"payload"`
}

type Payload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Authorization is the signed transfer authorization. Numeric fields accept JSON numbers
// or numeric strings since signers emit both.
type Authorization struct {
	From        string      `json:"from"`
	To          string      `json:"to"`
	Value       json.Number `json:"value"`
	ValidAfter  json.Number `json:"validAfter"`
	ValidBefore json.Number `json:"validBefore"`
	Nonce       string      `json:"nonce"`
}

var ErrEmptyEnvelope = errors.New("payment envelope is empty")

// NetworkMismatchError reports a payment that targets a different network than the deployment
type NetworkMismatchError struct {
	Expected string
	Actual   string
}

func (e *NetworkMismatchError) Error() string {
	return fmt.Sprintf("payment network (%s) doesn't match expected network (%s)", e.Actual, e.Expected)
}

// Decode parses a base64 X-PAYMENT header value. The header itself is never modified by callers;
// forwarding always uses the original string.
func Decode(header string) (*Envelope, error) {
	raw, err := decodeBase64(header)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("payment envelope is not valid JSON: %w", err)
	}

	return &env, nil
}

// Encode produces the header form of env
func Encode(env *Envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyEnvelope
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(s); err == nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("payment envelope is not valid base64")
}

// CheckNetwork compares the envelope network with the expected deployment network
func (e *Envelope) CheckNetwork(expected string) error {
	if expected == "" || strings.EqualFold(e.Network, expected) {
		return nil
	}
	return &NetworkMismatchError{Expected: expected, Actual: e.Network}
}

// ValueUSDC renders the authorization value in whole USDC with six decimals
func (e *Envelope) ValueUSDC() string {
	return FormatUnits(e.Payload.Authorization.Value.String(), USDCDecimals)
}

// ValidityWindow returns the validAfter/validBefore bounds as times
func (e *Envelope) ValidityWindow() (time.Time, time.Time, error) {
	after, err := unixField(e.Payload.Authorization.ValidAfter)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid validAfter: %w", err)
	}
	before, err := unixField(e.Payload.Authorization.ValidBefore)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid validBefore: %w", err)
	}
	return after, before, nil
}

func unixField(n json.Number) (time.Time, error) {
	secs, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

// Fields flattens the envelope into log fields
func (e *Envelope) Fields(now time.Time) []zap.Field {
	auth := e.Payload.Authorization
	fields := []zap.Field{
		zap.Int("x402_version", e.X402Version),
		zap.String("scheme", e.Scheme),
		zap.String("network", e.Network),
		zap.String("from", auth.From),
		zap.String("to", auth.To),
		zap.String("value_units", auth.Value.String()),
		zap.String("value_usdc", e.ValueUSDC()),
		zap.String("nonce", auth.Nonce),
		zap.String("signature", e.Payload.Signature),
		zap.Int64("now_unix", now.Unix()),
	}
	if after, before, err := e.ValidityWindow(); err == nil {
		fields = append(fields,
			zap.Time("valid_after", after),
			zap.Time("valid_before", before),
		)
	}
	return fields
}

// FormatUnits renders an integer amount of smallest units with the given decimals.
// Invalid input is returned unchanged.
func FormatUnits(units string, decimals int) string {
	v, ok := new(big.Int).SetString(units, 10)
	if !ok {
		return units
	}

	neg := v.Sign() < 0
	v.Abs(v)

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(v, scale, new(big.Int))

	fracStr := frac.String()
	if pad := decimals - len(fracStr); pad > 0 {
		fracStr = strings.Repeat("0", pad) + fracStr
	}

	out := whole.String()
	if decimals > 0 {
		out += "." + fracStr
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ParseUnits parses an integer amount of smallest units
func ParseUnits(units string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(units), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", units)
	}
	return v, nil
}
