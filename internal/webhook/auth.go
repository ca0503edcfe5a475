package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Must-be-Ash/freepik-402demo/internal/api"
	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
)

// DefaultReplayWindow bounds how far a delivery timestamp may drift from now
const DefaultReplayWindow = 5 * time.Minute

// SignatureVersion is the only signature scheme accepted
const SignatureVersion = "v1"

// Result is the outcome of authenticating one delivery
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// AuthError is returned when a delivery fails authentication
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "webhook validation failed: " + e.Reason
}

// Authenticator verifies timestamped HMAC-SHA256 webhook signatures
type Authenticator struct {
	clock  clock.Clock
	window time.Duration
}

// NewAuthenticator creates an authenticator. A non-positive window selects DefaultReplayWindow.
func NewAuthenticator(c clock.Clock, window time.Duration) *Authenticator {
	if c == nil {
		c = clock.NewClock()
	}
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &Authenticator{clock: c, window: window}
}

// Authenticate checks the timestamp first, then the signature over "{id}.{timestamp}.{body}"
func (a *Authenticator) Authenticate(id, timestamp, signature string, rawBody []byte, secret string) Result {
	if !a.timestampFresh(timestamp) {
		return Result{Reason: "Webhook timestamp is too old or invalid"}
	}

	if !VerifySignature(id, timestamp, rawBody, signature, secret) {
		return Result{Reason: "Webhook signature verification failed"}
	}

	return Result{Valid: true}
}

func (a *Authenticator) timestampFresh(timestamp string) bool {
	secs, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return false
	}

	drift := a.clock.Now().Sub(time.Unix(secs, 0))
	if drift < 0 {
		drift = -drift
	}
	return drift <= a.window
}

// ComputeSignature returns the base64 HMAC-SHA256 of "{id}.{timestamp}.{body}"
func ComputeSignature(id, timestamp string, rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature accepts a header listing space separated "version,value" pairs when any
// v1 pair matches exactly
func VerifySignature(id, timestamp string, rawBody []byte, header, secret string) bool {
	expected := ComputeSignature(id, timestamp, rawBody, secret)

	for _, pair := range strings.Fields(header) {
		version, value, ok := strings.Cut(pair, ",")
		if !ok || version != SignatureVersion {
			continue
		}
		if hmac.Equal([]byte(value), []byte(expected)) {
			return true
		}
	}
	return false
}

// Headers produces the three delivery headers for body, signed at now
func Headers(id string, now time.Time, rawBody []byte, secret string) map[string]string {
	ts := strconv.FormatInt(now.Unix(), 10)
	return map[string]string{
		api.HeaderWebhookID:        id,
		api.HeaderWebhookTimestamp: ts,
		api.HeaderWebhookSignature: fmt.Sprintf("%s,%s", SignatureVersion, ComputeSignature(id, ts, rawBody, secret)),
	}
}
