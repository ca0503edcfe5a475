package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/Must-be-Ash/freepik-402demo/internal/models"
	"github.com/Must-be-Ash/freepik-402demo/internal/payment"
)

// StaticSigner pays with an envelope signed ahead of time by an external wallet
type StaticSigner struct {
	Envelope string
}

// Sign returns the stored envelope after checking it matches the requirement
func (s StaticSigner) Sign(_ context.Context, req models.PaymentRequirement) (string, error) {
	if strings.TrimSpace(s.Envelope) == "" {
		return "", fmt.Errorf("No Web3 wallet: no pre-signed payment envelope configured")
	}

	env, err := payment.Decode(s.Envelope)
	if err != nil {
		return "", err
	}
	if err := env.CheckNetwork(req.Network); err != nil {
		return "", err
	}
	if req.PayTo != "" && !strings.EqualFold(env.Payload.Authorization.To, req.PayTo) {
		return "", fmt.Errorf("envelope pays %s, requirement asks for %s", env.Payload.Authorization.To, req.PayTo)
	}
	return s.Envelope, nil
}
