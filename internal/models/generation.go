package models

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// GenerationRequest represents an image generation submission
type GenerationRequest struct {
	Prompt            string `json:"prompt" validate:"required"`
	Model             string `json:"model,omitempty"`
	Resolution        string `json:"resolution,omitempty"`
	AspectRatio       string `json:"aspect_ratio,omitempty"`
	CreativeDetailing *int   `json:"creative_detailing,omitempty" validate:"omitempty,min=0,max=100"`
	Engine            string `json:"engine,omitempty"`
	FixedGeneration   *bool  `json:"fixed_generation,omitempty"`
	FilterNSFW        *bool  `json:"filter_nsfw,omitempty"`
}

// UpstreamGenerationRequest is the body sent to the provider: the caller's fields plus the
// callback the provider invokes when the task finishes
type UpstreamGenerationRequest struct {
	GenerationRequest
	WebhookURL string `json:"webhook_url"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the request before anything is sent upstream
func (r *GenerationRequest) Validate() error {
	if r == nil || strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("Prompt is required")
	}

	if err := requestValidator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed '%s' check", strings.ToLower(fe.Field()), fe.Tag())
		}
		return err
	}

	return nil
}
