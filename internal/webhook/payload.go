package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/Must-be-Ash/freepik-402demo/internal/models"
)

// MalformedPayloadError is returned when a delivery lacks a required field
type MalformedPayloadError struct {
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	return "malformed webhook payload: " + e.Reason
}

type deliveryBody struct {
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status"`
	Generated *[]string `json:"generated"`
	Data      *struct {
		Generated []string `json:"generated"`
	} `json:"data"`
}

// ParsePayload extracts the task carried by a delivery. The image list comes from the
// top-level "generated" field, falling back to "data.generated".
func ParsePayload(rawBody []byte) (*models.Task, error) {
	var body deliveryBody
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return nil, &MalformedPayloadError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	if body.TaskID == "" {
		return nil, &MalformedPayloadError{Reason: "No task_id provided"}
	}

	generated := []string{}
	switch {
	case body.Generated != nil && *body.Generated != nil:
		generated = *body.Generated
	case body.Data != nil && body.Data.Generated != nil:
		generated = body.Data.Generated
	}

	return &models.Task{
		TaskID:    body.TaskID,
		Status:    models.NormalizeStatus(body.Status),
		Generated: generated,
		Payload:   append(json.RawMessage(nil), rawBody...),
	}, nil
}
