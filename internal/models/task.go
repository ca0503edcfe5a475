package models

import (
	"encoding/json"
	"strings"
	"time"
)

// TaskStatus is the normalized lifecycle state of a provider task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusUnknown    TaskStatus = "unknown"
)

// NormalizeStatus maps provider status strings (CREATED, IN_PROGRESS, COMPLETED, ...) onto TaskStatus
func NormalizeStatus(raw string) TaskStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CREATED", "PENDING", "QUEUED":
		return TaskStatusPending
	case "IN_PROGRESS", "PROCESSING", "RUNNING":
		return TaskStatusProcessing
	case "COMPLETED", "COMPLETE", "SUCCEEDED", "SUCCESS":
		return TaskStatusCompleted
	case "FAILED", "ERROR", "CANCELLED", "CANCELED":
		return TaskStatusFailed
	default:
		return TaskStatusUnknown
	}
}

// Terminal reports whether no further updates are expected
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is the stored result of a provider task. Each write replaces it wholesale.
type Task struct {
	TaskID    string          `json:"task_id"`
	Status    TaskStatus      `json:"status"`
	Generated []string        `json:"generated"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Clone returns a deep copy so stored state is never shared with callers
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Generated != nil {
		c.Generated = append([]string(nil), t.Generated...)
	}
	if t.Payload != nil {
		c.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	return &c
}

// HasImages reports whether the task carries at least one generated image
func (t *Task) HasImages() bool {
	return t != nil && len(t.Generated) > 0
}

// TaskDescriptor is the provider's task shape, found under "data" in generation and status
// responses and at the top level in webhook deliveries
type TaskDescriptor struct {
	TaskID    string   `json:"task_id"`
	Status    string   `json:"status"`
	Generated []string `json:"generated"`
}

// TaskEnvelope wraps a TaskDescriptor the way the provider's REST responses do
type TaskEnvelope struct {
	Data TaskDescriptor `json:"data"`
}

// TaskFromEnvelope decodes a provider status/generation body into a Task. ok is false when
// the body carries no task id.
func TaskFromEnvelope(body []byte) (*Task, bool) {
	var env TaskEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Data.TaskID == "" {
		return nil, false
	}

	generated := env.Data.Generated
	if generated == nil {
		generated = []string{}
	}

	return &Task{
		TaskID:    env.Data.TaskID,
		Status:    NormalizeStatus(env.Data.Status),
		Generated: generated,
		Payload:   append(json.RawMessage(nil), body...),
	}, true
}
