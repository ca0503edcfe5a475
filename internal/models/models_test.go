package models

import (
	"strings"
	"testing"
)

func TestGenerationRequestValidate(t *testing.T) {
	detailing := 150
	tests := []struct {
		name    string
		req     *GenerationRequest
		wantErr string
	}{
		{"nil", nil, "Prompt is required"},
		{"empty prompt", &GenerationRequest{}, "Prompt is required"},
		{"blank prompt", &GenerationRequest{Prompt: " \t"}, "Prompt is required"},
		{"unknown model passes through", &GenerationRequest{Prompt: "p", Model: "cubist"}, ""},
		{"unknown resolution passes through", &GenerationRequest{Prompt: "p", Resolution: "8k"}, ""},
		{"detailing out of range", &GenerationRequest{Prompt: "p", CreativeDetailing: &detailing}, "creativedetailing"},
		{"minimal", &GenerationRequest{Prompt: "A mountain at sunset"}, ""},
		{"full", &GenerationRequest{Prompt: "p", Model: "zen", Resolution: "4k", AspectRatio: "widescreen_16_9"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]TaskStatus{
		"CREATED":     TaskStatusPending,
		"in_progress": TaskStatusProcessing,
		"COMPLETED":   TaskStatusCompleted,
		"FAILED":      TaskStatusFailed,
		"":            TaskStatusUnknown,
		"weird":       TaskStatusUnknown,
	}
	for raw, want := range tests {
		if got := NormalizeStatus(raw); got != want {
			t.Errorf("NormalizeStatus(%q) = %s, want %s", raw, got, want)
		}
	}

	if !TaskStatusCompleted.Terminal() || !TaskStatusFailed.Terminal() || TaskStatusPending.Terminal() {
		t.Error("Unexpected terminal states")
	}
}

func TestTaskFromEnvelope(t *testing.T) {
	task, ok := TaskFromEnvelope([]byte(`{"data":{"task_id":"t-1","status":"CREATED"}}`))
	if !ok {
		t.Fatal("Expected a task")
	}
	if task.TaskID != "t-1" || task.Status != TaskStatusPending || task.Generated == nil || len(task.Generated) != 0 {
		t.Errorf("Unexpected task %+v", task)
	}

	if _, ok := TaskFromEnvelope([]byte(`{"data":{}}`)); ok {
		t.Error("Expected no task without task_id")
	}
	if _, ok := TaskFromEnvelope([]byte(`<html>`)); ok {
		t.Error("Expected no task from a non-JSON body")
	}
}

func TestTaskCloneIsDeep(t *testing.T) {
	orig := &Task{TaskID: "t", Generated: []string{"a"}, Payload: []byte(`{}`)}
	c := orig.Clone()
	c.Generated[0] = "b"
	c.Payload[0] = '['

	if orig.Generated[0] != "a" || orig.Payload[0] != '{' {
		t.Error("Expected the clone not to share memory")
	}
	if (*Task)(nil).Clone() != nil {
		t.Error("Expected nil clone of nil")
	}
}
