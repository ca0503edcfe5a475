package gateway

import (
	"fmt"

	"github.com/Must-be-Ash/freepik-402demo/internal/api"
)

// ValidationError reports bad caller input. It is never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConfigurationError reports a deployment problem, such as a missing provider credential
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// UpstreamUnreachableError reports that no response was received from the provider
type UpstreamUnreachableError struct {
	Endpoint string
	Cause    error
}

func (e *UpstreamUnreachableError) Error() string {
	return fmt.Sprintf("provider unreachable at %s: %v", e.Endpoint, e.Cause)
}

func (e *UpstreamUnreachableError) Unwrap() error {
	return e.Cause
}

// ErrorType names the class of the underlying cause for diagnostics
func (e *UpstreamUnreachableError) ErrorType() string {
	if e.Cause == nil {
		return "UnknownError"
	}
	return fmt.Sprintf("%T", e.Cause)
}

// ClassifiedUpstreamError is a provider 500 turned into a diagnostic error body
type ClassifiedUpstreamError struct {
	Status      int
	Message     string
	Details     interface{}
	Diagnostics api.Diagnostics
}

func (e *ClassifiedUpstreamError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.Status, e.Message)
}

// UnexpectedUpstreamStatusError is any provider status outside 200, 402 and 500
type UnexpectedUpstreamStatusError struct {
	Status int
	Body   []byte
}

func (e *UnexpectedUpstreamStatusError) Error() string {
	return fmt.Sprintf("unexpected provider status %d", e.Status)
}

// StatusQueryError is a failed task-status proxy call. Status is the provider's status, or
// 500 when the provider could not be reached.
type StatusQueryError struct {
	TaskID  string
	Status  int
	Message string
	Cause   error
}

func (e *StatusQueryError) Error() string {
	return fmt.Sprintf("status query for task %s failed (%d): %s", e.TaskID, e.Status, e.Message)
}

func (e *StatusQueryError) Unwrap() error {
	return e.Cause
}
