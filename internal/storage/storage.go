package storage

import (
	"context"
	"fmt"

	"github.com/Must-be-Ash/freepik-402demo/internal/models"
)

// TaskStore keeps the latest known state of each task. Put replaces the stored task
// wholesale and stamps it with the current time; concurrent writers to the same key
// resolve as last write wins.
type TaskStore interface {
	Put(ctx context.Context, taskID string, task *models.Task) error
	Get(ctx context.Context, taskID string) (*models.Task, error)
}

type NotFoundError struct {
	TaskID string
}

func NewNotFoundError(taskID string) *NotFoundError {
	return &NotFoundError{TaskID: taskID}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.TaskID)
}

func (e *NotFoundError) Is(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// ErrNotFound matches any NotFoundError through errors.Is
var ErrNotFound error = &NotFoundError{}
