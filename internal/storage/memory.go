package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
	"github.com/Must-be-Ash/freepik-402demo/internal/models"
)

// MemoryStorage provides thread-safe in-memory storage for task results. Contents are lost
// when the process exits.
type MemoryStorage struct {
	mu         sync.RWMutex
	tasks      map[string]*models.Task // key: task_id
	clock      clock.Clock
	maxTaskAge time.Duration
	logger     *zap.Logger
}

// NewMemoryStorage creates a new in-memory storage instance. A zero maxTaskAge keeps tasks for
// the lifetime of the process.
func NewMemoryStorage(c clock.Clock, maxTaskAge time.Duration, logger *zap.Logger) *MemoryStorage {
	if c == nil {
		c = clock.NewClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStorage{
		tasks:      make(map[string]*models.Task),
		clock:      c,
		maxTaskAge: maxTaskAge,
		logger:     logger,
	}
}

// Put stores a copy of task under taskID, replacing whatever was there
func (ms *MemoryStorage) Put(_ context.Context, taskID string, task *models.Task) error {
	if taskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if task == nil {
		return fmt.Errorf("task is required")
	}

	stored := task.Clone()
	stored.TaskID = taskID
	stored.Timestamp = ms.clock.Now().UTC()

	ms.mu.Lock()
	ms.tasks[taskID] = stored
	ms.mu.Unlock()

	ms.logger.Debug("stored task",
		zap.String("task_id", taskID),
		zap.String("status", string(stored.Status)),
		zap.Int("images", len(stored.Generated)),
	)

	return nil
}

// Get returns a copy of the stored task
func (ms *MemoryStorage) Get(_ context.Context, taskID string) (*models.Task, error) {
	ms.mu.RLock()
	task, exists := ms.tasks[taskID]
	ms.mu.RUnlock()

	if !exists {
		return nil, NewNotFoundError(taskID)
	}
	return task.Clone(), nil
}

// Cleanup removes tasks older than the configured max age
func (ms *MemoryStorage) Cleanup() int {
	if ms.maxTaskAge <= 0 {
		return 0
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.clock.Now()
	removed := 0
	for taskID, task := range ms.tasks {
		if now.Sub(task.Timestamp) > ms.maxTaskAge {
			delete(ms.tasks, taskID)
			removed++
		}
	}

	if removed > 0 {
		ms.logger.Info("cleanup completed", zap.Int("removed", removed))
	}
	return removed
}

// StartCleanupRoutine starts a background routine that expires old tasks until ctx is done.
// It does nothing when no max age is configured.
func (ms *MemoryStorage) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	if ms.maxTaskAge <= 0 || interval <= 0 {
		return
	}

	go func() {
		ticker := ms.clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C():
				ms.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	ms.logger.Info("started cleanup routine", zap.Duration("interval", interval), zap.Duration("max_task_age", ms.maxTaskAge))
}

// Stats returns the number of stored tasks and how many of them have images
func (ms *MemoryStorage) Stats() (int, int) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	total := len(ms.tasks)
	completed := 0
	for _, task := range ms.tasks {
		if task.HasImages() {
			completed++
		}
	}
	return total, completed
}
