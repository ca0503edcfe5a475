package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
	"github.com/Must-be-Ash/freepik-402demo/internal/models"
)

var start = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T, maxAge time.Duration) (*MemoryStorage, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(start)
	return NewMemoryStorage(fake, maxAge, zaptest.NewLogger(t)), fake
}

func TestPutThenGetReturnsLastPut(t *testing.T) {
	ms, fake := newTestStorage(t, 0)
	ctx := context.Background()

	first := &models.Task{TaskID: "t1", Status: models.TaskStatusPending, Generated: []string{}}
	if err := ms.Put(ctx, "t1", first); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	fake.Advance(time.Minute)
	second := &models.Task{
		TaskID:    "t1",
		Status:    models.TaskStatusCompleted,
		Generated: []string{"https://example/img1.png"},
		Payload:   json.RawMessage(`{"task_id":"t1"}`),
	}
	if err := ms.Put(ctx, "t1", second); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	got, err := ms.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != models.TaskStatusCompleted || len(got.Generated) != 1 || got.Generated[0] != "https://example/img1.png" {
		t.Errorf("Expected last put value, got %+v", got)
	}
	if string(got.Payload) != `{"task_id":"t1"}` {
		t.Errorf("Unexpected payload %s", got.Payload)
	}
	if !got.Timestamp.Equal(start.Add(time.Minute)) {
		t.Errorf("Expected timestamp of the last write, got %v", got.Timestamp)
	}
}

func TestGetUnknownKey(t *testing.T) {
	ms, _ := newTestStorage(t, 0)

	_, err := ms.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.TaskID != "missing" {
		t.Errorf("Expected NotFoundError for 'missing', got %v", err)
	}
}

func TestStoredTaskIsIsolatedFromCallers(t *testing.T) {
	ms, _ := newTestStorage(t, 0)
	ctx := context.Background()

	task := &models.Task{TaskID: "t1", Generated: []string{"a.png"}}
	if err := ms.Put(ctx, "t1", task); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	task.Generated[0] = "mutated.png"

	got, _ := ms.Get(ctx, "t1")
	got.Generated = append(got.Generated, "extra.png")

	again, _ := ms.Get(ctx, "t1")
	if len(again.Generated) != 1 || again.Generated[0] != "a.png" {
		t.Errorf("Stored task was mutated through a caller reference: %v", again.Generated)
	}
}

func TestPutRejectsEmptyKey(t *testing.T) {
	ms, _ := newTestStorage(t, 0)
	if err := ms.Put(context.Background(), "", &models.Task{}); err == nil {
		t.Error("Expected error for empty task id")
	}
	if err := ms.Put(context.Background(), "t1", nil); err == nil {
		t.Error("Expected error for nil task")
	}
}

func TestConcurrentPuts(t *testing.T) {
	ms, _ := newTestStorage(t, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = ms.Put(ctx, "shared", &models.Task{Generated: []string{fmt.Sprintf("%d.png", i)}})
		}(i)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("t%d", i)
			_ = ms.Put(ctx, key, &models.Task{Status: models.TaskStatusPending})
			_, _ = ms.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	got, err := ms.Get(ctx, "shared")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if len(got.Generated) != 1 {
		t.Errorf("Expected exactly one writer's value to win, got %v", got.Generated)
	}

	total, _ := ms.Stats()
	if total != 51 {
		t.Errorf("Expected 51 stored tasks, got %d", total)
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()

	ms, fake := newTestStorage(t, 0)
	_ = ms.Put(ctx, "t1", &models.Task{})
	fake.Advance(24 * time.Hour)
	if removed := ms.Cleanup(); removed != 0 {
		t.Errorf("Expected no cleanup without a max age, removed %d", removed)
	}

	ms, fake = newTestStorage(t, time.Hour)
	_ = ms.Put(ctx, "old", &models.Task{})
	fake.Advance(2 * time.Hour)
	_ = ms.Put(ctx, "new", &models.Task{Generated: []string{"x.png"}})

	if removed := ms.Cleanup(); removed != 1 {
		t.Errorf("Expected 1 expired task removed, got %d", removed)
	}
	if _, err := ms.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected old task to be gone, got %v", err)
	}
	total, completed := ms.Stats()
	if total != 1 || completed != 1 {
		t.Errorf("Expected stats 1/1, got %d/%d", total, completed)
	}
}
