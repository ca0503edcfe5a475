package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
	"github.com/Must-be-Ash/freepik-402demo/internal/models"
)

// fakeRedis implements the two commands RedisStore uses
type fakeRedis struct {
	redis.Cmdable
	data   map[string]string
	ttls   map[string]time.Duration
	closed int
}

func (f *fakeRedis) Close() error {
	f.closed++
	return nil
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func TestRedisStorePutGet(t *testing.T) {
	fr := newFakeRedis()
	store := NewRedisStore(fr, clock.NewFake(start), 24*time.Hour)
	ctx := context.Background()

	err := store.Put(ctx, "t1", &models.Task{Status: models.TaskStatusCompleted, Generated: []string{"a.png"}})
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if _, ok := fr.data["task:t1"]; !ok {
		t.Fatalf("Expected key task:t1, have %v", fr.data)
	}
	if fr.ttls["task:t1"] != 24*time.Hour {
		t.Errorf("Expected 24h ttl, got %v", fr.ttls["task:t1"])
	}

	got, err := store.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.TaskID != "t1" || got.Status != models.TaskStatusCompleted || got.Generated[0] != "a.png" {
		t.Errorf("Unexpected task %+v", got)
	}
	if !got.Timestamp.Equal(start) {
		t.Errorf("Expected timestamp %v, got %v", start, got.Timestamp)
	}
}

func TestRedisStoreNotFound(t *testing.T) {
	store := NewRedisStore(newFakeRedis(), nil, 0)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRedisStoreCloseReleasesClient(t *testing.T) {
	fr := newFakeRedis()
	store := NewRedisStore(fr, nil, 0)

	if err := store.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if fr.closed != 1 {
		t.Errorf("Expected the client to be closed once, got %d", fr.closed)
	}
}

var _ TaskStore = (*RedisStore)(nil)
var _ TaskStore = (*MemoryStorage)(nil)
