package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Must-be-Ash/freepik-402demo/internal/clock"
	"github.com/Must-be-Ash/freepik-402demo/internal/models"
)

const redisKeyPrefix = "task:"

// RedisStore keeps task results in Redis so they survive restarts and are shared between
// replicas. A zero ttl keeps keys forever.
type RedisStore struct {
	client redis.Cmdable
	clock  clock.Clock
	ttl    time.Duration
}

func NewRedisStore(client redis.Cmdable, c clock.Clock, ttl time.Duration) *RedisStore {
	if c == nil {
		c = clock.NewClock()
	}
	return &RedisStore{client: client, clock: c, ttl: ttl}
}

// DialRedis connects to addr and verifies the connection
func DialRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Close releases the underlying connection pool when the client owns one
func (r *RedisStore) Close() error {
	if c, ok := r.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func redisKey(taskID string) string {
	return redisKeyPrefix + taskID
}

func (r *RedisStore) Put(ctx context.Context, taskID string, task *models.Task) error {
	if taskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if task == nil {
		return fmt.Errorf("task is required")
	}

	stored := task.Clone()
	stored.TaskID = taskID
	stored.Timestamp = r.clock.Now().UTC()

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(taskID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store task %s: %w", taskID, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, taskID string) (*models.Task, error) {
	data, err := r.client.Get(ctx, redisKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, NewNotFoundError(taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to decode task %s: %w", taskID, err)
	}
	return &task, nil
}
