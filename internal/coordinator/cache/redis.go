// Package cache keeps the latest transient progress detail per job.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
)

const DefaultProgressTTL = time.Hour

func progressKey(jobID uuid.UUID) string { return "scrapegrid:job:progress:" + jobID.String() }

// NewRedisClient creates a client with short timeouts; the cache is never
// on a path that may block scheduling for long.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

// RedisProgressCache stores progress as JSON strings with a TTL.
type RedisProgressCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProgressCache(client *redis.Client, ttl time.Duration) *RedisProgressCache {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &RedisProgressCache{client: client, ttl: ttl}
}

func (c *RedisProgressCache) SetProgress(ctx context.Context, progress core.Progress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := c.client.Set(ctx, progressKey(progress.JobID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set progress for %s: %w", progress.JobID, err)
	}
	return nil
}

func (c *RedisProgressCache) GetProgress(ctx context.Context, jobID uuid.UUID) (*core.Progress, error) {
	data, err := c.client.Get(ctx, progressKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("progress for job %s: %w", jobID, core.ErrNotFound)
		}
		return nil, fmt.Errorf("redis get progress for %s: %w", jobID, err)
	}
	var p core.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal progress: %w", err)
	}
	return &p, nil
}

func (c *RedisProgressCache) DeleteProgress(ctx context.Context, jobID uuid.UUID) error {
	if err := c.client.Del(ctx, progressKey(jobID)).Err(); err != nil {
		return fmt.Errorf("redis delete progress for %s: %w", jobID, err)
	}
	return nil
}

func (c *RedisProgressCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisProgressCache) Close() error {
	return c.client.Close()
}
