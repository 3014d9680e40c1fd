package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis key prefix for checkpoint storage.
const redisKeyPrefix = "pagepump:checkpoint:"

// DefaultTTL bounds how long an abandoned checkpoint lingers in Redis.
const DefaultTTL = 7 * 24 * time.Hour

// RedisStore persists checkpoints as JSON blobs in Redis with a TTL.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisStore creates a Redis-backed store. A zero ttl uses DefaultTTL.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{redis: redisClient, ttl: ttl, logger: logger}
}

func redisKey(jobID string) string {
	return redisKeyPrefix + jobID
}

// Save marshals and stores the checkpoint, refreshing the TTL.
func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.JobID == "" {
		return fmt.Errorf("checkpoint requires a job ID")
	}
	cp.SavedAt = time.Now()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := s.redis.Set(ctx, redisKey(cp.JobID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	s.logger.Debug().
		Str("job_id", cp.JobID).
		Int("last_index", cp.LastProcessedIndex).
		Int("keys", len(cp.Keys)).
		Msg("Checkpoint saved")
	return nil
}

// Load fetches and unmarshals a checkpoint. Returns ErrNotFound when absent.
func (s *RedisStore) Load(ctx context.Context, jobID string) (*Checkpoint, error) {
	data, err := s.redis.Get(ctx, redisKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete removes a checkpoint.
func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	if err := s.redis.Del(ctx, redisKey(jobID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
