// Package results stores completed query payloads in Redis.
//
// Large result bodies are kept out of the job store: the executor puts the
// body here and records only the returned reference. Keys expire after the
// retention window, and the sweeper deletes them with their records.
package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrPayloadNotFound is returned when a reference has no stored payload,
// either because it expired or was deleted.
var ErrPayloadNotFound = errors.New("result payload not found")

const keyPrefix = "asyncq:result:"

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore returns a store whose payloads expire after ttl. A
// non-positive ttl keeps payloads until they are deleted.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Put stores body for the job and returns its reference.
func (s *RedisStore) Put(ctx context.Context, jobID uuid.UUID, body []byte) (string, error) {
	key := buildKey(jobID)
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, body, ttl).Err(); err != nil {
		return "", fmt.Errorf("redis set: %w", err)
	}
	return key, nil
}

// Get returns the payload stored under ref.
func (s *RedisStore) Get(ctx context.Context, ref string) ([]byte, error) {
	body, err := s.client.Get(ctx, ref).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrPayloadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return body, nil
}

// Delete removes the payloads under refs. Missing keys are ignored.
func (s *RedisStore) Delete(ctx context.Context, refs ...string) error {
	if len(refs) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for start := 0; start < len(refs); start += deleteBatch {
		end := min(start+deleteBatch, len(refs))
		pipe.Del(ctx, refs[start:end]...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

const deleteBatch = 256

func buildKey(jobID uuid.UUID) string {
	return keyPrefix + jobID.String()
}
