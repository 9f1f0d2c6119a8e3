package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	models "github.com/apimgr/devrestore/src/server/model"
)

// RedisStore keeps sessions as JSON values that Redis expires on its own
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps a connected client. Keys are prefix + session ID.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Create stores a session with a TTL matching its expiry
func (s *RedisStore) Create(ctx context.Context, sess *models.Session) error {
	return s.write(ctx, sess, false)
}

// Get retrieves a live session by ID
func (s *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return checkExpiry(&sess, time.Now())
}

// Save overwrites an existing session
func (s *RedisStore) Save(ctx context.Context, sess *models.Session) error {
	return s.write(ctx, sess, true)
}

func (s *RedisStore) write(ctx context.Context, sess *models.Session, mustExist bool) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return ErrSessionExpired
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if mustExist {
		ok, err := s.client.SetXX(ctx, s.key(sess.ID), data, ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		if !ok {
			return ErrSessionNotFound
		}
		return nil
	}

	if err := s.client.Set(ctx, s.key(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Delete removes a session
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

// DeleteExpired is a no-op, keys carry their own TTL
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
