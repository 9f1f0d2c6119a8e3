// Package store keeps operator sessions in one of several backends
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apimgr/devrestore/src/config"
	"github.com/apimgr/devrestore/src/database"
	models "github.com/apimgr/devrestore/src/server/model"
)

var (
	// ErrSessionNotFound is returned for unknown session IDs
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when a session exists but is past its expiry
	ErrSessionExpired = errors.New("session expired")
)

// SessionStore defines the session data access operations.
// Get and Save hand out copies; callers never share a *Session with the store.
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, id string) error
	// DeleteExpired removes sessions expired at now and returns how many went away
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// New builds the session store selected by cfg.Session.Backend.
// db is used by the database backend and may be nil otherwise.
func New(cfg *config.Config, db *database.DB) (SessionStore, error) {
	switch cfg.Session.Backend {
	case "database":
		if db == nil {
			return nil, fmt.Errorf("database session backend requires a database")
		}
		return NewSQLStore(db), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s := NewRedisStore(client, "devrestore:session:")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return s, nil
	case "memory":
		return NewMemoryStore(cfg.Session.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported session backend: %s", cfg.Session.Backend)
	}
}

// checkExpiry maps an expired session onto ErrSessionExpired
func checkExpiry(s *models.Session, now time.Time) (*models.Session, error) {
	if s.Expired(now) {
		return nil, ErrSessionExpired
	}
	return s, nil
}
