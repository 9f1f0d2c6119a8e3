package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	models "github.com/apimgr/devrestore/src/server/model"
)

// MemoryStore keeps sessions in process. Sessions are lost on restart.
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore creates an in-process store; go-cache janitors expired
// entries every sweep interval.
func NewMemoryStore(sweep time.Duration) *MemoryStore {
	if sweep <= 0 {
		sweep = 10 * time.Minute
	}
	return &MemoryStore{cache: cache.New(cache.NoExpiration, sweep)}
}

// Create stores a copy of the session
func (s *MemoryStore) Create(ctx context.Context, sess *models.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return ErrSessionExpired
	}
	s.cache.Set(sess.ID, sess.Clone(), ttl)
	return nil
}

// Get returns a copy of a live session
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess := v.(*models.Session).Clone()
	return checkExpiry(sess, time.Now())
}

// Save replaces an existing session
func (s *MemoryStore) Save(ctx context.Context, sess *models.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return ErrSessionExpired
	}
	if err := s.cache.Replace(sess.ID, sess.Clone(), ttl); err != nil {
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes a session
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}

// DeleteExpired drops sessions expired at now
func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for id, item := range s.cache.Items() {
		if sess, ok := item.Object.(*models.Session); ok && sess.Expired(now) {
			s.cache.Delete(id)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close flushes all sessions
func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}
