package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// Kinds of pending operation handed to the reboot confirmation page
const (
	PendingRestoreKeepIdentity = "restore_keep_identity"
	PendingRestoreFull         = "restore_full"
)

// PendingOperation records that a destructive operation ran for this
// session and a reboot is expected. The confirmation page consumes it.
type PendingOperation struct {
	// ID of the persisted operation record
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Session represents an authenticated operator session
type Session struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	Privilege PrivilegeLevel `json:"privilege"`
	// Per-session anti-forgery token, fixed for the session lifetime
	CSRFToken string            `json:"csrf_token"`
	Pending   *PendingOperation `json:"pending,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// NewSession creates a session with fresh ID and CSRF token
func NewSession(username string, privilege PrivilegeLevel, ttl time.Duration, csrfTokenLength int) (*Session, error) {
	id, err := GenerateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	token, err := GenerateSecureToken(csrfTokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSRF token: %w", err)
	}

	now := time.Now().UTC()
	return &Session{
		ID:        id,
		Username:  username,
		Privilege: privilege,
		CSRFToken: token,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// GenerateSessionID creates a cryptographically secure random session ID
func GenerateSessionID() (string, error) {
	return GenerateSecureToken(32)
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// Expired reports whether the session is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// RebootPending reports whether a restore ran and the reboot is still unconfirmed
func (s *Session) RebootPending() bool {
	return s != nil && s.Pending != nil
}

// ConsumePending returns and clears the pending operation
func (s *Session) ConsumePending() *PendingOperation {
	p := s.Pending
	s.Pending = nil
	return p
}

// Clone returns a deep copy, so stores never share mutable state with callers
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Pending != nil {
		p := *s.Pending
		c.Pending = &p
	}
	return &c
}
