package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apimgr/devrestore/src/database"
	models "github.com/apimgr/devrestore/src/server/model"
)

// SQLStore keeps sessions in the sessions table
type SQLStore struct {
	db *database.DB
}

// NewSQLStore creates a session store over an open database
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Create inserts a new session
func (s *SQLStore) Create(ctx context.Context, sess *models.Session) error {
	pending, err := encodePending(sess.Pending)
	if err != nil {
		return err
	}
	_, err = s.db.ExecTimeout(ctx, database.TimeoutWrite, s.db.Rebind(`
		INSERT INTO sessions (id, username, privilege, csrf_token, pending, ip_address, user_agent, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), sess.ID, sess.Username, int(sess.Privilege), sess.CSRFToken, pending,
		sess.IPAddress, sess.UserAgent, sess.CreatedAt.Unix(), sess.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get retrieves a live session by ID
func (s *SQLStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, username, privilege, csrf_token, pending, ip_address, user_agent, created_at, expires_at
		FROM sessions WHERE id = ?
	`), id)

	var (
		sess                 models.Session
		privilege            int
		pending              sql.NullString
		ipAddress, userAgent sql.NullString
		createdAt, expiresAt int64
	)
	err := row.Scan(&sess.ID, &sess.Username, &privilege, &sess.CSRFToken, &pending,
		&ipAddress, &userAgent, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess.Privilege = models.PrivilegeLevel(privilege)
	sess.IPAddress = ipAddress.String
	sess.UserAgent = userAgent.String
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if pending.Valid && pending.String != "" {
		var p models.PendingOperation
		if err := json.Unmarshal([]byte(pending.String), &p); err != nil {
			return nil, fmt.Errorf("failed to decode pending operation: %w", err)
		}
		sess.Pending = &p
	}

	return checkExpiry(&sess, time.Now())
}

// Save writes the mutable fields of an existing session
func (s *SQLStore) Save(ctx context.Context, sess *models.Session) error {
	pending, err := encodePending(sess.Pending)
	if err != nil {
		return err
	}
	res, err := s.db.ExecTimeout(ctx, database.TimeoutWrite, s.db.Rebind(`
		UPDATE sessions SET privilege = ?, csrf_token = ?, pending = ?, expires_at = ? WHERE id = ?
	`), int(sess.Privilege), sess.CSRFToken, pending, sess.ExpiresAt.Unix(), sess.ID)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes a session
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecTimeout(ctx, database.TimeoutWrite, s.db.Rebind("DELETE FROM sessions WHERE id = ?"), id)
	return err
}

// DeleteExpired removes sessions whose expiry is at or before now
func (s *SQLStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecTimeout(ctx, database.TimeoutBulk, s.db.Rebind("DELETE FROM sessions WHERE expires_at <= ?"), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingTimeout(ctx)
}

// Close is a no-op; the database is owned by the caller
func (s *SQLStore) Close() error {
	return nil
}

func encodePending(p *models.PendingOperation) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode pending operation: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
