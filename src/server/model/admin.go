// Package models provides the data models of the device administration server
package models

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/apimgr/devrestore/src/database"
	"github.com/apimgr/devrestore/src/utils"
)

// Argon2id parameters
const (
	argon2Time = 3
	// 64 MB
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLength    = 16
)

var (
	// ErrAdminNotFound is returned when no admin matches a username
	ErrAdminNotFound = errors.New("admin not found")
	// ErrAdminExists is returned when creating a duplicate admin
	ErrAdminExists = errors.New("admin already exists")
	// ErrInvalidCredentials hides whether the username or the password was wrong
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Admin is an operator account allowed to log into the web interface
type Admin struct {
	Username     string         `json:"username"`
	PasswordHash string         `json:"-"`
	Privilege    PrivilegeLevel `json:"privilege"`
	TOTPSecret   string         `json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
	LastLoginAt  *time.Time     `json:"last_login_at,omitempty"`
}

// HasTOTP reports whether a second factor is enrolled
func (a *Admin) HasTOTP() bool {
	return a.TOTPSecret != ""
}

// AdminModel handles admin database operations
type AdminModel struct {
	DB *database.DB
}

// Create stores a new admin with an Argon2id password hash
func (m *AdminModel) Create(ctx context.Context, username, password string, privilege PrivilegeLevel, totpSecret string) (*Admin, error) {
	username = strings.TrimSpace(username)
	if err := utils.ValidateUsername(username); err != nil {
		return nil, err
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}
	if !privilege.Valid() || privilege == PrivilegeNone {
		return nil, fmt.Errorf("invalid privilege level: %s", privilege)
	}

	if _, err := m.Get(ctx, username); err == nil {
		return nil, ErrAdminExists
	} else if !errors.Is(err, ErrAdminNotFound) {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = m.DB.ExecContext(ctx, m.DB.Rebind(`
		INSERT INTO admins (username, password_hash, privilege, totp_secret, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), username, hash, int(privilege), nullString(totpSecret), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create admin: %w", err)
	}

	return &Admin{
		Username:     username,
		PasswordHash: hash,
		Privilege:    privilege,
		TOTPSecret:   totpSecret,
		CreatedAt:    now,
	}, nil
}

// Get retrieves an admin by username
func (m *AdminModel) Get(ctx context.Context, username string) (*Admin, error) {
	row := m.DB.QueryRowContext(ctx, m.DB.Rebind(`
		SELECT username, password_hash, privilege, totp_secret, created_at, last_login_at
		FROM admins WHERE username = ?
	`), username)

	admin, err := scanAdmin(row)
	if err == sql.ErrNoRows {
		return nil, ErrAdminNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load admin: %w", err)
	}
	return admin, nil
}

// List returns all admins ordered by username
func (m *AdminModel) List(ctx context.Context) ([]*Admin, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT username, password_hash, privilege, totp_secret, created_at, last_login_at
		FROM admins ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer rows.Close()

	var admins []*Admin
	for rows.Next() {
		admin, err := scanAdmin(rows)
		if err != nil {
			return nil, err
		}
		admins = append(admins, admin)
	}
	return admins, rows.Err()
}

// SetPassword replaces an admin's password hash
func (m *AdminModel) SetPassword(ctx context.Context, username, password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	res, err := m.DB.ExecContext(ctx, m.DB.Rebind("UPDATE admins SET password_hash = ? WHERE username = ?"), hash, username)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAdminNotFound
	}
	return nil
}

// Authenticate checks a username/password pair. Unknown users and wrong
// passwords both return ErrInvalidCredentials.
func (m *AdminModel) Authenticate(ctx context.Context, username, password string) (*Admin, error) {
	admin, err := m.Get(ctx, username)
	if errors.Is(err, ErrAdminNotFound) {
		// Burn comparable time so usernames cannot be enumerated by latency
		_, _ = VerifyPassword(password, dummyHash())
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := VerifyPassword(password, admin.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	return admin, nil
}

// UpdateLastLogin stamps the admin's last successful login
func (m *AdminModel) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	_, err := m.DB.ExecContext(ctx, m.DB.Rebind("UPDATE admins SET last_login_at = ? WHERE username = ?"), at.Unix(), username)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAdmin(row rowScanner) (*Admin, error) {
	var (
		admin       Admin
		privilege   int
		totpSecret  sql.NullString
		createdAt   int64
		lastLoginAt sql.NullInt64
	)
	if err := row.Scan(&admin.Username, &admin.PasswordHash, &privilege, &totpSecret, &createdAt, &lastLoginAt); err != nil {
		return nil, err
	}
	admin.Privilege = PrivilegeLevel(privilege)
	admin.TOTPSecret = totpSecret.String
	admin.CreatedAt = time.Unix(createdAt, 0).UTC()
	if lastLoginAt.Valid {
		t := time.Unix(lastLoginAt.Int64, 0).UTC()
		admin.LastLoginAt = &t
	}
	return &admin, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// dummyHash is verified against when the username does not exist
var dummyHash = sync.OnceValue(func() string {
	h, _ := HashPassword("devrestore-dummy-password")
	return h
})

// HashPassword hashes a password using Argon2id.
// Returns hash in PHC string format: $argon2id$v=19$m=65536,t=3,p=4$salt$hash
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads, b64Salt, b64Hash), nil
}

// VerifyPassword verifies a password against an Argon2id hash
// Uses constant-time comparison to prevent timing attacks
func VerifyPassword(password, hash string) (bool, error) {
	// Parse PHC format: $argon2id$v=19$m=65536,t=3,p=4$salt$hash
	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		return false, fmt.Errorf("invalid hash format: expected 6 parts, got %d", len(parts))
	}

	if parts[1] != "argon2id" {
		return false, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, fmt.Errorf("failed to parse parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	providedHash := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(expectedHash)))

	return subtle.ConstantTimeCompare(providedHash, expectedHash) == 1, nil
}
