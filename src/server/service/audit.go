package service

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType represents the type of audit event
type EventType string

// Audit event types
const (
	EventAdminLogin       EventType = "admin.login"
	EventAdminLoginFailed EventType = "admin.login.failed"
	EventAdminLogout      EventType = "admin.logout"

	EventSystemRestoreStarted   EventType = "system.restore.started"
	EventSystemRestoreCompleted EventType = "system.restore.completed"
	EventSystemRestoreFailed    EventType = "system.restore.failed"
	EventSystemRestoreBusy      EventType = "system.restore.busy"
	EventSystemRebootRequested  EventType = "system.reboot.requested"
	EventSystemConfigReload     EventType = "system.config.reload"

	EventSecurityCSRFDetected EventType = "security.csrf.detected"
	EventSecurityUnauthorized EventType = "security.unauthorized.access"
)

// Categories
const (
	CategoryAuthentication = "authentication"
	CategorySystem         = "system"
	CategorySecurity       = "security"
)

// Actor represents who performed an action
type Actor struct {
	// admin, system
	Type string `json:"type"`
	// Admin username
	ID        string `json:"id"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Target represents what was acted upon
type Target struct {
	// operation, session, config
	Type string `json:"type"`
	ID   string `json:"id"`
}

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	// ULID
	ID string `json:"id"`
	// X-Request-ID of the triggering request
	RequestID string    `json:"request_id,omitempty"`
	Time      time.Time `json:"time"`
	Event     EventType `json:"event"`
	Category  string    `json:"category"`
	// info, warn, error, critical
	Severity string                 `json:"severity"`
	Actor    Actor                  `json:"actor"`
	Target   *Target                `json:"target,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
	// success or failure
	Result string `json:"result"`
	Reason string `json:"reason,omitempty"`
}

// AuditLogger appends audit events as JSON lines
type AuditLogger struct {
	logFile string
	mu      sync.Mutex
	out     io.Writer
	file    *os.File
	entropy io.Reader
}

// NewAuditLogger opens audit.log inside logDir
func NewAuditLogger(logDir string) (*AuditLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile := filepath.Join(logDir, "audit.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &AuditLogger{
		logFile: logFile,
		out:     file,
		file:    file,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// NewWriterAuditLogger writes audit events to w. Used by tests.
func NewWriterAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{out: w, entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Log writes an audit event
func (al *AuditLogger) Log(event AuditEvent) error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = ulid.MustNew(ulid.Timestamp(event.Time), al.entropy).String()
	}
	if event.Severity == "" {
		if event.Result == "failure" {
			event.Severity = "warn"
		} else {
			event.Severity = "info"
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	if _, err := al.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// LogSuccess logs a successful event
func (al *AuditLogger) LogSuccess(event EventType, category string, actor Actor, requestID string, details map[string]interface{}) error {
	return al.Log(AuditEvent{
		RequestID: requestID,
		Event:     event,
		Category:  category,
		Severity:  "info",
		Actor:     actor,
		Details:   details,
		Result:    "success",
	})
}

// LogFailure logs a failed event
func (al *AuditLogger) LogFailure(event EventType, category string, actor Actor, requestID, reason string, details map[string]interface{}) error {
	return al.Log(AuditEvent{
		RequestID: requestID,
		Event:     event,
		Category:  category,
		Severity:  "warn",
		Actor:     actor,
		Details:   details,
		Result:    "failure",
		Reason:    reason,
	})
}

// Close closes the audit log file
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	if al.file != nil {
		err := al.file.Close()
		al.file = nil
		return err
	}
	return nil
}

// Reopen reopens audit.log after the log rotator truncated or moved it
func (al *AuditLogger) Reopen() error {
	if al == nil || al.logFile == "" {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	if al.file != nil {
		al.file.Close()
	}
	file, err := os.OpenFile(al.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen audit log: %w", err)
	}
	al.file = file
	al.out = file
	return nil
}
