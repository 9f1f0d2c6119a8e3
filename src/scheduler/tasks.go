package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/apimgr/devrestore/src/server/metrics"
)

// Task names
const (
	TaskSessionCleanup = "session-cleanup"
	TaskLogRotation    = "log-rotation"
)

// SessionSweeper removes expired sessions
type SessionSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Rotator is a log sink that can be rotated or reopened
type Rotator interface {
	RotateLogs() error
}

// Reopener reopens a log file after rotation
type Reopener interface {
	Reopen() error
}

// CleanupSessions returns the task that drops expired sessions
func CleanupSessions(sweeper SessionSweeper) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := sweeper.DeleteExpired(ctx, time.Now())
		if n > 0 {
			metrics.SessionsSwept.Add(float64(n))
		}
		return err
	}
}

// RotateLogs returns the task that archives the log files and reopens the audit log
func RotateLogs(logs Rotator, audit Reopener) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := logs.RotateLogs()
		if audit != nil {
			err = errors.Join(err, audit.Reopen())
		}
		return err
	}
}
