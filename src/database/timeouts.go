package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Query timeouts. Every statement is bounded even when the caller's
// context carries no deadline.
const (
	TimeoutSimpleSelect = 5 * time.Second
	TimeoutWrite        = 10 * time.Second
	TimeoutBulk         = 60 * time.Second
	TimeoutMigration    = 5 * time.Minute
	TimeoutPing         = 5 * time.Second
)

// ExecTimeout executes a statement with timeout
func (db *DB) ExecTimeout(ctx context.Context, timeout time.Duration, query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := db.ExecContext(ctx, query, args...)
	return res, HandleQueryError(err)
}

// PingTimeout tests the database connection with timeout
func (db *DB) PingTimeout(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, TimeoutPing)
	defer cancel()
	return HandleQueryError(db.PingContext(ctx))
}

// ErrQueryTimeout is returned when a statement exceeded its timeout
var ErrQueryTimeout = errors.New("database query timed out")

// HandleQueryError marks deadline errors so callers can tell them apart
func HandleQueryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrQueryTimeout, err)
	}
	return err
}
