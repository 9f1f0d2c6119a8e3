package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/apimgr/devrestore/src/database"
)

// OperationRecord is the persisted outcome of one restore invocation
type OperationRecord struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Action       string    `json:"action"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	ExitCode     int       `json:"exit_code"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error,omitempty"`
	// Tail of the combined stdout/stderr
	Output string `json:"output,omitempty"`
}

// Duration is the wall time of the invocation
func (r *OperationRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// OperationModel handles restore history persistence
type OperationModel struct {
	DB *database.DB
}

// Record inserts an operation record
func (m *OperationModel) Record(ctx context.Context, rec *OperationRecord) error {
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := m.DB.ExecTimeout(ctx, database.TimeoutWrite, m.DB.Rebind(`
		INSERT INTO restore_operations
			(id, username, action, started_at, finished_at, exit_code, success, error_message, output)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), rec.ID, rec.Username, rec.Action, rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
		rec.ExitCode, success, nullString(rec.ErrorMessage), nullString(rec.Output))
	if err != nil {
		return fmt.Errorf("failed to record operation: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first
func (m *OperationModel) Recent(ctx context.Context, limit int) ([]*OperationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := m.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, username, action, started_at, finished_at, exit_code, success, error_message, output
		FROM restore_operations ORDER BY started_at DESC %s
	`, m.DB.LimitClause(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var records []*OperationRecord
	for rows.Next() {
		var (
			rec                 OperationRecord
			startedAt, finished int64
			success             int
			errMsg, output      sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Username, &rec.Action, &startedAt, &finished,
			&rec.ExitCode, &success, &errMsg, &output); err != nil {
			return nil, err
		}
		rec.StartedAt = time.UnixMilli(startedAt).UTC()
		rec.FinishedAt = time.UnixMilli(finished).UTC()
		rec.Success = success == 1
		rec.ErrorMessage = errMsg.String
		rec.Output = output.String
		records = append(records, &rec)
	}
	return records, rows.Err()
}
