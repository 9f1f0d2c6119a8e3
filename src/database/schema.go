package database

import (
	"context"
	"fmt"
	"strings"
)

// SchemaVersion is bumped whenever a table definition changes
const SchemaVersion = 1

type index struct {
	name    string
	columns string
}

type table struct {
	name    string
	columns []string
	indexes []index
}

// {text} is replaced with the dialect's unbounded string type
var tables = []table{
	{
		name: "schema_version",
		columns: []string{
			"version INT NOT NULL",
		},
	},
	{
		name: "sessions",
		columns: []string{
			"id VARCHAR(128) NOT NULL PRIMARY KEY",
			"username VARCHAR(255) NOT NULL",
			"privilege INT NOT NULL",
			"csrf_token VARCHAR(255) NOT NULL",
			"pending {text}",
			"ip_address VARCHAR(64)",
			"user_agent {text}",
			"created_at BIGINT NOT NULL",
			"expires_at BIGINT NOT NULL",
		},
		indexes: []index{{"idx_sessions_expires_at", "expires_at"}},
	},
	{
		name: "admins",
		columns: []string{
			"username VARCHAR(255) NOT NULL PRIMARY KEY",
			"password_hash {text} NOT NULL",
			"privilege INT NOT NULL",
			"totp_secret VARCHAR(255)",
			"created_at BIGINT NOT NULL",
			"last_login_at BIGINT",
		},
	},
	{
		name: "restore_operations",
		columns: []string{
			"id VARCHAR(32) NOT NULL PRIMARY KEY",
			"username VARCHAR(255) NOT NULL",
			"action VARCHAR(64) NOT NULL",
			"started_at BIGINT NOT NULL",
			"finished_at BIGINT NOT NULL",
			"exit_code INT NOT NULL",
			"success INT NOT NULL",
			"error_message {text}",
			"output {text}",
		},
		indexes: []index{{"idx_restore_operations_started_at", "started_at"}},
	},
}

// schemaStatements renders the DDL for a driver
func schemaStatements(driver string) []string {
	textType := "TEXT"
	if driver == DriverMSSQL {
		textType = "NVARCHAR(MAX)"
	}

	var stmts []string
	for _, t := range tables {
		cols := strings.ReplaceAll(strings.Join(t.columns, ", "), "{text}", textType)

		switch driver {
		case DriverMSSQL:
			var b strings.Builder
			fmt.Fprintf(&b, "IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s);", t.name, t.name, cols)
			for _, idx := range t.indexes {
				fmt.Fprintf(&b, " CREATE INDEX %s ON %s (%s);", idx.name, t.name, idx.columns)
			}
			b.WriteString(" END")
			stmts = append(stmts, b.String())

		case DriverMySQL:
			for _, idx := range t.indexes {
				cols += fmt.Sprintf(", INDEX %s (%s)", idx.name, idx.columns)
			}
			stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.name, cols))

		default:
			stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.name, cols))
			for _, idx := range t.indexes {
				stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx.name, t.name, idx.columns))
			}
		}
	}
	return stmts
}

// Migrate creates missing tables and records the schema version
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(db.Driver) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	var currentVersion int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if currentVersion > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, SchemaVersion)
	}
	if currentVersion < SchemaVersion {
		if _, err := db.ExecContext(ctx, db.Rebind("INSERT INTO schema_version (version) VALUES (?)"), SchemaVersion); err != nil {
			return fmt.Errorf("failed to insert schema version: %w", err)
		}
	}
	return nil
}
