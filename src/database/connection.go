package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"github.com/apimgr/devrestore/src/config"
)

// Driver names as registered with database/sql
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"
	DriverMSSQL    = "sqlserver"
)

// DB wraps *sql.DB with the driver name so queries can be rebound
type DB struct {
	*sql.DB
	Driver string
}

// Open opens the configured database, applies connection limits and
// creates the schema
func Open(cfg config.DatabaseConfig) (*DB, error) {
	driver, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetConnMaxLifetime(3 * time.Minute)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	if driver == DriverSQLite && isMemoryPath(dsn) {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}

	return initialize(&DB{DB: sqlDB, Driver: driver})
}

// OpenSQLite opens a SQLite database at path (":memory:" for tests)
func OpenSQLite(path string) (*DB, error) {
	return Open(config.DatabaseConfig{Type: "sqlite", Path: path})
}

func initialize(db *DB) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), TimeoutMigration)
	defer cancel()

	if err := db.PingTimeout(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if db.Driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// dataSource maps the config onto a database/sql driver name and DSN
func dataSource(cfg config.DatabaseConfig) (string, string, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "sqlite", "sqlite3":
		if cfg.Path == "" {
			return "", "", fmt.Errorf("database path required for SQLite")
		}
		return DriverSQLite, cfg.Path, nil

	case "postgres", "postgresql":
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return DriverPostgres, fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, portOr(cfg.Port, 5432), cfg.User, cfg.Password, cfg.Name, sslMode), nil

	case "mysql", "mariadb":
		return DriverMySQL, fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true",
			cfg.User, cfg.Password, cfg.Host, portOr(cfg.Port, 3306), cfg.Name), nil

	case "mssql", "sqlserver":
		return DriverMSSQL, fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s;encrypt=disable",
			cfg.Host, portOr(cfg.Port, 1433), cfg.Name, cfg.User, cfg.Password), nil
	}

	return "", "", fmt.Errorf("unsupported database type: %s. Supported: sqlite, postgres, mysql, mariadb, mssql", cfg.Type)
}

func portOr(port, def int) int {
	if port == 0 {
		return def
	}
	return port
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Rebind rewrites '?' placeholders into the driver's native form
func (db *DB) Rebind(query string) string {
	var prefix string
	switch db.Driver {
	case DriverPostgres:
		prefix = "$"
	case DriverMSSQL:
		prefix = "@p"
	default:
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(prefix)
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LimitClause returns a dialect specific row limit for a SELECT ... ORDER BY
func (db *DB) LimitClause(limit int) string {
	if db.Driver == DriverMSSQL {
		return fmt.Sprintf("OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", limit)
	}
	return fmt.Sprintf("LIMIT %d", limit)
}
