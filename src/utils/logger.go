package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger owns the log streams of the server.
// server.log and access.log are mirrored to stdout, security.log to stderr.
type Logger struct {
	Server   zerolog.Logger
	Access   zerolog.Logger
	Security zerolog.Logger

	files  []*os.File
	logDir string
}

var logFileNames = []string{"server.log", "access.log", "security.log"}

// NewLogger creates a new logger writing into logDir
func NewLogger(logDir, level, format string) (*Logger, error) {
	// Permissions - root: 0755, user: 0700
	dirPerm := os.FileMode(0700)
	if os.Geteuid() == 0 {
		dirPerm = 0755
	}
	if err := os.MkdirAll(logDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{logDir: logDir}

	writers := make(map[string]io.Writer, len(logFileNames))
	for _, name := range logFileNames {
		f, err := os.OpenFile(filepath.Join(logDir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		l.files = append(l.files, f)
		writers[name] = f
	}

	stdout := consoleWriter(os.Stdout, format)
	l.Server = newZerolog(io.MultiWriter(writers["server.log"], stdout), "server")
	l.Access = newZerolog(io.MultiWriter(writers["access.log"], stdout), "access")
	l.Security = newZerolog(io.MultiWriter(writers["security.log"], consoleWriter(os.Stderr, format)), "security")

	SetLevel(level)
	return l, nil
}

// NewWriterLogger sends every stream to w. Used by tests and the CLI.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{
		Server:   newZerolog(w, "server"),
		Access:   newZerolog(w, "access"),
		Security: newZerolog(w, "security"),
	}
}

// NewNopLogger discards everything
func NewNopLogger() *Logger {
	nop := zerolog.Nop()
	return &Logger{Server: nop, Access: nop, Security: nop}
}

func newZerolog(w io.Writer, stream string) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Str("stream", stream).Logger()
}

func consoleWriter(w io.Writer, format string) io.Writer {
	if format == "console" {
		return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return w
}

// SetLevel changes the global log level. Unknown levels fall back to info.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Close closes the underlying log files
func (l *Logger) Close() error {
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = nil
	return firstErr
}

// RotateLogs archives the current log files with a date suffix and truncates
// them, then drops archives older than 30 days. Called by the scheduler.
func (l *Logger) RotateLogs() error {
	if l.logDir == "" {
		return nil
	}
	timestamp := time.Now().Format("2006-01-02")

	for _, logFile := range append(logFileNames, "audit.log") {
		currentPath := filepath.Join(l.logDir, logFile)
		archivePath := filepath.Join(l.logDir, fmt.Sprintf("%s.%s", logFile, timestamp))

		info, err := os.Stat(currentPath)
		if err != nil || info.Size() == 0 {
			continue
		}

		if err := copyFile(currentPath, archivePath); err != nil {
			return fmt.Errorf("failed to archive %s: %w", logFile, err)
		}
		if err := os.Truncate(currentPath, 0); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", logFile, err)
		}
	}

	return l.cleanOldLogs(time.Now().AddDate(0, 0, -30))
}

// cleanOldLogs removes archived logs last modified before cutoff
func (l *Logger) cleanOldLogs(cutoff time.Time) error {
	entries, err := os.ReadDir(l.logDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".log") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(l.logDir, entry.Name())); err != nil {
				l.Server.Error().Err(err).Str("file", entry.Name()).Msg("failed to remove old log")
			}
		}
	}

	return nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
