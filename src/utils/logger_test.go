package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewWriterLoggerTagsStreams(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)
	l.Security.Warn().Str("ip", "192.0.2.1").Msg("forged request")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["stream"] != "security" || entry["message"] != "forged request" {
		t.Errorf("entry = %v", entry)
	}
}

func TestSetLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	SetLevel("DEBUG")
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("level = %s, want debug", zerolog.GlobalLevel())
	}
	SetLevel("nonsense")
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("level = %s, want info", zerolog.GlobalLevel())
	}
}

func TestRotateLogs(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, "info", "json")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer l.Close()

	l.Security.Warn().Msg("entry")

	stale := filepath.Join(dir, "server.log.2000-01-01")
	if err := os.WriteFile(stale, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().AddDate(0, 0, -40)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	if err := l.RotateLogs(); err != nil {
		t.Fatalf("RotateLogs() error = %v", err)
	}

	archive := filepath.Join(dir, "security.log."+time.Now().Format("2006-01-02"))
	data, err := os.ReadFile(archive)
	if err != nil || !strings.Contains(string(data), "entry") {
		t.Errorf("archive %s: %q, %v", archive, data, err)
	}
	if info, err := os.Stat(filepath.Join(dir, "security.log")); err != nil || info.Size() != 0 {
		t.Errorf("security.log not truncated")
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale archive kept")
	}
}
