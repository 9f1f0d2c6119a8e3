package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile represents a PID file for process management
type PIDFile struct {
	Path string
}

// DefaultPIDPath is /run/devrestore.pid for root, the temp dir otherwise
func DefaultPIDPath() string {
	if os.Geteuid() == 0 {
		if _, err := os.Stat("/run"); err == nil {
			return "/run/devrestore.pid"
		}
		return "/var/run/devrestore.pid"
	}
	return filepath.Join(os.TempDir(), "devrestore.pid")
}

// NewPIDFile creates a PID file manager; an empty path uses DefaultPIDPath
func NewPIDFile(path string) *PIDFile {
	if path == "" {
		path = DefaultPIDPath()
	}
	return &PIDFile{Path: path}
}

// Check reports whether the process named in the PID file is still running.
// Stale files are removed.
func (p *PIDFile) Check() (bool, int, error) {
	data, err := os.ReadFile(p.Path)
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to read PID file %s: %w", p.Path, err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		os.Remove(p.Path)
		return false, 0, fmt.Errorf("invalid PID in file %s: %s (removed stale file)", p.Path, pidStr)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(p.Path)
		return false, 0, nil
	}

	// Signal 0 checks existence without delivering anything
	if err := process.Signal(syscall.Signal(0)); err != nil {
		os.Remove(p.Path)
		return false, pid, nil
	}

	return true, pid, nil
}

// Create writes the current PID, failing if another instance is running
func (p *PIDFile) Create() error {
	isRunning, existingPID, err := p.Check()
	if err != nil {
		return err
	}
	if isRunning && existingPID != os.Getpid() {
		return fmt.Errorf("devrestore already running with PID %d", existingPID)
	}

	// Permissions - root: 0755/0644, user: 0700/0600
	dirPerm := os.FileMode(0700)
	filePerm := os.FileMode(0600)
	if os.Geteuid() == 0 {
		dirPerm = 0755
		filePerm = 0644
	}
	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create PID directory %s: %w", dir, err)
	}

	if err := os.WriteFile(p.Path, []byte(fmt.Sprintf("%d\n", os.Getpid())), filePerm); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", p.Path, err)
	}
	return nil
}

// Remove removes the PID file
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", p.Path, err)
	}
	return nil
}
