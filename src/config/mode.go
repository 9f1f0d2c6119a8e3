// Package config handles application configuration and mode detection
package config

import (
	"fmt"
	"os"
	"strings"
)

// Mode represents the application execution mode
type Mode string

const (
	// ModeDevelopment is for local development (verbose logging, console log format)
	ModeDevelopment Mode = "development"
	// ModeProduction is for deployment on the device (strict cookies, release gin mode)
	ModeProduction Mode = "production"
)

// DetectMode determines the application mode from config and environment
// Priority: 1. Config file, 2. Environment variable, 3. Default (production)
func DetectMode(configMode string) Mode {
	if mode, ok := parseMode(configMode); ok {
		return mode
	}

	for _, key := range []string{"MODE", "APP_MODE", "ENVIRONMENT"} {
		if mode, ok := parseMode(os.Getenv(key)); ok {
			return mode
		}
	}

	// Default to production for security
	return ModeProduction
}

func parseMode(value string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "development", "dev":
		return ModeDevelopment, true
	case "production", "prod":
		return ModeProduction, true
	}
	return "", false
}

// String returns a human-readable representation of the mode
func (m Mode) String() string {
	return string(m)
}

// Validate checks if the mode is valid
func (m Mode) Validate() error {
	if m != ModeDevelopment && m != ModeProduction {
		return fmt.Errorf("invalid mode: %s (must be 'development' or 'production')", m)
	}
	return nil
}

// IsDevelopment reports whether the config runs in development mode
func (c *Config) IsDevelopment() bool {
	return Mode(c.Mode) == ModeDevelopment
}

// SecureCookie decides the Secure flag of the session cookie.
// "auto" follows the request scheme.
func (c *Config) SecureCookie(requestIsTLS bool) bool {
	switch strings.ToLower(c.Session.SecureCookie) {
	case "always", "true":
		return true
	case "never", "false":
		return false
	}
	return requestIsTLS
}

// IsTruthy reports whether an environment-style boolean is set
func IsTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on", "enable", "enabled":
		return true
	}
	return false
}

// WarningMessage returns a warning message if in development mode
func (c *Config) WarningMessage() string {
	if c.IsDevelopment() {
		return "running in development mode: console logging, debug router, never use on a deployed device"
	}
	return ""
}
