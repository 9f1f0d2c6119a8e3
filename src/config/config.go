package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the YAML configuration file
const ConfigFileName = "server.yml"

// Config represents the application configuration
type Config struct {
	// development, production
	Mode string `yaml:"mode"`

	Server    ServerConfig    `yaml:"server"`
	Paths     PathsConfig     `yaml:"paths"`
	Database  DatabaseConfig  `yaml:"database"`
	Session   SessionConfig   `yaml:"session"`
	Redis     RedisConfig     `yaml:"redis"`
	Restore   RestoreConfig   `yaml:"restore"`
	Device    DeviceConfig    `yaml:"device"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// Path of the file this config was loaded from, empty for defaults
	Source string `yaml:"-"`
}

// ServerConfig represents server-specific configuration
type ServerConfig struct {
	Address        string   `yaml:"address"`
	Port           int      `yaml:"port"`
	Title          string   `yaml:"title"`
	TrustedProxies []string `yaml:"trusted_proxies"`
	// Origins allowed to call the read-only /api group
	CORSOrigins []string `yaml:"cors_origins"`
	// Empty uses /run/devrestore.pid as root, the temp dir otherwise
	PIDFile string `yaml:"pid_file"`
}

// PathsConfig holds the URL paths of the pages taking part in the restore flow
type PathsConfig struct {
	Login   string `yaml:"login"`
	Restore string `yaml:"restore"`
	Confirm string `yaml:"confirm"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	// sqlite, postgres, mysql, mssql
	Type     string `yaml:"type"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// SessionConfig controls the session store and cookie
type SessionConfig struct {
	// database, redis, memory
	Backend         string        `yaml:"backend"`
	CookieName      string        `yaml:"cookie_name"`
	Timeout         time.Duration `yaml:"timeout"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
	CSRFTokenLength int           `yaml:"csrf_token_length"`
	// always, never, auto
	SecureCookie string `yaml:"secure_cookie"`
}

// RedisConfig is used when session.backend is redis
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RestoreConfig describes the external restore operation
type RestoreConfig struct {
	Command          string        `yaml:"command"`
	KeepIdentityArgs []string      `yaml:"keep_identity_args"`
	FullArgs         []string      `yaml:"full_args"`
	Timeout          time.Duration `yaml:"timeout"`
	MinPrivilege     string        `yaml:"min_privilege"`
}

// DeviceConfig describes the device probes used around the restore flow
type DeviceConfig struct {
	ModeCommand   []string      `yaml:"mode_command"`
	RebootCommand []string      `yaml:"reboot_command"`
	RebootDelay   time.Duration `yaml:"reboot_delay"`
}

// LogConfig controls the log streams
type LogConfig struct {
	Dir string `yaml:"dir"`
	// debug, info, warn, error
	Level string `yaml:"level"`
	// json, console
	Format string `yaml:"format"`
}

// RateLimitConfig bounds login attempts and restore submissions per client IP
type RateLimitConfig struct {
	LoginRequests   int           `yaml:"login_requests"`
	LoginWindow     time.Duration `yaml:"login_window"`
	RestoreRequests int           `yaml:"restore_requests"`
	RestoreWindow   time.Duration `yaml:"restore_window"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "0.0.0.0",
			Port:    8080,
			Title:   "Device Administration",
		},
		Paths: PathsConfig{
			Login:   "/login",
			Restore: "/tools/restore",
			Confirm: "/system/rebooted",
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "/var/lib/devrestore/devrestore.db",
		},
		Session: SessionConfig{
			Backend:         "database",
			CookieName:      "devrestore_session",
			Timeout:         30 * time.Minute,
			CleanupSchedule: "@every 10m",
			CSRFTokenLength: 32,
			SecureCookie:    "auto",
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Restore: RestoreConfig{
			Command:          "/scripts/restore_default_config",
			KeepIdentityArgs: []string{"-nr"},
			FullArgs:         []string{"-nr", "-ip"},
			Timeout:          2 * time.Minute,
			MinPrivilege:     "admin",
		},
		Device: DeviceConfig{
			ModeCommand:   []string{"call_qcsapi", "get_mode", "wifi0"},
			RebootCommand: []string{"reboot"},
			RebootDelay:   3 * time.Second,
		},
		Log: LogConfig{
			Dir:    "/var/log/devrestore",
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			LoginRequests:   10,
			LoginWindow:     15 * time.Minute,
			RestoreRequests: 5,
			RestoreWindow:   time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadConfig loads server.yml from configDir, or from the default search
// locations when configDir is empty. A missing file yields the defaults.
func LoadConfig(configDir string) (*Config, error) {
	cfg := Default()

	configPath := findConfigFile(configDir)
	if configPath != "" {
		if err := cfg.loadFile(configPath); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads a specific configuration file on top of the defaults
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	c.Source = path
	return nil
}

// applyEnv applies environment overrides
func (c *Config) applyEnv() {
	if port := os.Getenv("DEVRESTORE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	c.Mode = string(DetectMode(c.Mode))
}

// Validate checks values that would otherwise fail late at request time
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	for name, p := range map[string]string{
		"paths.login":   c.Paths.Login,
		"paths.restore": c.Paths.Restore,
		"paths.confirm": c.Paths.Confirm,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must be an absolute path, got %q", name, p)
		}
	}
	if c.Restore.Command == "" {
		return fmt.Errorf("restore.command is required")
	}
	if c.Restore.Timeout <= 0 {
		return fmt.Errorf("restore.timeout must be positive")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive")
	}
	if c.Session.CSRFTokenLength < 16 {
		return fmt.Errorf("session.csrf_token_length must be at least 16 bytes")
	}
	switch c.Session.Backend {
	case "database", "redis", "memory":
	default:
		return fmt.Errorf("unsupported session.backend: %s (supported: database, redis, memory)", c.Session.Backend)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported log.format: %s", c.Log.Format)
	}
	return nil
}

// ListenAddr returns host:port for the HTTP server
func (c *Config) ListenAddr() string {
	host := c.Server.Address
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, c.Server.Port)
}

// findConfigFile searches for server.yml in common locations
func findConfigFile(configDir string) string {
	if configDir != "" {
		path := filepath.Join(configDir, ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		return ""
	}

	var searchPaths []string
	if cwd, err := os.Getwd(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(cwd, ConfigFileName))
	}
	searchPaths = append(searchPaths,
		filepath.Join("/etc/devrestore", ConfigFileName),
		filepath.Join("/opt/devrestore", ConfigFileName),
	)

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
