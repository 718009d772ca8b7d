// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/courselab/internal/sandbox"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	SessionTTL  time.Duration
	Sandbox     sandbox.Policy
	Progress    ProgressConfig
	Runner      RunnerConfig
}

// ProgressConfig controls progress persistence.
type ProgressConfig struct {
	// SessionBaseURL is where remote progress is loaded from. Empty disables
	// remote persistence and progress stays in the local store only.
	SessionBaseURL string
	SessionSaveURL string
	APIToken       string
	SaveInterval   time.Duration
	// RejectStale makes the session store refuse saves older than the stored row.
	RejectStale bool
}

// RunnerConfig controls the isolated code runner.
type RunnerConfig struct {
	Enabled  bool
	Runtime  string // Docker runtime: "" = default (runc), "runsc" = gVisor
	Timeout  time.Duration
	MemoryMB int64
}

// policyFile is the on-disk shape of SANDBOX_POLICY_FILE.
type policyFile struct {
	Root            string   `yaml:"root"`
	AllowedCommands []string `yaml:"allowed_commands"`
	BlockedPaths    []string `yaml:"blocked_paths"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/courselab.db"),
		SessionTTL:  getEnvDuration("SESSION_TTL", 60*time.Minute),
		Sandbox: sandbox.Policy{
			Root:            getEnv("SANDBOX_ROOT", sandbox.DefaultRoot),
			AllowedCommands: getEnvList("SANDBOX_ALLOWED_COMMANDS", sandbox.DefaultAllowedCommands),
			BlockedPaths:    getEnvList("SANDBOX_BLOCKED_PATHS", sandbox.DefaultBlockedPaths),
		},
		Progress: ProgressConfig{
			SessionBaseURL: strings.TrimRight(getEnv("SESSION_BASE_URL", ""), "/"),
			SessionSaveURL: getEnv("SESSION_SAVE_URL", ""),
			APIToken:       getEnv("SESSION_API_TOKEN", ""),
			SaveInterval:   getEnvDuration("PROGRESS_SAVE_INTERVAL", 30*time.Second),
			RejectStale:    getEnvBool("PROGRESS_REJECT_STALE", false),
		},
		Runner: RunnerConfig{
			Enabled:  getEnvBool("RUNNER_ENABLED", false),
			Runtime:  getEnv("CONTAINER_RUNTIME", ""),
			Timeout:  getEnvDuration("RUNNER_TIMEOUT", 10*time.Second),
			MemoryMB: int64(getEnvInt("RUNNER_MEMORY_MB", 128)),
		},
	}

	if cfg.Progress.SessionBaseURL != "" && cfg.Progress.SessionSaveURL == "" {
		cfg.Progress.SessionSaveURL = cfg.Progress.SessionBaseURL + "/save"
	}

	if path := getEnv("SANDBOX_POLICY_FILE", ""); path != "" {
		if err := cfg.loadPolicyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadPolicyFile overrides the sandbox policy with the values set in a YAML file.
func (c *Config) loadPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sandbox policy %s: %w", path, err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parse sandbox policy %s: %w", path, err)
	}

	if pf.Root != "" {
		c.Sandbox.Root = pf.Root
	}
	if pf.AllowedCommands != nil {
		c.Sandbox.AllowedCommands = pf.AllowedCommands
	}
	if pf.BlockedPaths != nil {
		c.Sandbox.BlockedPaths = pf.BlockedPaths
	}
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if !strings.HasPrefix(c.Sandbox.Root, "/") {
		return fmt.Errorf("SANDBOX_ROOT must be an absolute path, got %q", c.Sandbox.Root)
	}
	for _, p := range c.Sandbox.BlockedPaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("blocked path %q must be absolute", p)
		}
	}
	if c.Progress.SaveInterval <= 0 {
		return fmt.Errorf("PROGRESS_SAVE_INTERVAL must be > 0")
	}
	if c.Runner.Enabled {
		if c.Runner.Timeout <= 0 {
			return fmt.Errorf("RUNNER_TIMEOUT must be > 0")
		}
		if c.Runner.MemoryMB <= 0 {
			return fmt.Errorf("RUNNER_MEMORY_MB must be > 0")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// RemoteEnabled reports whether progress is mirrored to a session store.
func (c *Config) RemoteEnabled() bool {
	return c.Progress.SessionBaseURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList reads a comma separated list. Empty items are dropped.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
