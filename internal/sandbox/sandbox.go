// Package sandbox holds the per-session security policy for the lab terminal:
// which commands may run and which paths may be entered.
package sandbox

import (
	"strings"
)

// DefaultRoot is the directory students are confined to.
const DefaultRoot = "/home/student"

// DefaultAllowedCommands lists every built-in terminal command.
var DefaultAllowedCommands = []string{
	"help", "ls", "cd", "pwd", "cat", "echo", "mkdir", "touch", "whoami", "date", "clear",
}

// DefaultBlockedPaths are denied even when sandbox mode is on and the root is "/".
var DefaultBlockedPaths = []string{
	"/etc", "/root", "/var", "/usr", "/bin", "/sbin", "/proc", "/sys",
}

// Policy is the server-side part of a sandbox configuration.
type Policy struct {
	Root            string
	AllowedCommands []string
	BlockedPaths    []string
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		Root:            DefaultRoot,
		AllowedCommands: append([]string(nil), DefaultAllowedCommands...),
		BlockedPaths:    append([]string(nil), DefaultBlockedPaths...),
	}
}

// Config is the immutable policy for one lab session.
type Config struct {
	enabled      bool
	root         string
	allowed      map[string]struct{}
	blocked      []string
	studentID    string
	sessionID    string
	allowedNames []string
}

// NewConfig builds a session config. The policy slices are copied.
func NewConfig(enabled bool, policy Policy, studentID, sessionID string) *Config {
	root := policy.Root
	if root == "" {
		root = DefaultRoot
	}
	if root != "/" {
		root = strings.TrimRight(root, "/")
	}

	allowed := make(map[string]struct{}, len(policy.AllowedCommands))
	names := make([]string, 0, len(policy.AllowedCommands))
	for _, name := range policy.AllowedCommands {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, dup := allowed[name]; !dup {
			names = append(names, name)
		}
		allowed[name] = struct{}{}
	}

	blocked := make([]string, 0, len(policy.BlockedPaths))
	for _, p := range policy.BlockedPaths {
		if p = strings.TrimSpace(p); p != "" {
			blocked = append(blocked, p)
		}
	}

	return &Config{
		enabled:      enabled,
		root:         root,
		allowed:      allowed,
		blocked:      blocked,
		studentID:    studentID,
		sessionID:    sessionID,
		allowedNames: names,
	}
}

// Enabled reports whether sandbox mode is active.
func (c *Config) Enabled() bool { return c.enabled }

// Root returns the sandbox root.
func (c *Config) Root() string { return c.root }

// StudentID returns the student the session belongs to.
func (c *Config) StudentID() string { return c.studentID }

// SessionID returns the lab session id.
func (c *Config) SessionID() string { return c.sessionID }

// AllowedCommands returns the allow-list in configured order.
func (c *Config) AllowedCommands() []string {
	return append([]string(nil), c.allowedNames...)
}

// BlockedPaths returns the blocked prefixes in configured order.
func (c *Config) BlockedPaths() []string {
	return append([]string(nil), c.blocked...)
}

// IsCommandAllowed reports whether name may run. Always true outside sandbox mode.
func (c *Config) IsCommandAllowed(name string) bool {
	if !c.enabled {
		return true
	}
	_, ok := c.allowed[name]
	return ok
}

// IsPathAllowed reports whether an absolute path may be entered.
// Comparisons are case-sensitive string prefixes; no normalization happens here.
func (c *Config) IsPathAllowed(path string) bool {
	if !c.enabled {
		return true
	}
	if !strings.HasPrefix(path, c.root) {
		return false
	}
	for _, prefix := range c.blocked {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}
