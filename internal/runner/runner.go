// Package runner executes student code away from the server process, with
// time, memory and output limits.
package runner

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrDisabled is returned by the runner used when code execution is off.
	ErrDisabled = errors.New("code execution is disabled on this server")
	// ErrUnsupportedLanguage is returned for languages without a runtime image.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Language names a supported runtime.
type Language string

const (
	Python     Language = "python"
	JavaScript Language = "javascript"
)

// ParseLanguage maps common spellings to a Language.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "python", "python3", "py":
		return Python, nil
	case "javascript", "js", "node":
		return JavaScript, nil
	default:
		return "", ErrUnsupportedLanguage
	}
}

// Request is one piece of code to run.
type Request struct {
	Language Language
	Code     string
}

// Result is what a run produced.
type Result struct {
	Output    string        `json:"output"`
	ExitCode  int           `json:"exitCode"`
	TimedOut  bool          `json:"timedOut"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
}

// Runner runs code in isolation.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Disabled is a Runner that refuses every request.
type Disabled struct{}

// Run implements Runner.
func (Disabled) Run(context.Context, Request) (*Result, error) {
	return nil, ErrDisabled
}
