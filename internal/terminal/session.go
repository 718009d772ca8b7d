package terminal

import (
	"context"
	"strings"
	"sync"
)

const defaultUser = "student"

// Session is one student's terminal: working directory plus command history.
// It is safe for concurrent use.
type Session struct {
	mu      sync.Mutex
	interp  *Interpreter
	cwd     string
	history []string
	cursor  int
}

// NewSession starts a session at the sandbox root.
func NewSession(interp *Interpreter) *Session {
	return &Session{
		interp: interp,
		cwd:    interp.cfg.Root(),
	}
}

// Submit executes line, records it in history and resets the recall cursor.
// Blank input is neither executed nor recorded.
func (s *Session) Submit(ctx context.Context, line string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(line) == "" {
		s.cursor = len(s.history)
		return ""
	}

	out := s.interp.Execute(ctx, line, s)
	s.history = append(s.history, line)
	s.cursor = len(s.history)
	return out
}

// RecallPrevious moves the cursor back one entry and returns it. It stays on
// the oldest entry once reached.
func (s *Session) RecallPrevious() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 {
		return ""
	}
	if s.cursor > 0 {
		s.cursor--
	}
	return s.history[s.cursor]
}

// RecallNext moves the cursor forward one entry. Moving past the most recent
// entry returns an empty string.
func (s *Session) RecallNext() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor < len(s.history)-1 {
		s.cursor++
		return s.history[s.cursor]
	}
	s.cursor = len(s.history)
	return ""
}

// Cwd returns the current working directory.
func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// History returns a copy of the submitted lines, oldest first.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// User returns the name shown by whoami and the prompt.
func (s *Session) User() string {
	if id := s.interp.cfg.StudentID(); id != "" {
		return id
	}
	return defaultUser
}

// Prompt renders the shell prompt, showing the sandbox root as "~".
func (s *Session) Prompt() string {
	s.mu.Lock()
	cwd := s.cwd
	s.mu.Unlock()

	root := s.interp.cfg.Root()
	display := cwd
	if cwd == root {
		display = "~"
	} else if strings.HasPrefix(cwd, root+"/") {
		display = "~" + strings.TrimPrefix(cwd, root)
	}
	return s.User() + "@lab:" + display + "$ "
}
