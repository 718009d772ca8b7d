// Package terminal implements the simulated lab shell: a fixed command table,
// per-session working directory and history, and a WebSocket transport.
package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/courselab/internal/domain"
	"github.com/ashureev/courselab/internal/sandbox"
	"github.com/ashureev/courselab/internal/vfs"
)

// Command is one built-in terminal command.
type Command interface {
	Name() string
	Description() string
	Execute(args []string, s *Session) string
}

// Recorder receives audit entries. *audit.Log implements it.
type Recorder interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}

// Interpreter tokenizes input lines and dispatches them to the command table.
type Interpreter struct {
	cfg      *sandbox.Config
	fs       *vfs.FS
	audit    Recorder
	commands map[string]Command
	order    []string
	now      func() time.Time
	logger   *slog.Logger
}

// InterpreterOption customizes an Interpreter.
type InterpreterOption func(*Interpreter)

// WithClock overrides the clock used by date and audit timestamps.
func WithClock(now func() time.Time) InterpreterOption {
	return func(in *Interpreter) { in.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) InterpreterOption {
	return func(in *Interpreter) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// NewInterpreter builds an interpreter with the built-in command table.
// audit may be nil, in which case nothing is recorded.
func NewInterpreter(cfg *sandbox.Config, fs *vfs.FS, audit Recorder, opts ...InterpreterOption) *Interpreter {
	in := &Interpreter{
		cfg:      cfg,
		fs:       fs,
		audit:    audit,
		commands: make(map[string]Command),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	for _, cmd := range builtins() {
		in.register(cmd)
	}
	return in
}

func (in *Interpreter) register(cmd Command) {
	if _, exists := in.commands[cmd.Name()]; !exists {
		in.order = append(in.order, cmd.Name())
	}
	in.commands[cmd.Name()] = cmd
}

// Config returns the sandbox config the interpreter enforces.
func (in *Interpreter) Config() *sandbox.Config {
	return in.cfg
}

// Execute runs one raw input line against s and returns the text to display.
// Callers must serialize access to s; Session.Submit does.
func (in *Interpreter) Execute(ctx context.Context, line string, s *Session) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	if in.cfg.Enabled() {
		in.record(ctx, line, s.cwd)
		if !in.cfg.IsCommandAllowed(name) {
			in.logger.Info("Sandbox denied command",
				"student_id", in.cfg.StudentID(),
				"session_id", in.cfg.SessionID(),
				"command", name)
			return fmt.Sprintf("%s: permission denied (not allowed in sandbox mode)", name)
		}
	}

	cmd, ok := in.commands[name]
	if !ok {
		return fmt.Sprintf("%s: command not found", name)
	}
	return cmd.Execute(args, s)
}

func (in *Interpreter) record(ctx context.Context, line, cwd string) {
	if in.audit == nil {
		return
	}
	err := in.audit.Record(ctx, domain.AuditEntry{
		Timestamp: in.now().UTC(),
		StudentID: in.cfg.StudentID(),
		SessionID: in.cfg.SessionID(),
		Command:   line,
		Directory: cwd,
	})
	if err != nil {
		in.logger.Warn("Failed to record audit entry",
			"student_id", in.cfg.StudentID(),
			"session_id", in.cfg.SessionID(),
			"error", err)
	}
}

// visibleCommands returns the commands help should list, in table order.
func (in *Interpreter) visibleCommands() []Command {
	out := make([]Command, 0, len(in.order))
	for _, name := range in.order {
		if in.cfg.IsCommandAllowed(name) {
			out = append(out, in.commands[name])
		}
	}
	return out
}

// resolve maps a path token to an absolute path and checks it against the
// sandbox. ok is false when the path is denied.
func (in *Interpreter) resolve(token, cwd string) (path string, ok bool) {
	path = sandbox.Resolve(token, cwd, in.cfg.Root())
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	return path, in.cfg.IsPathAllowed(path)
}
