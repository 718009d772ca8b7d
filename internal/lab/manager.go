package lab

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/courselab/internal/audit"
	"github.com/ashureev/courselab/internal/identity"
	"github.com/ashureev/courselab/internal/progress"
	"github.com/ashureev/courselab/internal/runner"
	"github.com/ashureev/courselab/internal/sandbox"
	"github.com/ashureev/courselab/internal/store"
	"github.com/ashureev/courselab/internal/terminal"
	"github.com/ashureev/courselab/internal/vfs"
)

// LocalProvider hands out the durable key/value store for a student device.
// store.Repository implements it.
type LocalProvider interface {
	Local(scope string) store.LocalStore
}

// Deps are the shared services every session is built from.
type Deps struct {
	Local  LocalProvider
	Remote progress.RemoteStore // nil disables remote persistence
	Runner runner.Runner        // nil disables code execution
	Policy sandbox.Policy
	Logger *slog.Logger

	SaveInterval time.Duration
	Grader       progress.Grader
	Now          func() time.Time

	// OnClose runs after a session is removed, e.g. to drop its WebSocket.
	OnClose func(sessionID string)
}

// Manager is the registry of open lab sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	deps     Deps
}

// NewManager creates an empty registry.
func NewManager(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Runner == nil {
		deps.Runner = runner.Disabled{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		sessions: make(map[string]*Session),
		deps:     deps,
	}
}

// Open returns the session for params.SessionID, creating it if needed.
// A missing session id is generated. created reports whether a new session
// was built.
func (m *Manager) Open(ctx context.Context, params identity.LabParams) (sess *Session, created bool, err error) {
	if params.SessionID == "" {
		params.SessionID = uuid.NewString()
	}

	m.mu.RLock()
	existing, ok := m.sessions[params.SessionID]
	m.mu.RUnlock()
	if ok {
		if existing.params.StudentID != params.StudentID {
			return nil, false, fmt.Errorf("session %s belongs to another student: %w", params.SessionID, ErrSessionNotFound)
		}
		existing.touch()
		return existing, false, nil
	}

	sess, err = m.build(ctx, params)
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	if raced, ok := m.sessions[params.SessionID]; ok {
		m.mu.Unlock()
		sess.Close(ctx)
		raced.touch()
		return raced, false, nil
	}
	m.sessions[params.SessionID] = sess
	m.mu.Unlock()

	sess.tracker.StartAutoSave(context.WithoutCancel(ctx))
	m.deps.Logger.Info("Lab session opened",
		"session_id", sess.id,
		"student_id", params.StudentID,
		"course_id", params.CourseID,
		"sandboxed", params.Sandboxed)
	return sess, true, nil
}

func (m *Manager) build(ctx context.Context, params identity.LabParams) (*Session, error) {
	logger := m.deps.Logger.With("session_id", params.SessionID)
	local := m.deps.Local.Local(params.StudentID)

	cfg := sandbox.NewConfig(params.Sandboxed, m.deps.Policy, params.StudentID, params.SessionID)

	auditLog, err := audit.Open(ctx, local, logger)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	interp := terminal.NewInterpreter(cfg, vfs.New(cfg.Root()), auditLog,
		terminal.WithLogger(logger),
		terminal.WithClock(m.deps.Now))

	opts := []progress.Option{
		progress.WithLogger(logger),
		progress.WithClock(m.deps.Now),
		progress.WithSaveInterval(m.deps.SaveInterval),
		progress.WithGrader(m.deps.Grader),
	}
	tracker := progress.Open(ctx, progress.Identity{
		StudentID: params.StudentID,
		CourseID:  params.CourseID,
		SessionID: params.SessionID,
	}, local, m.deps.Remote, opts...)

	return &Session{
		id:         params.SessionID,
		params:     params,
		cfg:        cfg,
		term:       terminal.NewSession(interp),
		audit:      auditLog,
		tracker:    tracker,
		runner:     m.deps.Runner,
		logger:     logger,
		now:        m.deps.Now,
		lastActive: m.deps.Now(),
	}, nil
}

// Get returns an open session and marks it active.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.touch()
	return sess, nil
}

// Terminal implements terminal.Sessions.
func (m *Manager) Terminal(sessionID string) (*terminal.Session, error) {
	sess, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.term, nil
}

// Close removes a session and performs its final save.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.Close(ctx)
	if m.deps.OnClose != nil {
		m.deps.OnClose(sessionID)
	}
	return nil
}

// CloseAll closes every session. Used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	for _, id := range m.ids() {
		if err := m.Close(ctx, id); err != nil {
			m.deps.Logger.Debug("Session already closed", "session_id", id)
		}
	}
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// idleSince returns the ids of sessions not active since cutoff.
func (m *Manager) idleSince(cutoff time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, sess := range m.sessions {
		if sess.LastActive().Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
