// Package lab owns the per-session state of an open lab page: sandbox policy,
// filesystem, terminal, audit log, progress tracker and exercise list.
package lab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/courselab/internal/audit"
	"github.com/ashureev/courselab/internal/domain"
	"github.com/ashureev/courselab/internal/identity"
	"github.com/ashureev/courselab/internal/progress"
	"github.com/ashureev/courselab/internal/runner"
	"github.com/ashureev/courselab/internal/sandbox"
	"github.com/ashureev/courselab/internal/terminal"
)

var (
	// ErrSessionNotFound is returned for unknown or closed session ids.
	ErrSessionNotFound = errors.New("lab session not found")
	// ErrExerciseNotFound is returned for exercise ids not in the session's list.
	ErrExerciseNotFound = errors.New("exercise not found")
)

// Session is one open lab page.
type Session struct {
	id      string
	params  identity.LabParams
	cfg     *sandbox.Config
	term    *terminal.Session
	audit   *audit.Log
	tracker *progress.Tracker
	runner  runner.Runner
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	exercises  []*domain.Exercise
	current    string
	lastActive time.Time
	closed     bool
}

// Info is the client-facing description of a session.
type Info struct {
	SessionID       string                   `json:"sessionId"`
	StudentID       string                   `json:"studentId"`
	CourseID        string                   `json:"courseId"`
	CourseTitle     string                   `json:"courseTitle,omitempty"`
	DefaultLanguage string                   `json:"defaultLanguage,omitempty"`
	Sandboxed       bool                     `json:"sandboxed"`
	Root            string                   `json:"root"`
	Cwd             string                   `json:"cwd"`
	Prompt          string                   `json:"prompt"`
	AllowedCommands []string                 `json:"allowedCommands"`
	CurrentExercise string                   `json:"currentExercise,omitempty"`
	Progress        *domain.ProgressSnapshot `json:"progress"`
}

// RunOutcome is the result of running code for an exercise.
type RunOutcome struct {
	ExerciseID string                   `json:"exerciseId"`
	Result     *runner.Result           `json:"result,omitempty"`
	RunError   string                   `json:"runError,omitempty"`
	Completed  bool                     `json:"completed"`
	Progress   *domain.ExerciseProgress `json:"progress"`
}

// CommandOutput is the result of one terminal line.
type CommandOutput struct {
	Output string `json:"output"`
	Cwd    string `json:"cwd"`
	Prompt string `json:"prompt"`
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Params returns the page parameters the session was opened with.
func (s *Session) Params() identity.LabParams { return s.params }

// Terminal returns the session's terminal.
func (s *Session) Terminal() *terminal.Session { return s.term }

// Info describes the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	return Info{
		SessionID:       s.id,
		StudentID:       s.params.StudentID,
		CourseID:        s.params.CourseID,
		CourseTitle:     s.params.CourseTitle,
		DefaultLanguage: s.params.DefaultLanguage,
		Sandboxed:       s.cfg.Enabled(),
		Root:            s.cfg.Root(),
		Cwd:             s.term.Cwd(),
		Prompt:          s.term.Prompt(),
		AllowedCommands: s.cfg.AllowedCommands(),
		CurrentExercise: current,
		Progress:        s.tracker.Snapshot(),
	}
}

// SetExercises replaces the exercise list. The current selection is kept
// only if it is still in the list.
func (s *Session) SetExercises(exercises []domain.Exercise) {
	list := make([]*domain.Exercise, 0, len(exercises))
	for i := range exercises {
		ex := exercises[i]
		ex.HintIndex = 0
		list = append(list, &ex)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.exercises = list
	if s.findLocked(s.current) == nil {
		s.current = ""
	}
	s.touchLocked()
}

// Exercises returns a copy of the exercise list.
func (s *Session) Exercises() []domain.Exercise {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Exercise, 0, len(s.exercises))
	for _, ex := range s.exercises {
		out = append(out, *ex)
	}
	return out
}

// SelectExercise makes exerciseID current and marks it started.
func (s *Session) SelectExercise(ctx context.Context, exerciseID string) (*domain.ExerciseProgress, error) {
	s.mu.Lock()
	if s.findLocked(exerciseID) == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExerciseNotFound, exerciseID)
	}
	s.current = exerciseID
	s.touchLocked()
	s.mu.Unlock()

	s.logger.Info("Exercise selected", "session_id", s.id, "exercise_id", exerciseID)
	return s.tracker.TrackStart(ctx, exerciseID), nil
}

// NextHint returns the next hint for an exercise, or "" when none remain.
func (s *Session) NextHint(exerciseID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ex := s.findLocked(exerciseID)
	if ex == nil {
		return "", false, fmt.Errorf("%w: %s", ErrExerciseNotFound, exerciseID)
	}
	s.touchLocked()
	return ex.NextHint(), ex.HasHints(), nil
}

// RunCode runs code for an exercise in the isolated runner, records the
// attempt and checks completion. A runner failure is reported in the outcome
// and does not prevent grading. language "" falls back to the exercise's
// language, then the page default, then python.
func (s *Session) RunCode(ctx context.Context, exerciseID, code, language string) (*RunOutcome, error) {
	s.mu.Lock()
	ex := s.findLocked(exerciseID)
	if ex == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExerciseNotFound, exerciseID)
	}
	solution := ex.Solution
	if language == "" {
		language = ex.Language
	}
	s.touchLocked()
	s.mu.Unlock()

	if language == "" {
		language = s.params.DefaultLanguage
	}
	if language == "" {
		language = string(runner.Python)
	}
	lang, err := runner.ParseLanguage(language)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, language)
	}

	outcome := &RunOutcome{ExerciseID: exerciseID}
	res, err := s.runner.Run(ctx, runner.Request{Language: lang, Code: code})
	if err != nil {
		s.logger.Warn("Code run failed", "session_id", s.id, "exercise_id", exerciseID, "error", err)
		outcome.RunError = err.Error()
	} else {
		outcome.Result = res
	}

	s.tracker.TrackExecution(ctx, exerciseID, code)
	passed := s.tracker.CheckCompletion(ctx, exerciseID, code, solution)
	outcome.Progress = s.tracker.Progress(exerciseID)
	// Completion is one-way; a failing re-run still reports the exercise done.
	outcome.Completed = passed || outcome.Progress.Completed
	return outcome, nil
}

// Execute runs one terminal line.
func (s *Session) Execute(ctx context.Context, line string) CommandOutput {
	s.touch()
	out := s.term.Submit(ctx, line)
	return CommandOutput{Output: out, Cwd: s.term.Cwd(), Prompt: s.term.Prompt()}
}

// Progress returns the current progress snapshot.
func (s *Session) Progress() *domain.ProgressSnapshot {
	return s.tracker.Snapshot()
}

// AuditEntries returns the command audit log.
func (s *Session) AuditEntries() []domain.AuditEntry {
	return s.audit.Entries()
}

// LastActive returns the time of the last request against the session.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Close performs the final progress save. Later calls do nothing.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.tracker.Close(ctx)
	s.logger.Info("Lab session closed", "session_id", s.id, "student_id", s.params.StudentID)
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
}

func (s *Session) touchLocked() {
	s.lastActive = s.now()
}

func (s *Session) findLocked(exerciseID string) *domain.Exercise {
	if exerciseID == "" {
		return nil
	}
	for _, ex := range s.exercises {
		if ex.ID == exerciseID {
			return ex
		}
	}
	return nil
}
