package lab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/courselab/internal/domain"
	"github.com/ashureev/courselab/internal/identity"
	"github.com/ashureev/courselab/internal/progress"
	"github.com/ashureev/courselab/internal/runner"
	"github.com/ashureev/courselab/internal/sandbox"
	"github.com/ashureev/courselab/internal/store"
)

type memProvider struct {
	mu     sync.Mutex
	scopes map[string]*store.MemoryLocalStore
}

func newMemProvider() *memProvider {
	return &memProvider{scopes: make(map[string]*store.MemoryLocalStore)}
}

func (p *memProvider) Local(scope string) store.LocalStore {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.scopes[scope]
	if !ok {
		s = store.NewMemoryLocalStore()
		p.scopes[scope] = s
	}
	return s
}

type fakeRunner struct {
	mu   sync.Mutex
	reqs []runner.Request
	err  error
}

func (f *fakeRunner) Run(_ context.Context, req runner.Request) (*runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &runner.Result{Output: "ok\n"}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *fakeRunner, *fakeClock, *[]string) {
	t.Helper()
	run := &fakeRunner{}
	clock := &fakeClock{now: time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)}
	var closed []string
	m := NewManager(Deps{
		Local:        newMemProvider(),
		Runner:       run,
		Policy:       sandbox.DefaultPolicy(),
		SaveInterval: time.Hour,
		Now:          clock.Now,
		OnClose:      func(id string) { closed = append(closed, id) },
	})
	t.Cleanup(func() { m.CloseAll(context.Background()) })
	return m, run, clock, &closed
}

var exercises = []domain.Exercise{
	{ID: "add", Title: "Add", Language: "javascript", Solution: "function add(a,b){return a+b;}", Hints: []string{"use +"}},
	{ID: "free", Title: "Free form"},
}

func TestManager_OpenAndReuse(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	sess, created, err := m.Open(ctx, identity.LabParams{StudentID: "stu", CourseID: "c1", Sandboxed: true})
	if err != nil || !created {
		t.Fatalf("Open: created=%v err=%v", created, err)
	}
	if sess.ID() == "" {
		t.Fatal("session id not generated")
	}

	again, created, err := m.Open(ctx, identity.LabParams{StudentID: "stu", CourseID: "c1", SessionID: sess.ID()})
	if err != nil || created || again != sess {
		t.Errorf("expected existing session, created=%v err=%v", created, err)
	}

	if _, _, err := m.Open(ctx, identity.LabParams{StudentID: "other", SessionID: sess.ID()}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for another student, got %v", err)
	}

	if _, err := m.Terminal(sess.ID()); err != nil {
		t.Errorf("Terminal: %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d", m.Len())
	}
}

func TestSession_TerminalSandboxed(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	sess, _, _ := m.Open(ctx, identity.LabParams{StudentID: "stu", CourseID: "c1", Sandboxed: true})

	out := sess.Execute(ctx, "cd /etc")
	if out.Cwd != sandbox.DefaultRoot || out.Output != "cd: /etc: Permission denied" {
		t.Errorf("unexpected output %+v", out)
	}
	out = sess.Execute(ctx, "cd ..")
	if out.Cwd != sandbox.DefaultRoot {
		t.Errorf("cd .. escaped root: %+v", out)
	}

	entries := sess.AuditEntries()
	if len(entries) != 2 || entries[0].Command != "cd /etc" || entries[0].SessionID != sess.ID() {
		t.Errorf("unexpected audit entries %+v", entries)
	}
}

func TestSession_NotSandboxedSkipsAudit(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	sess, _, _ := m.Open(ctx, identity.LabParams{StudentID: "stu", CourseID: "c1"})

	sess.Execute(ctx, "ls")
	if n := len(sess.AuditEntries()); n != 0 {
		t.Errorf("expected no audit entries, got %d", n)
	}
	if sess.Info().Sandboxed {
		t.Error("session reported sandboxed")
	}
}

func TestSession_Exercises(t *testing.T) {
	m, run, _, _ := newTestManager(t)
	ctx := context.Background()
	sess, _, _ := m.Open(ctx, identity.LabParams{StudentID: "stu", CourseID: "c1", DefaultLanguage: "python"})
	sess.SetExercises(exercises)

	if _, err := sess.SelectExercise(ctx, "missing"); !errors.Is(err, ErrExerciseNotFound) {
		t.Errorf("expected ErrExerciseNotFound, got %v", err)
	}

	p, err := sess.SelectExercise(ctx, "add")
	if err != nil || p.Status() != domain.StatusInProgress {
		t.Fatalf("SelectExercise: %+v %v", p, err)
	}
	if sess.Info().CurrentExercise != "add" {
		t.Errorf("current exercise not set")
	}

	outcome, err := sess.RunCode(ctx, "add", "function add(a,b){ return a + b; }", "")
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if !outcome.Completed || !outcome.Progress.Completed || outcome.Progress.Attempts != 1 {
		t.Errorf("unexpected outcome %+v", outcome)
	}
	if outcome.Result == nil || outcome.Result.Output != "ok\n" {
		t.Errorf("runner result missing: %+v", outcome)
	}
	if run.reqs[0].Language != runner.JavaScript {
		t.Errorf("language = %q, want exercise language", run.reqs[0].Language)
	}

	if _, err := sess.RunCode(ctx, "free", "x = 1", ""); err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if run.reqs[1].Language != runner.Python {
		t.Errorf("language = %q, want page default", run.reqs[1].Language)
	}

	if _, err := sess.RunCode(ctx, "free", "x", "cobol"); !errors.Is(err, runner.ErrUnsupportedLanguage) {
		t.Errorf("expected ErrUnsupportedLanguage, got %v", err)
	}

	hint, more, err := sess.NextHint("add")
	if err != nil || hint != "use +" || more {
		t.Errorf("NextHint = %q, %v, %v", hint, more, err)
	}

	sess.SetExercises(exercises[1:])
	if sess.Info().CurrentExercise != "" {
		t.Errorf("selection kept after exercise removed")
	}
}

func TestSession_RunnerFailureStillGrades(t *testing.T) {
	m, run, _, _ := newTestManager(t)
	run.err = runner.ErrDisabled
	ctx := context.Background()
	sess, _, _ := m.Open(ctx, identity.LabParams{StudentID: "stu", CourseID: "c1"})
	sess.SetExercises(exercises)

	outcome, err := sess.RunCode(ctx, "free", "a = 1\nb = 2\nprint(a + b)", "python")
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if outcome.RunError == "" || outcome.Result != nil {
		t.Errorf("runner error not reported: %+v", outcome)
	}
	if !outcome.Completed {
		t.Errorf("three-line answer should complete an exercise without solution")
	}
}

func TestSession_RunCodeKeepsCompletion(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()
	sess, _, _ := m.Open(ctx, identity.LabParams{StudentID: "stu", CourseID: "c1"})
	sess.SetExercises(exercises)

	if outcome, err := sess.RunCode(ctx, "add", "function add(a,b){ return a + b; }", ""); err != nil || !outcome.Completed {
		t.Fatalf("first run: %+v %v", outcome, err)
	}

	outcome, err := sess.RunCode(ctx, "add", "x", "")
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if !outcome.Completed || !outcome.Progress.Completed {
		t.Errorf("failing re-run reported completed=%v progress=%+v", outcome.Completed, outcome.Progress)
	}
	if outcome.Progress.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", outcome.Progress.Attempts)
	}
}

func TestManager_CloseSavesProgressLocally(t *testing.T) {
	provider := newMemProvider()
	m := NewManager(Deps{Local: provider, Policy: sandbox.DefaultPolicy()})
	ctx := context.Background()

	sess, _, _ := m.Open(ctx, identity.LabParams{StudentID: "stu", CourseID: "c1", SessionID: "s1"})
	sess.SetExercises(exercises)
	if _, err := sess.SelectExercise(ctx, "free"); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(ctx, "s1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Close = %v", err)
	}

	// A new session for the same student and course resumes the progress.
	again, _, _ := m.Open(ctx, identity.LabParams{StudentID: "stu", CourseID: "c1"})
	defer m.Close(ctx, again.ID())
	if again.Progress().ExerciseProgress["free"] == nil {
		t.Errorf("progress not restored from local store")
	}
	data, _ := provider.Local("stu").Get(ctx, progress.LocalKey("stu", "c1"))
	if len(data) == 0 {
		t.Errorf("local store empty after close")
	}
}

func TestManager_Sweep(t *testing.T) {
	m, _, clock, closed := newTestManager(t)
	ctx := context.Background()

	idle, _, _ := m.Open(ctx, identity.LabParams{StudentID: "a", CourseID: "c"})
	clock.Advance(20 * time.Minute)
	active, _, _ := m.Open(ctx, identity.LabParams{StudentID: "b", CourseID: "c"})
	clock.Advance(15 * time.Minute)

	if n := m.sweep(ctx, 30*time.Minute); n != 1 {
		t.Fatalf("sweep closed %d sessions, want 1", n)
	}
	if _, err := m.Get(idle.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("idle session still open")
	}
	if _, err := m.Get(active.ID()); err != nil {
		t.Errorf("active session closed: %v", err)
	}
	if len(*closed) != 1 || (*closed)[0] != idle.ID() {
		t.Errorf("OnClose calls = %v", *closed)
	}
}
