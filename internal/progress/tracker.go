package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/courselab/internal/domain"
	"github.com/ashureev/courselab/internal/store"
)

// DefaultSaveInterval is how often StartAutoSave pushes progress remotely.
const DefaultSaveInterval = 30 * time.Second

// remoteSaveTimeout bounds the detached saves started on completion.
const remoteSaveTimeout = 15 * time.Second

// LocalKey is the local store key for a student's progress in a course.
func LocalKey(studentID, courseID string) string {
	return "labProgress_" + studentID + "_" + courseID
}

// Identity names whose progress a tracker holds.
type Identity struct {
	StudentID string
	CourseID  string
	SessionID string
}

// Tracker holds the progress map for one student and course.
// All methods are safe for concurrent use.
type Tracker struct {
	mu           sync.Mutex
	id           Identity
	local        store.LocalStore
	remote       RemoteStore
	grader       Grader
	logger       *slog.Logger
	now          func() time.Time
	saveInterval time.Duration

	progress    map[string]*domain.ExerciseProgress
	baseLabTime float64
	openedAt    time.Time
	version     int64
	updatedAt   time.Time

	pending  sync.WaitGroup
	auto     sync.WaitGroup
	stopAuto context.CancelFunc
	closed   bool
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithGrader replaces the heuristic grader.
func WithGrader(g Grader) Option {
	return func(t *Tracker) {
		if g != nil {
			t.grader = g
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithSaveInterval sets the auto-save period.
func WithSaveInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.saveInterval = d
		}
	}
}

// Open creates a tracker and loads existing progress: remote first, then the
// local store, then empty. Load failures are logged, never returned.
// remote may be nil when no session service is configured.
func Open(ctx context.Context, id Identity, local store.LocalStore, remote RemoteStore, opts ...Option) *Tracker {
	t := &Tracker{
		id:           id,
		local:        local,
		remote:       remote,
		grader:       HeuristicGrader{},
		logger:       slog.Default(),
		now:          time.Now,
		saveInterval: DefaultSaveInterval,
		progress:     make(map[string]*domain.ExerciseProgress),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.openedAt = t.now()

	if snap := t.load(ctx); snap != nil {
		t.progress = domain.CloneProgress(snap.ExerciseProgress)
		t.baseLabTime = snap.TotalLabTime
		t.version = snap.Version
		t.updatedAt = snap.LastUpdated
	}
	return t
}

func (t *Tracker) load(ctx context.Context) *domain.ProgressSnapshot {
	if t.remote != nil {
		snap, err := t.remote.Load(ctx, t.id.CourseID, t.id.StudentID)
		if err == nil && snap != nil {
			t.logger.Info("Loaded progress from session service",
				"student_id", t.id.StudentID, "course_id", t.id.CourseID, "version", snap.Version)
			return snap
		}
		t.logger.Warn("Remote progress load failed, using local store",
			"student_id", t.id.StudentID, "course_id", t.id.CourseID, "error", err)
	}

	data, err := t.local.Get(ctx, LocalKey(t.id.StudentID, t.id.CourseID))
	if err != nil {
		t.logger.Warn("Local progress load failed",
			"student_id", t.id.StudentID, "course_id", t.id.CourseID, "error", err)
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	var snap domain.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.logger.Warn("Discarding unreadable local progress",
			"student_id", t.id.StudentID, "course_id", t.id.CourseID, "error", err)
		return nil
	}
	return &snap
}

// TrackStart marks an exercise as started if it is not already and touches
// its last activity time.
func (t *Tracker) TrackStart(ctx context.Context, exerciseID string) *domain.ExerciseProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.ensure(exerciseID)
	p.LastActivity = t.now().UTC()
	t.changed(ctx)
	return p.Clone()
}

// TrackExecution records one code run.
func (t *Tracker) TrackExecution(ctx context.Context, exerciseID, code string) *domain.ExerciseProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	p := t.ensure(exerciseID)
	p.Attempts++
	p.AddAttempt(code, now)
	p.LastActivity = now
	t.changed(ctx)
	return p.Clone()
}

// CheckCompletion grades code against solution and returns the grade. A
// passing grade marks the exercise completed, persists locally and starts a
// remote save. Completion is never reverted by a later failing grade.
func (t *Tracker) CheckCompletion(ctx context.Context, exerciseID, code, solution string) bool {
	passed := t.grader.Grade(code, solution)
	if !passed {
		return false
	}

	t.mu.Lock()
	p := t.ensure(exerciseID)
	if p.Completed {
		t.mu.Unlock()
		return true
	}
	now := t.now().UTC()
	p.Completed = true
	p.CompletedAt = &now
	p.LastActivity = now
	t.changed(ctx)
	t.mu.Unlock()

	t.logger.Info("Exercise completed",
		"student_id", t.id.StudentID, "course_id", t.id.CourseID, "exercise_id", exerciseID)
	t.saveAsync()
	return true
}

// Progress returns a copy of one exercise's progress, or nil if not started.
func (t *Tracker) Progress(exerciseID string) *domain.ExerciseProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress[exerciseID].Clone()
}

// Snapshot returns a deep copy of the current state.
func (t *Tracker) Snapshot() *domain.ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Identity returns who the tracker belongs to.
func (t *Tracker) Identity() Identity {
	return t.id
}

// Save pushes the current state to the remote store. On failure the local
// store is rewritten and false is returned; the error is only logged.
func (t *Tracker) Save(ctx context.Context) bool {
	t.mu.Lock()
	snap := t.snapshotLocked()
	t.mu.Unlock()

	if t.remote == nil {
		t.writeLocal(ctx, snap)
		return false
	}

	err := t.remote.Save(ctx, t.record(snap))
	if err == nil {
		return true
	}
	if errors.Is(err, store.ErrStaleVersion) {
		t.logger.Warn("Session service rejected stale progress",
			"student_id", t.id.StudentID, "course_id", t.id.CourseID, "version", snap.Version)
	} else {
		t.logger.Warn("Remote progress save failed, kept local copy",
			"student_id", t.id.StudentID, "course_id", t.id.CourseID, "error", err)
	}
	t.writeLocal(ctx, t.Snapshot())
	return false
}

// StartAutoSave saves every save interval until ctx is done or Close is called.
func (t *Tracker) StartAutoSave(ctx context.Context) {
	t.mu.Lock()
	if t.stopAuto != nil || t.closed {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.stopAuto = cancel
	t.auto.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.auto.Done()
		ticker := time.NewTicker(t.saveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Save(ctx)
			}
		}
	}()
}

// Wait blocks until saves started by completions finish.
func (t *Tracker) Wait() {
	t.pending.Wait()
}

// Close stops the auto-saver, waits for background saves and performs the
// final save. It is safe to call more than once.
func (t *Tracker) Close(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	stop := t.stopAuto
	t.stopAuto = nil
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	t.auto.Wait()
	t.pending.Wait()
	t.Save(ctx)
}

// ensure returns the record for id, creating it as started. Caller holds mu.
func (t *Tracker) ensure(exerciseID string) *domain.ExerciseProgress {
	p := t.progress[exerciseID]
	if p == nil {
		now := t.now().UTC()
		p = &domain.ExerciseProgress{Started: now, LastActivity: now}
		t.progress[exerciseID] = p
	}
	return p
}

// changed bumps the version and writes the local copy. Caller holds mu.
func (t *Tracker) changed(ctx context.Context) {
	t.version++
	t.updatedAt = t.now().UTC()
	t.writeLocal(ctx, t.snapshotLocked())
}

func (t *Tracker) snapshotLocked() *domain.ProgressSnapshot {
	return &domain.ProgressSnapshot{
		ExerciseProgress: domain.CloneProgress(t.progress),
		TotalLabTime:     t.baseLabTime + t.now().Sub(t.openedAt).Seconds(),
		LastUpdated:      t.updatedAt,
		Version:          t.version,
	}
}

func (t *Tracker) writeLocal(ctx context.Context, snap *domain.ProgressSnapshot) {
	if err := t.putLocal(ctx, snap); err != nil {
		t.logger.Warn("Local progress save failed",
			"student_id", t.id.StudentID, "course_id", t.id.CourseID, "error", err)
	}
}

func (t *Tracker) putLocal(ctx context.Context, snap *domain.ProgressSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := t.local.Put(ctx, LocalKey(t.id.StudentID, t.id.CourseID), data); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	return nil
}

func (t *Tracker) record(snap *domain.ProgressSnapshot) *domain.LabSessionRecord {
	return &domain.LabSessionRecord{
		StudentID:        t.id.StudentID,
		CourseID:         t.id.CourseID,
		SessionID:        t.id.SessionID,
		ExerciseProgress: snap.ExerciseProgress,
		TotalLabTime:     snap.TotalLabTime,
		LastActivity:     t.now().UTC(),
		Version:          snap.Version,
		UpdatedAt:        snap.LastUpdated,
	}
}

func (t *Tracker) saveAsync() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.pending.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), remoteSaveTimeout)
		defer cancel()
		t.Save(ctx)
	}()
}
