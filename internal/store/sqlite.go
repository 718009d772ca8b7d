package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/courselab/internal/domain"
	"github.com/ashureev/courselab/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeMaxRetries = 3
	writeBaseDelay  = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS local_store (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (scope, key)
	);

	CREATE TABLE IF NOT EXISTS lab_sessions (
		course_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		progress_json TEXT NOT NULL,
		total_lab_time REAL NOT NULL DEFAULT 0,
		last_activity INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (course_id, student_id)
	);
	CREATE INDEX IF NOT EXISTS idx_lab_sessions_updated ON lab_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Local returns the key/value store for one scope.
func (s *SQLiteStore) Local(scope string) LocalStore {
	return scopedLocal{repo: s, scope: scope}
}

// GetLocal reads a value from the scoped key/value table.
func (s *SQLiteStore) GetLocal(ctx context.Context, scope, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM local_store WHERE scope = ? AND key = ?`, scope, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get local %s/%s: %w", scope, key, err)
	}
	return []byte(value), nil
}

// PutLocal writes a value to the scoped key/value table.
func (s *SQLiteStore) PutLocal(ctx context.Context, scope, key string, value []byte) error {
	query := `
	INSERT INTO local_store (scope, key, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(scope, key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, "put_local", writeMaxRetries, writeBaseDelay, func() error {
		if _, err := s.db.ExecContext(ctx, query, scope, key, string(value), time.Now().Unix()); err != nil {
			return fmt.Errorf("put local %s/%s: %w", scope, key, err)
		}
		return nil
	})
}

// GetLabSession retrieves the remote progress row for a student and course.
func (s *SQLiteStore) GetLabSession(ctx context.Context, courseID, studentID string) (*domain.LabSessionRecord, error) {
	query := `
		SELECT course_id, student_id, session_id, progress_json,
		       total_lab_time, last_activity, version, updated_at
		FROM lab_sessions WHERE course_id = ? AND student_id = ?`

	var rec domain.LabSessionRecord
	var progressJSON string
	var lastActivity, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, courseID, studentID).Scan(
		&rec.CourseID, &rec.StudentID, &rec.SessionID, &progressJSON,
		&rec.TotalLabTime, &lastActivity, &rec.Version, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan lab session row: %w", err)
	}

	if err := json.Unmarshal([]byte(progressJSON), &rec.ExerciseProgress); err != nil {
		return nil, fmt.Errorf("decode exercise progress: %w", err)
	}
	if rec.ExerciseProgress == nil {
		rec.ExerciseProgress = make(map[string]*domain.ExerciseProgress)
	}
	rec.LastActivity = time.Unix(0, lastActivity).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()

	return &rec, nil
}

// SaveLabSession upserts the remote progress row.
func (s *SQLiteStore) SaveLabSession(ctx context.Context, rec *domain.LabSessionRecord, rejectStale bool) (SaveResult, error) {
	progress := rec.ExerciseProgress
	if progress == nil {
		progress = map[string]*domain.ExerciseProgress{}
	}
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return SaveResult{}, fmt.Errorf("encode exercise progress: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var result SaveResult
	err = shared.RetryOnConflict(ctx, "save_lab_session", writeMaxRetries, writeBaseDelay, func() error {
		var txErr error
		result, txErr = s.saveLabSessionTx(ctx, rec, string(progressJSON), rejectStale)
		return txErr
	})
	if err != nil {
		// result still carries the stored version for stale rejections.
		return result, err
	}

	if result.LostUpdate {
		slog.Warn("Lab session overwritten by an older version",
			"course_id", rec.CourseID,
			"student_id", rec.StudentID,
			"stored_version", result.PreviousVersion,
			"incoming_version", rec.Version)
	}
	return result, nil
}

func (s *SQLiteStore) saveLabSessionTx(ctx context.Context, rec *domain.LabSessionRecord, progressJSON string, rejectStale bool) (SaveResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SaveResult{}, fmt.Errorf("begin lab session tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back lab session tx", "error", rbErr)
		}
	}()

	var result SaveResult
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM lab_sessions WHERE course_id = ? AND student_id = ?`,
		rec.CourseID, rec.StudentID,
	).Scan(&result.PreviousVersion)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return SaveResult{}, fmt.Errorf("read stored version: %w", err)
	}

	if rec.Version < result.PreviousVersion {
		if rejectStale {
			return result, ErrStaleVersion
		}
		result.LostUpdate = true
	}

	now := time.Now().UnixNano()
	updatedAt := now
	if !rec.UpdatedAt.IsZero() {
		updatedAt = rec.UpdatedAt.UnixNano()
	}
	query := `
	INSERT INTO lab_sessions (
		course_id, student_id, session_id, progress_json,
		total_lab_time, last_activity, version, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(course_id, student_id) DO UPDATE SET
		session_id = excluded.session_id,
		progress_json = excluded.progress_json,
		total_lab_time = excluded.total_lab_time,
		last_activity = excluded.last_activity,
		version = excluded.version,
		updated_at = excluded.updated_at`

	if _, err := tx.ExecContext(ctx, query,
		rec.CourseID, rec.StudentID, rec.SessionID, progressJSON,
		rec.TotalLabTime, rec.LastActivity.UnixNano(), rec.Version, now, updatedAt,
	); err != nil {
		return SaveResult{}, fmt.Errorf("upsert lab session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return SaveResult{}, fmt.Errorf("commit lab session: %w", err)
	}
	return result, nil
}
