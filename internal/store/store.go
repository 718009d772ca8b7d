// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/courselab/internal/domain"
)

// ErrStaleVersion is returned when a lab session save carries an older
// version than the stored row and stale writes are rejected.
var ErrStaleVersion = errors.New("stale progress version")

// LocalStore is a durable per-device key/value store. Get returns (nil, nil)
// when the key is absent. Writes are synchronous.
type LocalStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// SaveResult describes what a lab session save replaced.
type SaveResult struct {
	// PreviousVersion is the version that was stored before the save, 0 if none.
	PreviousVersion int64
	// LostUpdate is true when an older version overwrote a newer one.
	LostUpdate bool
}

// Repository defines the interface for persisting lab state.
type Repository interface {
	// Local returns the key/value store for one student device scope.
	Local(scope string) LocalStore

	// GetLocal reads a raw value from the scoped key/value table.
	GetLocal(ctx context.Context, scope, key string) ([]byte, error)

	// PutLocal writes a raw value to the scoped key/value table.
	PutLocal(ctx context.Context, scope, key string, value []byte) error

	// GetLabSession retrieves the remote progress row for a student and course.
	// Returns (nil, nil) when no row exists.
	GetLabSession(ctx context.Context, courseID, studentID string) (*domain.LabSessionRecord, error)

	// SaveLabSession upserts the remote progress row. Saves are last-write-wins
	// unless rejectStale is set, in which case an older version returns
	// ErrStaleVersion and leaves the row untouched.
	SaveLabSession(ctx context.Context, rec *domain.LabSessionRecord, rejectStale bool) (SaveResult, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
