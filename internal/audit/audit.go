// Package audit keeps the bounded record of commands run in sandbox mode.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/courselab/internal/domain"
	"github.com/ashureev/courselab/internal/store"
)

const (
	// StorageKey is the local store key holding the entries.
	StorageKey = "commandLogs"
	// MaxEntries bounds the log; older entries are trimmed first.
	MaxEntries = 1000
)

// Log is an append-only, bounded command audit log mirrored into a local store
// on every append.
type Log struct {
	mu      sync.Mutex
	local   store.LocalStore
	entries []domain.AuditEntry
	logger  *slog.Logger
}

// Open creates a log backed by local, loading any entries already stored.
// A corrupt stored value is logged and replaced on the next append.
func Open(ctx context.Context, local store.LocalStore, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Log{local: local, logger: logger}

	data, err := local.Get(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load audit log: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &l.entries); err != nil {
			logger.Warn("Discarding unreadable audit log", "error", err)
			l.entries = nil
		}
		l.entries = trim(l.entries)
	}
	return l, nil
}

// Record appends entry and persists the whole list synchronously.
func (l *Log) Record(ctx context.Context, entry domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = trim(append(l.entries, entry))

	data, err := json.Marshal(l.entries)
	if err != nil {
		return fmt.Errorf("encode audit log: %w", err)
	}
	if err := l.local.Put(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("persist audit log: %w", err)
	}
	return nil
}

// Entries returns a copy of the current entries, oldest first.
func (l *Log) Entries() []domain.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.AuditEntry(nil), l.entries...)
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func trim(entries []domain.AuditEntry) []domain.AuditEntry {
	if over := len(entries) - MaxEntries; over > 0 {
		return append([]domain.AuditEntry(nil), entries[over:]...)
	}
	return entries
}
