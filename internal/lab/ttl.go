package lab

import (
	"context"
	"time"
)

const sweepInterval = time.Minute

// StartSweeper runs a background goroutine that periodically closes sessions
// idle for longer than ttl. Closing performs the final progress save.
func StartSweeper(ctx context.Context, m *Manager, ttl time.Duration) {
	interval := sweepInterval
	if ttl < interval {
		interval = ttl / 2
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		m.deps.Logger.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				m.sweep(ctx, ttl)
			case <-ctx.Done():
				m.deps.Logger.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (m *Manager) sweep(ctx context.Context, ttl time.Duration) int {
	expired := m.idleSince(m.deps.Now().Add(-ttl))
	if len(expired) == 0 {
		return 0
	}

	m.deps.Logger.Info("Sweeper found idle sessions", "count", len(expired))
	closed := 0
	for _, id := range expired {
		if err := m.Close(ctx, id); err != nil {
			m.deps.Logger.Debug("Idle session already closed", "session_id", id)
			continue
		}
		closed++
	}
	m.deps.Logger.Info("Sweeper cleanup completed", "closed", closed)
	return closed
}
