package domain

import "time"

// AuditEntry records one terminal command executed in sandbox mode.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	StudentID string    `json:"studentId"`
	SessionID string    `json:"sessionId"`
	Command   string    `json:"command"`
	Directory string    `json:"directory"`
}
