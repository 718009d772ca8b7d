package domain

import (
	"time"
)

// LabSessionRecord is the remote copy of a student's lab progress for a course.
type LabSessionRecord struct {
	StudentID        string                       `json:"student_id" validate:"required,max=128"`
	CourseID         string                       `json:"course_id" validate:"required,max=128"`
	SessionID        string                       `json:"session_id" validate:"max=128"`
	ExerciseProgress map[string]*ExerciseProgress `json:"exercise_progress" validate:"dive,required"`
	TotalLabTime     float64                      `json:"total_lab_time" validate:"gte=0"`
	LastActivity     time.Time                    `json:"last_activity"`
	Version          int64                        `json:"version" validate:"gte=0"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

// Snapshot converts the record into the shape the tracker loads.
func (r *LabSessionRecord) Snapshot() *ProgressSnapshot {
	progress := r.ExerciseProgress
	if progress == nil {
		progress = make(map[string]*ExerciseProgress)
	}
	return &ProgressSnapshot{
		ExerciseProgress: progress,
		TotalLabTime:     r.TotalLabTime,
		LastUpdated:      r.UpdatedAt,
		Version:          r.Version,
	}
}
