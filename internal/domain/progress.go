package domain

import "time"

// MaxCodeAttempts is how many recent code submissions are kept per exercise.
const MaxCodeAttempts = 10

// ExerciseStatus is the lifecycle state of one exercise.
type ExerciseStatus string

const (
	// StatusNotStarted means the exercise was never selected.
	StatusNotStarted ExerciseStatus = "not_started"
	// StatusInProgress means the exercise was selected but not completed.
	StatusInProgress ExerciseStatus = "in_progress"
	// StatusCompleted is terminal.
	StatusCompleted ExerciseStatus = "completed"
)

// CodeAttempt is one recorded code run.
type CodeAttempt struct {
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// ExerciseProgress tracks a student's work on one exercise.
type ExerciseProgress struct {
	Started      time.Time     `json:"started"`
	Attempts     int           `json:"attempts"`
	Completed    bool          `json:"completed"`
	CompletedAt  *time.Time    `json:"completedAt"`
	LastActivity time.Time     `json:"lastActivity"`
	CodeAttempts []CodeAttempt `json:"codeAttempts"`
}

// Status derives the lifecycle state. A nil record has not been started.
func (p *ExerciseProgress) Status() ExerciseStatus {
	switch {
	case p == nil:
		return StatusNotStarted
	case p.Completed:
		return StatusCompleted
	default:
		return StatusInProgress
	}
}

// AddAttempt appends a code attempt, evicting the oldest beyond MaxCodeAttempts.
func (p *ExerciseProgress) AddAttempt(code string, at time.Time) {
	p.CodeAttempts = append(p.CodeAttempts, CodeAttempt{Code: code, Timestamp: at})
	if over := len(p.CodeAttempts) - MaxCodeAttempts; over > 0 {
		p.CodeAttempts = append([]CodeAttempt(nil), p.CodeAttempts[over:]...)
	}
}

// Clone returns a deep copy.
func (p *ExerciseProgress) Clone() *ExerciseProgress {
	if p == nil {
		return nil
	}
	c := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	c.CodeAttempts = append([]CodeAttempt(nil), p.CodeAttempts...)
	return &c
}

// ProgressSnapshot is the persisted form of all exercise progress for one
// student and course. Version increases on every state change so that stores
// can tell an older write from a newer one.
type ProgressSnapshot struct {
	ExerciseProgress map[string]*ExerciseProgress `json:"exerciseProgress"`
	TotalLabTime     float64                      `json:"totalLabTime"`
	LastUpdated      time.Time                    `json:"lastUpdated"`
	Version          int64                        `json:"version"`
}

// CloneProgress deep-copies a progress map. Nil records are dropped so a
// stored `null` reads as not started.
func CloneProgress(m map[string]*ExerciseProgress) map[string]*ExerciseProgress {
	out := make(map[string]*ExerciseProgress, len(m))
	for id, p := range m {
		if p == nil {
			continue
		}
		out[id] = p.Clone()
	}
	return out
}
