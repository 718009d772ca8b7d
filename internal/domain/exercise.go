// Package domain contains core domain types for the course lab.
package domain

// Exercise is one lab task shown next to the code editor.
// Exercises are produced by the content backend and handed to the lab as-is.
type Exercise struct {
	ID          string   `json:"id" validate:"required,max=128"`
	Title       string   `json:"title" validate:"max=256"`
	Description string   `json:"description"`
	Language    string   `json:"language,omitempty"`
	StarterCode string   `json:"starterCode,omitempty"`
	Solution    string   `json:"solution,omitempty"`
	Hints       []string `json:"hints,omitempty"`
	HintIndex   int      `json:"-"`
}

// NextHint returns the next available hint for the exercise.
// Returns empty string if no more hints are available.
func (e *Exercise) NextHint() string {
	if e.HintIndex >= len(e.Hints) {
		return ""
	}
	hint := e.Hints[e.HintIndex]
	e.HintIndex++
	return hint
}

// HasHints returns true if there are hints remaining.
func (e *Exercise) HasHints() bool {
	return e.HintIndex < len(e.Hints)
}
