//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/courselab/internal/domain"
	"github.com/ashureev/courselab/internal/identity"
	"github.com/ashureev/courselab/internal/lab"
	"github.com/ashureev/courselab/internal/runner"
)

// LabHandler serves the lab page endpoints.
type LabHandler struct {
	sessions *lab.Manager
}

// NewLabHandler creates a lab handler backed by the session manager.
func NewLabHandler(sessions *lab.Manager) *LabHandler {
	return &LabHandler{sessions: sessions}
}

type exercisesRequest struct {
	Exercises []domain.Exercise `json:"exercises" validate:"max=500,dive"`
}

type runRequest struct {
	Code     string `json:"code" validate:"max=65536"`
	Language string `json:"language" validate:"omitempty,max=32"`
}

type terminalRequest struct {
	Line string `json:"line" validate:"max=4096"`
}

// RegisterRoutes registers lab routes.
func (h *LabHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/lab/sessions", func(r chi.Router) {
		r.Post("/", h.Open)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.Info)
			r.Delete("/", h.Close)
			r.Put("/exercises", h.SetExercises)
			r.Post("/exercises/{exerciseID}/select", h.SelectExercise)
			r.Post("/exercises/{exerciseID}/run", h.Run)
			r.Post("/exercises/{exerciseID}/hint", h.Hint)
			r.Get("/progress", h.Progress)
			r.Post("/terminal", h.Terminal)
			r.Get("/audit", h.Audit)
		})
	})
}

// Open initializes a lab session from the page parameters in the query string.
func (h *LabHandler) Open(w http.ResponseWriter, r *http.Request) {
	params := identity.ParseLabParams(r)
	if params.StudentID == "" {
		Error(w, http.StatusBadRequest, "studentId is required")
		return
	}

	sess, created, err := h.sessions.Open(r.Context(), params)
	if err != nil {
		if errors.Is(err, lab.ErrSessionNotFound) {
			Error(w, http.StatusForbidden, "session belongs to another student")
			return
		}
		slog.Error("Failed to open lab session", "error", err, "student_id", params.StudentID)
		Error(w, http.StatusInternalServerError, "failed to open lab session")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		slog.Info("Lab page opened",
			"session_id", sess.ID(),
			"course_id", params.CourseID,
			"remote_ip", identity.IPFromRequest(r))
	}
	JSON(w, status, sess.Info())
}

// Info describes an open session.
func (h *LabHandler) Info(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, sess.Info())
}

// Close performs the unload save and drops the session.
func (h *LabHandler) Close(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.sessions.Close(r.Context(), sessionID); err != nil {
		writeLabError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// SetExercises replaces the session's exercise list.
func (h *LabHandler) SetExercises(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req exercisesRequest
	if !decode(w, r, &req) {
		return
	}
	sess.SetExercises(req.Exercises)
	JSON(w, http.StatusOK, map[string]interface{}{
		"count":           len(req.Exercises),
		"currentExercise": sess.Info().CurrentExercise,
	})
}

// SelectExercise makes an exercise current and records that it was started.
func (h *LabHandler) SelectExercise(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	p, err := sess.SelectExercise(r.Context(), chi.URLParam(r, "exerciseID"))
	if err != nil {
		writeLabError(w, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// Run executes code for an exercise and checks completion.
func (h *LabHandler) Run(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req runRequest
	if !decode(w, r, &req) {
		return
	}
	outcome, err := sess.RunCode(r.Context(), chi.URLParam(r, "exerciseID"), req.Code, req.Language)
	if err != nil {
		writeLabError(w, err)
		return
	}
	JSON(w, http.StatusOK, outcome)
}

// Hint returns the next hint for an exercise.
func (h *LabHandler) Hint(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	hint, more, err := sess.NextHint(chi.URLParam(r, "exerciseID"))
	if err != nil {
		writeLabError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"hint": hint, "hasMore": more})
}

// Progress returns the session's progress snapshot.
func (h *LabHandler) Progress(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, sess.Progress())
}

// Terminal executes one terminal line. The WebSocket endpoint is preferred;
// this exists for clients that cannot hold a socket open.
func (h *LabHandler) Terminal(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req terminalRequest
	if !decode(w, r, &req) {
		return
	}
	JSON(w, http.StatusOK, sess.Execute(r.Context(), req.Line))
}

// Audit returns the session's command audit log.
func (h *LabHandler) Audit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"entries": sess.AuditEntries()})
}

func (h *LabHandler) session(w http.ResponseWriter, r *http.Request) (*lab.Session, bool) {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeLabError(w, err)
		return nil, false
	}
	return sess, true
}

func writeLabError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lab.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, lab.ErrExerciseNotFound):
		Error(w, http.StatusNotFound, "exercise not found")
	case errors.Is(err, runner.ErrUnsupportedLanguage):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Lab request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
