//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/courselab/internal/domain"
	"github.com/ashureev/courselab/internal/middleware"
	"github.com/ashureev/courselab/internal/store"
)

// SessionStoreHandler is the remote progress store: one row per student and
// course, loaded when a lab opens and saved by the progress tracker.
type SessionStoreHandler struct {
	repo        store.Repository
	token       string
	rejectStale bool
}

// NewSessionStoreHandler creates the remote progress store endpoints.
// A non-empty token is required as a bearer token on every request.
func NewSessionStoreHandler(repo store.Repository, token string, rejectStale bool) *SessionStoreHandler {
	return &SessionStoreHandler{repo: repo, token: token, rejectStale: rejectStale}
}

// RegisterRoutes registers session store routes.
func (h *SessionStoreHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/lab-sessions", func(r chi.Router) {
		r.Use(middleware.BearerAuth(h.token))
		r.Post("/save", h.Save)
		r.Get("/{courseID}/{studentID}", h.Load)
	})
}

// Load returns the stored progress snapshot, or 404 when none exists.
func (h *SessionStoreHandler) Load(w http.ResponseWriter, r *http.Request) {
	courseID := pathParam(r, "courseID")
	studentID := pathParam(r, "studentID")

	rec, err := h.repo.GetLabSession(r.Context(), courseID, studentID)
	if err != nil {
		slog.Error("Failed to load lab session", "error", err, "course_id", courseID, "student_id", studentID)
		Error(w, http.StatusInternalServerError, "failed to load lab session")
		return
	}
	if rec == nil {
		Error(w, http.StatusNotFound, "no saved progress")
		return
	}
	JSON(w, http.StatusOK, rec.Snapshot())
}

// Save upserts a student's progress row.
func (h *SessionStoreHandler) Save(w http.ResponseWriter, r *http.Request) {
	var rec domain.LabSessionRecord
	if !decode(w, r, &rec) {
		return
	}

	result, err := h.repo.SaveLabSession(r.Context(), &rec, h.rejectStale)
	if err != nil {
		if errors.Is(err, store.ErrStaleVersion) {
			JSON(w, http.StatusConflict, map[string]interface{}{
				"error":          "stale version",
				"stored_version": result.PreviousVersion,
			})
			return
		}
		slog.Error("Failed to save lab session", "error", err, "course_id", rec.CourseID, "student_id", rec.StudentID)
		Error(w, http.StatusInternalServerError, "failed to save lab session")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status":           "saved",
		"version":          rec.Version,
		"previous_version": result.PreviousVersion,
		"lost_update":      result.LostUpdate,
	})
}

// pathParam returns a decoded URL parameter. chi matches against the raw
// path when it contains escaped slashes, leaving parameters encoded.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}
