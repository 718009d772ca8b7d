// Package identity provides per-device student identity and the lab page
// parameters a session is opened with.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	AnonCookieName   = "courselab_anon_id"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	anonIDKey contextKey = iota
)

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	idPattern     = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)
)

// LabParams are the page parameters a lab session is opened with.
type LabParams struct {
	Sandboxed       bool   `json:"sandboxed"`
	StudentID       string `json:"studentId"`
	SessionID       string `json:"sessionId,omitempty"`
	CourseID        string `json:"courseId"`
	CourseTitle     string `json:"courseTitle,omitempty"`
	DefaultLanguage string `json:"defaultLanguage,omitempty"`
}

// ParseLabParams reads lab parameters from the query string. Ids that do not
// look like ids are dropped; a missing student id falls back to the anonymous
// device id placed in the context by Middleware.
func ParseLabParams(r *http.Request) LabParams {
	q := r.URL.Query()

	title := q.Get("courseTitle")
	if title == "" {
		title = q.Get("course")
	}

	p := LabParams{
		Sandboxed:       parseFlag(q, "sandboxed"),
		StudentID:       sanitizeID(q.Get("studentId")),
		SessionID:       sanitizeID(q.Get("sessionId")),
		CourseID:        sanitizeID(q.Get("courseId")),
		CourseTitle:     strings.TrimSpace(title),
		DefaultLanguage: strings.ToLower(strings.TrimSpace(q.Get("defaultLanguage"))),
	}
	if p.StudentID == "" {
		p.StudentID = AnonIDFromContext(r.Context())
	}
	return p
}

// parseFlag treats a bare "?sandboxed" or "?sandboxed=" as true.
func parseFlag(q map[string][]string, key string) bool {
	values, ok := q[key]
	if !ok {
		return false
	}
	if len(values) == 0 {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(values[0])) {
	case "", "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if !idPattern.MatchString(id) {
		return ""
	}
	return id
}

// AnonIDFromContext extracts the anonymous device id from the request context.
func AnonIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(anonIDKey).(string); ok {
		return v
	}
	return ""
}

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else {
		id, err = generateAnonID()
		if err != nil {
			return "", err
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

// Middleware gives every request an anonymous per-device id, used as the
// student id when the page does not pass one.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			anonID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			ctx := context.WithValue(r.Context(), anonIDKey, anonID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
