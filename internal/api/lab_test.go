//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/courselab/internal/domain"
	"github.com/ashureev/courselab/internal/lab"
	"github.com/ashureev/courselab/internal/runner"
	"github.com/ashureev/courselab/internal/sandbox"
	"github.com/ashureev/courselab/internal/store"
)

type echoRunner struct{}

func (echoRunner) Run(_ context.Context, req runner.Request) (*runner.Result, error) {
	return &runner.Result{Output: string(req.Language) + ": ran\n"}, nil
}

func newTestSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.NewSQLite(t.TempDir() + "/lab.db")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newLabServer(t *testing.T) (*httptest.Server, *lab.Manager) {
	t.Helper()
	mgr := lab.NewManager(lab.Deps{
		Local:        newTestSQLite(t),
		Runner:       echoRunner{},
		Policy:       sandbox.DefaultPolicy(),
		SaveInterval: time.Hour,
	})
	t.Cleanup(func() { mgr.CloseAll(context.Background()) })

	r := chi.NewRouter()
	NewLabHandler(mgr).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func do(t *testing.T, method, url, body string, out interface{}) int {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestLabHandler_Flow(t *testing.T) {
	srv, mgr := newLabServer(t)

	var info lab.Info
	status := do(t, http.MethodPost, srv.URL+"/api/lab/sessions?sandboxed&studentId=stu&sessionId=s1&courseId=py101&defaultLanguage=python", "", &info)
	if status != http.StatusCreated {
		t.Fatalf("open status = %d", status)
	}
	if !info.Sandboxed || info.Cwd != sandbox.DefaultRoot || info.Prompt != "stu@lab:~$ " {
		t.Errorf("unexpected info %+v", info)
	}

	// Reopening the same session is not a create.
	if status := do(t, http.MethodPost, srv.URL+"/api/lab/sessions?studentId=stu&sessionId=s1", "", nil); status != http.StatusOK {
		t.Errorf("reopen status = %d", status)
	}

	base := srv.URL + "/api/lab/sessions/s1"
	exercises := `{"exercises":[{"id":"sum","title":"Sum","solution":"def total(values): return sum(values)","hints":["use sum"]}]}`
	if status := do(t, http.MethodPut, base+"/exercises", exercises, nil); status != http.StatusOK {
		t.Fatalf("set exercises status = %d", status)
	}

	var started domain.ExerciseProgress
	if status := do(t, http.MethodPost, base+"/exercises/sum/select", "", &started); status != http.StatusOK || started.Started.IsZero() {
		t.Fatalf("select status = %d, progress %+v", status, started)
	}

	var outcome lab.RunOutcome
	status = do(t, http.MethodPost, base+"/exercises/sum/run", `{"code":"def total(values):\n    return sum(values)"}`, &outcome)
	if status != http.StatusOK {
		t.Fatalf("run status = %d", status)
	}
	if !outcome.Completed || outcome.Result == nil || outcome.Result.Output != "python: ran\n" {
		t.Errorf("unexpected outcome %+v", outcome)
	}

	var hint map[string]interface{}
	do(t, http.MethodPost, base+"/exercises/sum/hint", "", &hint)
	if hint["hint"] != "use sum" || hint["hasMore"] != false {
		t.Errorf("hint = %v", hint)
	}

	var out lab.CommandOutput
	do(t, http.MethodPost, base+"/terminal", `{"line":"cd /etc"}`, &out)
	if out.Output != "cd: /etc: Permission denied" || out.Cwd != sandbox.DefaultRoot {
		t.Errorf("terminal output = %+v", out)
	}

	var audit struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
	do(t, http.MethodGet, base+"/audit", "", &audit)
	if len(audit.Entries) != 1 || audit.Entries[0].Command != "cd /etc" {
		t.Errorf("audit = %+v", audit.Entries)
	}

	var snap domain.ProgressSnapshot
	do(t, http.MethodGet, base+"/progress", "", &snap)
	if p := snap.ExerciseProgress["sum"]; p == nil || !p.Completed || p.Attempts != 1 {
		t.Errorf("progress = %+v", snap.ExerciseProgress)
	}

	if status := do(t, http.MethodDelete, base, "", nil); status != http.StatusOK {
		t.Errorf("close status = %d", status)
	}
	if mgr.Len() != 0 {
		t.Errorf("session still registered after close")
	}
}

func TestLabHandler_Errors(t *testing.T) {
	srv, _ := newLabServer(t)
	do(t, http.MethodPost, srv.URL+"/api/lab/sessions?studentId=stu&sessionId=s1", "", nil)
	do(t, http.MethodPut, srv.URL+"/api/lab/sessions/s1/exercises", `{"exercises":[{"id":"a"}]}`, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing student", http.MethodPost, "/api/lab/sessions?courseId=c1", "", http.StatusBadRequest},
		{"other student", http.MethodPost, "/api/lab/sessions?studentId=eve&sessionId=s1", "", http.StatusForbidden},
		{"unknown session", http.MethodGet, "/api/lab/sessions/nope/progress", "", http.StatusNotFound},
		{"unknown exercise", http.MethodPost, "/api/lab/sessions/s1/exercises/zzz/select", "", http.StatusNotFound},
		{"unsupported language", http.MethodPost, "/api/lab/sessions/s1/exercises/a/run", `{"code":"x","language":"cobol"}`, http.StatusBadRequest},
		{"exercise without id", http.MethodPut, "/api/lab/sessions/s1/exercises", `{"exercises":[{"title":"t"}]}`, http.StatusBadRequest},
		{"close unknown", http.MethodDelete, "/api/lab/sessions/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := do(t, tt.method, srv.URL+tt.path, tt.body, nil); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}
