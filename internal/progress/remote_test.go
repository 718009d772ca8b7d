package progress

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/courselab/internal/domain"
	"github.com/ashureev/courselab/internal/store"
)

func TestHTTPRemoteStore_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		wantStale bool
	}{
		{"ok", http.StatusOK, nil, false},
		{"no content", http.StatusNoContent, nil, false},
		{"server error", http.StatusInternalServerError, ErrRemoteStatus, false},
		{"unauthorized", http.StatusUnauthorized, ErrRemoteStatus, false},
		{"conflict", http.StatusConflict, ErrRemoteStatus, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			remote := NewHTTPRemoteStore(srv.URL, srv.URL, "", time.Second)
			err := remote.Save(context.Background(), &domain.LabSessionRecord{StudentID: "s", CourseID: "c"})
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error %v is not %v", err, tt.wantErr)
			}
			if got := errors.Is(err, store.ErrStaleVersion); got != tt.wantStale {
				t.Errorf("stale = %v, want %v", got, tt.wantStale)
			}
		})
	}
}

func TestHTTPRemoteStore_LoadEscapesPath(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"exerciseProgress":null,"totalLabTime":12.5}`))
	}))
	defer srv.Close()

	remote := NewHTTPRemoteStore(srv.URL+"/api/lab-sessions/", "", "tok", time.Second)
	snap, err := remote.Load(context.Background(), "intro py", "stu/1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if gotPath != "/api/lab-sessions/intro%20py/stu%2F1" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if snap.TotalLabTime != 12.5 || snap.ExerciseProgress == nil {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}
