package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseLabParams(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  LabParams
	}{
		{
			name:  "all params",
			query: "sandboxed=true&studentId=stu-1&sessionId=s1&courseId=py101&course=Intro&defaultLanguage=Python",
			want: LabParams{
				Sandboxed: true, StudentID: "stu-1", SessionID: "s1", CourseID: "py101",
				CourseTitle: "Intro", DefaultLanguage: "python",
			},
		},
		{
			name:  "bare flag and courseTitle wins",
			query: "sandboxed&studentId=stu-1&course=A&courseTitle=B",
			want:  LabParams{Sandboxed: true, StudentID: "stu-1", CourseTitle: "B"},
		},
		{
			name:  "flag off",
			query: "sandboxed=false&studentId=stu-1",
			want:  LabParams{StudentID: "stu-1"},
		},
		{
			name:  "invalid ids dropped",
			query: "studentId=../../etc&sessionId=a%20b&courseId=c1",
			want:  LabParams{CourseID: "c1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/lab/sessions?"+tt.query, nil)
			if got := ParseLabParams(req); got != tt.want {
				t.Errorf("ParseLabParams() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMiddleware_AnonFallback(t *testing.T) {
	var got LabParams
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ParseLabParams(r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/lab/sessions?courseId=c1", nil))

	if !isValidAnonID(got.StudentID) {
		t.Fatalf("student id %q is not an anonymous id", got.StudentID)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != got.StudentID {
		t.Fatalf("cookie not set to anonymous id: %+v", cookies)
	}

	// The cookie is reused on the next request.
	req := httptest.NewRequest(http.MethodPost, "/api/lab/sessions?courseId=c1", nil)
	req.AddCookie(cookies[0])
	first := got.StudentID
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got.StudentID != first {
		t.Errorf("anonymous id changed: %q -> %q", first, got.StudentID)
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":  "abc",
		"bearer  xyz": "xyz",
		"Basic abc":   "",
		"Bearer ":     "",
		"":            "",
	}
	for header, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if got := BearerToken(req); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
