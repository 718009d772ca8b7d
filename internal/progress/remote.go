package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/courselab/internal/domain"
	"github.com/ashureev/courselab/internal/store"
)

// ErrRemoteStatus is returned when the session service answers with a
// non-2xx status.
var ErrRemoteStatus = errors.New("unexpected session service status")

// RemoteStore is the server-side copy of a student's progress.
type RemoteStore interface {
	Load(ctx context.Context, courseID, studentID string) (*domain.ProgressSnapshot, error)
	Save(ctx context.Context, rec *domain.LabSessionRecord) error
}

// HTTPRemoteStore talks to the lab session service over HTTP with a bearer
// token.
type HTTPRemoteStore struct {
	baseURL    string
	saveURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPRemoteStore creates a client. baseURL serves GET {base}/{course}/{student};
// saveURL accepts the POSTed record. timeout 0 keeps the client default.
func NewHTTPRemoteStore(baseURL, saveURL, token string, timeout time.Duration) *HTTPRemoteStore {
	return &HTTPRemoteStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		saveURL: saveURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Load fetches the stored progress for a course and student.
func (s *HTTPRemoteStore) Load(ctx context.Context, courseID, studentID string) (*domain.ProgressSnapshot, error) {
	endpoint := s.baseURL + "/" + url.PathEscape(courseID) + "/" + url.PathEscape(studentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build load request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var snap domain.ProgressSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	if snap.ExerciseProgress == nil {
		snap.ExerciseProgress = make(map[string]*domain.ExerciseProgress)
	}
	return &snap, nil
}

// Save posts the record. Only the status code of the response is used.
func (s *HTTPRemoteStore) Save(ctx context.Context, rec *domain.LabSessionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.saveURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build save request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return checkStatus(resp)
}

func (s *HTTPRemoteStore) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %w", store.ErrStaleVersion, ErrRemoteStatus)
	}
	return fmt.Errorf("%w: %d", ErrRemoteStatus, resp.StatusCode)
}
