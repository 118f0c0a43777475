package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progsync/internal/model"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	ReqID  string
	Body   map[string]any
}

type testServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			ReqID:  r.Header.Get("X-Request-ID"),
		}
		if r.Body != nil && r.ContentLength != 0 {
			_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		ts.mu.Lock()
		ts.requests = append(ts.requests, rec)
		ts.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) last(t *testing.T) recordedRequest {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	require.NotEmpty(t, ts.requests)
	return ts.requests[len(ts.requests)-1]
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: url + "/api/", Token: "tok"})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "http://example.com"})
	assert.NoError(t, err)
}

func TestCompletedLessons(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"lesson_ids": []string{"intro", "setup"}})
	})
	c := newTestClient(t, ts.URL)

	ids, err := c.CompletedLessons(context.Background(), "42", "signature-based-detection")
	require.NoError(t, err)
	assert.Equal(t, []string{"intro", "setup"}, ids)

	req := ts.last(t)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/api/module/signature-based-detection/lessons/completed", req.Path)
	assert.Equal(t, "student=42", req.Query)
	assert.Equal(t, "Bearer tok", req.Auth)
	_, err = uuid.Parse(req.ReqID)
	assert.NoError(t, err, "request id is a uuid")
}

func TestMarkLessonComplete_EscapesID(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, ts.URL)

	require.NoError(t, c.MarkLessonComplete(context.Background(), "42", "m", "a b/c"))

	req := ts.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/module/m/lesson/a%20b%2Fc", req.Path)
	assert.Equal(t, true, req.Body["completed"])
}

func TestRecordUnit_Body(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	c := newTestClient(t, ts.URL)

	err := c.RecordUnit(context.Background(), "42", UnitRecord{
		Module:    "signature-based-detection",
		UnitType:  model.UnitQuiz,
		UnitCode:  "m1",
		Completed: true,
	})
	require.NoError(t, err)

	req := ts.last(t)
	assert.Equal(t, "/api/module/signature-based-detection/unit", req.Path)
	assert.Equal(t, map[string]any{
		"unit_type":        "quiz",
		"unit_code":        "m1",
		"completed":        true,
		"duration_seconds": float64(0),
	}, req.Body)
}

func TestRecordTime_ReturnsTotal(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"total_time_spent": 135})
	})
	c := newTestClient(t, ts.URL)

	total, err := c.RecordTime(context.Background(), "42", TimeEvent{
		Module:       "m",
		UnitType:     model.UnitLesson,
		UnitCode:     "intro",
		DeltaSeconds: 45,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(135), total)
	assert.Equal(t, float64(45), ts.last(t).Body["delta_seconds"])
}

func TestQuizStatusAndSubmit(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(w, QuizStatus{Passed: true, Score: 9, Total: 10})
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	c := newTestClient(t, ts.URL)
	ctx := context.Background()

	st, err := c.QuizStatus(ctx, "42", "m1")
	require.NoError(t, err)
	assert.Equal(t, QuizStatus{Passed: true, Score: 9, Total: 10}, st)

	require.NoError(t, c.SubmitQuiz(ctx, "42", QuizResult{ModuleName: "m1", Passed: false, Score: 3, Total: 10}))
	req := ts.last(t)
	assert.Equal(t, "/api/module/m1/quiz", req.Path)
	assert.Equal(t, "42", req.Body["student_id"])
	assert.Equal(t, false, req.Body["passed"])
}

func TestErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		if code == 0 {
			_, _ = w.Write([]byte("{not json"))
			return
		}
		w.WriteHeader(code)
	})
	c := newTestClient(t, ts.URL)
	ctx := context.Background()

	_, err := c.CompletedLessons(ctx, "42", "m")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.True(t, IsStatus(err, http.StatusInternalServerError))

	status.Store(http.StatusNotFound)
	_, err = c.CompletedLessons(ctx, "42", "m")
	require.Error(t, err)
	assert.False(t, IsTransient(err))

	status.Store(0)
	_, err = c.CompletedLessons(ctx, "42", "m")
	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeDecode, re.Code)
}

func TestTransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := newTestClient(t, url)
	_, err := c.QuizStatus(context.Background(), "42", "m1")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestAnonymousNeverCalls(t *testing.T) {
	ts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL)
	})
	c := newTestClient(t, ts.URL)

	err := c.MarkLessonComplete(context.Background(), model.Anonymous, "m", "intro")
	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeAnonymous, re.Code)
	assert.False(t, IsTransient(err))
}
