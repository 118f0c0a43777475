package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/progsync/internal/metrics"
	"github.com/roach88/progsync/internal/model"
)

// DefaultTimeout bounds one HTTP round trip.
const DefaultTimeout = 10 * time.Second

// Operation names used in logs, errors and metrics.
const (
	OpCompletedLessons = "completed_lessons"
	OpMarkLesson       = "mark_lesson"
	OpRecordUnit       = "record_unit"
	OpRecordTime       = "record_time"
	OpQuizStatus       = "quiz_status"
	OpSubmitQuiz       = "submit_quiz"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// HTTPClient overrides the default client; its Timeout is left as is.
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Client implements Service over HTTP+JSON.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	log     *slog.Logger
	metrics *metrics.Metrics
}

var _ Service = (*Client)(nil)

// NewClient validates cfg and returns a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: base URL %q must be http or https", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		base:    base,
		token:   cfg.Token,
		http:    hc,
		log:     log.With("component", "remote"),
		metrics: cfg.Metrics,
	}, nil
}

// CompletedLessons implements Service.
func (c *Client) CompletedLessons(ctx context.Context, user model.UserID, module string) ([]string, error) {
	var resp completedLessonsResponse
	if err := c.do(ctx, OpCompletedLessons, http.MethodGet, user, []string{"module", module, "lessons", "completed"}, nil, &resp); err != nil {
		return nil, err
	}
	return resp.LessonIDs, nil
}

// MarkLessonComplete implements Service.
func (c *Client) MarkLessonComplete(ctx context.Context, user model.UserID, module, lessonID string) error {
	return c.do(ctx, OpMarkLesson, http.MethodPost, user, []string{"module", module, "lesson", lessonID}, lessonCompleteRequest{Completed: true}, nil)
}

// RecordUnit implements Service.
func (c *Client) RecordUnit(ctx context.Context, user model.UserID, rec UnitRecord) error {
	return c.do(ctx, OpRecordUnit, http.MethodPost, user, []string{"module", rec.Module, "unit"}, rec, nil)
}

// RecordTime implements Service.
func (c *Client) RecordTime(ctx context.Context, user model.UserID, ev TimeEvent) (int64, error) {
	var resp timeEventResponse
	if err := c.do(ctx, OpRecordTime, http.MethodPost, user, []string{"module", ev.Module, "time_event"}, ev, &resp); err != nil {
		return 0, err
	}
	return resp.TotalTimeSpent, nil
}

// QuizStatus implements Service.
func (c *Client) QuizStatus(ctx context.Context, user model.UserID, quiz string) (QuizStatus, error) {
	var resp QuizStatus
	err := c.do(ctx, OpQuizStatus, http.MethodGet, user, []string{"module", quiz, "quiz"}, nil, &resp)
	return resp, err
}

// SubmitQuiz implements Service.
func (c *Client) SubmitQuiz(ctx context.Context, user model.UserID, res QuizResult) error {
	if res.StudentID == "" {
		res.StudentID = string(user)
	}
	return c.do(ctx, OpSubmitQuiz, http.MethodPost, user, []string{"module", res.ModuleName, "quiz"}, res, nil)
}

// do performs one request. in is JSON-encoded when non-nil; out is decoded
// when non-nil. Path segments are escaped individually.
func (c *Client) do(ctx context.Context, op, method string, user model.UserID, segments []string, in, out any) (err error) {
	if user.IsAnonymous() {
		return &Error{Code: ErrCodeAnonymous, Op: op}
	}

	start := time.Now()
	defer func() {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeFailed
		}
		c.metrics.RemoteCall(op, outcome)
		c.log.Debug("remote call", "op", op, "duration", time.Since(start), "error", err)
	}()

	u := *c.base
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = c.base.Path + "/" + strings.Join(segments, "/")
	u.RawPath = c.base.EscapedPath() + "/" + strings.Join(escaped, "/")
	u.RawQuery = url.Values{"student": {string(user)}}.Encode()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &Error{Code: ErrCodeTransport, Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return &Error{Code: ErrCodeTransport, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Code: ErrCodeTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return &Error{Code: ErrCodeStatus, Op: op, Status: resp.StatusCode}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Code: ErrCodeDecode, Op: op, Err: err}
	}
	return nil
}
