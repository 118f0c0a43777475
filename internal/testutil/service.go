package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/remote"
)

// Call is one recorded request to a FakeService.
type Call struct {
	Op     string       `yaml:"op" json:"op"`
	User   model.UserID `yaml:"user" json:"user"`
	Module string       `yaml:"module" json:"module"`
	Code   string       `yaml:"code,omitempty" json:"code,omitempty"`
	Delta  int64        `yaml:"delta,omitempty" json:"delta,omitempty"`
	Passed bool         `yaml:"passed,omitempty" json:"passed,omitempty"`
	Score  int          `yaml:"score,omitempty" json:"score,omitempty"`
	Failed bool         `yaml:"failed,omitempty" json:"failed,omitempty"`
}

// FakeService is an in-memory remote.Service that records every call.
//
// State is keyed by (user, module); failures are injected per operation.
// Thread-safety: All methods are safe for concurrent use.
type FakeService struct {
	mu        sync.Mutex
	calls     []Call
	lessons   map[string]map[string]bool
	units     map[string]bool
	quizzes   map[string]remote.QuizStatus
	time      map[string]int64
	failNext  map[string]int
	failAll   map[string]bool
	beforeOps map[string]func(ctx context.Context) error
}

var _ remote.Service = (*FakeService)(nil)

// NewFakeService creates an empty service.
func NewFakeService() *FakeService {
	return &FakeService{
		lessons:   make(map[string]map[string]bool),
		units:     make(map[string]bool),
		quizzes:   make(map[string]remote.QuizStatus),
		time:      make(map[string]int64),
		failNext:  make(map[string]int),
		failAll:   make(map[string]bool),
		beforeOps: make(map[string]func(ctx context.Context) error),
	}
}

// ErrInjected is returned by injected failures.
var ErrInjected = &remote.Error{Code: remote.ErrCodeStatus, Op: "injected", Status: 503}

// FailNext makes the next n calls of op fail.
func (s *FakeService) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] += n
}

// SetDown makes every call of op fail until SetDown(op, false).
func (s *FakeService) SetDown(op string, down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll[op] = down
}

// Before installs a hook that runs before op is served. A non-nil error
// fails the call. Tests use it to hold a call in flight.
func (s *FakeService) Before(op string, hook func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeOps[op] = hook
}

// SeedLessons marks lessons complete on the server.
func (s *FakeService) SeedLessons(user model.UserID, module string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(user, module)
	if s.lessons[k] == nil {
		s.lessons[k] = make(map[string]bool)
	}
	for _, id := range ids {
		s.lessons[k][id] = true
	}
}

// SeedQuiz sets the server's quiz status.
func (s *FakeService) SeedQuiz(user model.UserID, quiz string, st remote.QuizStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[key(user, quiz)] = st
}

// Calls returns a copy of the recorded calls in order.
func (s *FakeService) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsOf returns the recorded calls of one operation.
func (s *FakeService) CallsOf(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls drops the recorded calls; server state is kept.
func (s *FakeService) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// TotalTime returns the server's accumulated seconds for a module.
func (s *FakeService) TotalTime(user model.UserID, module string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.time[key(user, module)]
}

// ServerLessons returns the server's completed lesson ids, sorted.
func (s *FakeService) ServerLessons(user model.UserID, module string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.lessons[key(user, module)])
}

// UnitRecorded reports whether the server has a completion for the unit.
func (s *FakeService) UnitRecorded(user model.UserID, module string, t model.UnitType, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[unitKey(user, module, t, code)]
}

// CompletedLessons implements remote.Service.
func (s *FakeService) CompletedLessons(ctx context.Context, user model.UserID, module string) ([]string, error) {
	c := Call{Op: remote.OpCompletedLessons, User: user, Module: module}
	if err := s.begin(ctx, &c); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.lessons[key(user, module)]), nil
}

// MarkLessonComplete implements remote.Service.
func (s *FakeService) MarkLessonComplete(ctx context.Context, user model.UserID, module, lessonID string) error {
	c := Call{Op: remote.OpMarkLesson, User: user, Module: module, Code: lessonID}
	if err := s.begin(ctx, &c); err != nil {
		return err
	}
	s.SeedLessons(user, module, lessonID)
	return nil
}

// RecordUnit implements remote.Service.
func (s *FakeService) RecordUnit(ctx context.Context, user model.UserID, rec remote.UnitRecord) error {
	c := Call{Op: remote.OpRecordUnit, User: user, Module: rec.Module, Code: string(rec.UnitType) + ":" + rec.UnitCode}
	if err := s.begin(ctx, &c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[unitKey(user, rec.Module, rec.UnitType, rec.UnitCode)] = rec.Completed
	return nil
}

// RecordTime implements remote.Service.
func (s *FakeService) RecordTime(ctx context.Context, user model.UserID, ev remote.TimeEvent) (int64, error) {
	c := Call{Op: remote.OpRecordTime, User: user, Module: ev.Module, Code: string(ev.UnitType) + ":" + ev.UnitCode, Delta: ev.DeltaSeconds}
	if err := s.begin(ctx, &c); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(user, ev.Module)
	s.time[k] += ev.DeltaSeconds
	return s.time[k], nil
}

// QuizStatus implements remote.Service.
func (s *FakeService) QuizStatus(ctx context.Context, user model.UserID, quiz string) (remote.QuizStatus, error) {
	c := Call{Op: remote.OpQuizStatus, User: user, Module: quiz}
	if err := s.begin(ctx, &c); err != nil {
		return remote.QuizStatus{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quizzes[key(user, quiz)], nil
}

// SubmitQuiz implements remote.Service.
func (s *FakeService) SubmitQuiz(ctx context.Context, user model.UserID, res remote.QuizResult) error {
	c := Call{Op: remote.OpSubmitQuiz, User: user, Module: res.ModuleName, Passed: res.Passed, Score: res.Score}
	if err := s.begin(ctx, &c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(user, res.ModuleName)
	// A later failing attempt never revokes a recorded pass.
	if prev := s.quizzes[k]; prev.Passed && !res.Passed {
		return nil
	}
	s.quizzes[k] = remote.QuizStatus{Passed: res.Passed, Score: res.Score, Total: res.Total}
	return nil
}

// begin runs the hook, applies failure injection and records the call.
func (s *FakeService) begin(ctx context.Context, c *Call) error {
	if c.User.IsAnonymous() {
		return &remote.Error{Code: remote.ErrCodeAnonymous, Op: c.Op}
	}

	s.mu.Lock()
	hook := s.beforeOps[c.Op]
	s.mu.Unlock()

	var err error
	if hook != nil {
		err = hook(ctx)
	}
	if err == nil {
		err = ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		switch {
		case s.failAll[c.Op]:
			err = ErrInjected
		case s.failNext[c.Op] > 0:
			s.failNext[c.Op]--
			err = ErrInjected
		}
	}
	c.Failed = err != nil
	s.calls = append(s.calls, *c)
	if err != nil {
		return fmt.Errorf("fake %s: %w", c.Op, err)
	}
	return nil
}

func key(user model.UserID, module string) string {
	return string(user) + "|" + module
}

func unitKey(user model.UserID, module string, t model.UnitType, code string) string {
	return key(user, module) + "|" + string(t) + "|" + code
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
