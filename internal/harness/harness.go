package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/roach88/progsync/internal/bus"
	"github.com/roach88/progsync/internal/catalog"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/quiz"
	"github.com/roach88/progsync/internal/remote"
	"github.com/roach88/progsync/internal/session"
	"github.com/roach88/progsync/internal/store"
	"github.com/roach88/progsync/internal/testutil"
)

// stepTimeout bounds the wait for a step's remote calls to drain.
const stepTimeout = 5 * time.Second

// unorderedOps run work concurrently; their trace entries are sorted.
var unorderedOps = map[string]bool{
	OpRefresh: true,
	OpClose:   true,
	OpReopen:  true,
}

// Harness is the test execution engine.
// It runs scenarios against a real session over a fresh SQLite store, a
// fake clock and a fake remote service.
type Harness struct {
	store   *store.Store
	catalog *catalog.Catalog
	bus     *bus.Bus
	events  *bus.Recorder
	svc     *testutil.FakeService
	clock   *testutil.FakeClock
	ids     *testutil.SequenceIDs
	logger  *slog.Logger

	user    model.UserID
	session *session.Session
	closed  bool

	seenEvents int
	seenCalls  int
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh database in a temporary directory.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create a fresh database and seed it with the setup
// 2. Open the session (sweep and ledger recovery are traced as step 0)
// 3. Execute flow steps with expect validation
// 4. Compute final progress and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "progsync-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "progsync.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	cat := catalog.Default()
	if scenario.Catalog != "" {
		c, errs := catalog.Load(scenario.Catalog, catalog.LoadModeFailFast)
		if len(errs) > 0 {
			return nil, fmt.Errorf("failed to load catalog: %w", errs[0])
		}
		cat = c
	}

	b := bus.New()
	h := &Harness{
		store:   st,
		catalog: cat,
		bus:     b,
		events:  bus.NewRecorder(b, tracedKinds...),
		svc:     testutil.NewFakeService(),
		clock:   testutil.NewFakeClock(),
		ids:     testutil.NewSequenceIDs("attempt"),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		user:    model.UserID(scenario.User),
	}
	defer h.events.Stop()

	ctx := context.Background()
	result := NewResult()

	if err := h.seed(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	if err := h.open(ctx, h.user); err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	h.collect(0, false, result)

	for i, step := range scenario.Flow {
		n := i + 1
		if err := h.execute(ctx, step); err != nil {
			result.AddError(fmt.Sprintf("flow[%d] %s: %v", i, step.Op, err))
		}
		h.settle(ctx)
		h.collect(n, unorderedOps[step.Op], result)
	}

	if err := h.inspect(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to compute final progress: %w", err)
	}
	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	// Work done by this close is outside the trace.
	if !h.closed {
		_ = h.session.Close(ctx)
	}

	return result, nil
}

// seed writes the setup into the store and the fake service.
func (h *Harness) seed(ctx context.Context, setup Setup) error {
	keys := make([]string, 0, len(setup.Cache))
	for k := range setup.Cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := h.store.Set(ctx, k, setup.Cache[k]); err != nil {
			return fmt.Errorf("cache %s: %w", k, err)
		}
	}

	for i, l := range setup.Ledgers {
		unit, err := parseUnit(l.Unit)
		if err != nil {
			return fmt.Errorf("ledger %d: %w", i, err)
		}
		if err := h.store.SaveLedger(ctx, store.LedgerEntry{User: h.user, Unit: unit, PendingSeconds: l.Pending}); err != nil {
			return fmt.Errorf("ledger %d: %w", i, err)
		}
	}

	for module, ids := range setup.Server.Lessons {
		h.svc.SeedLessons(h.user, module, ids...)
	}
	for code, q := range setup.Server.Quizzes {
		h.svc.SeedQuiz(h.user, code, remote.QuizStatus{Passed: q.Passed, Score: q.Score, Total: q.Total})
	}

	for _, f := range setup.Fail {
		h.applyFail(f)
	}
	return nil
}

func (h *Harness) applyFail(f FailSeed) {
	if f.Down != nil {
		h.svc.SetDown(f.Op, *f.Down)
		return
	}
	times := f.Times
	if times <= 0 {
		times = 1
	}
	h.svc.FailNext(f.Op, times)
}

func (h *Harness) open(ctx context.Context, user model.UserID) error {
	s, err := session.Open(ctx, user, session.Options{
		Store:   h.store,
		Catalog: h.catalog,
		Service: h.svc,
		Bus:     h.bus,
		Clock:   h.clock,
		IDs:     h.ids,
		Logger:  h.logger,
	})
	if err != nil {
		return err
	}
	h.user = user
	h.session = s
	h.closed = false
	return nil
}

// settle waits for the live session's queued remote calls.
func (h *Harness) settle(ctx context.Context) {
	if h.closed {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	if err := h.session.Outbox().Wait(wctx); err != nil {
		h.logger.Warn("outbox did not drain", "error", err)
	}
}

// collect appends the events and calls recorded since the last collect.
// Events come first, each group in the order it was recorded.
func (h *Harness) collect(step int, unordered bool, result *Result) {
	events := h.events.Events()[h.seenEvents:]
	calls := h.svc.Calls()[h.seenCalls:]
	h.seenEvents += len(events)
	h.seenCalls += len(calls)

	start := len(result.Trace)
	for _, e := range events {
		result.AddEventTrace(step, e)
	}
	if unordered {
		sortTrace(result.Trace[start:])
	}
	mid := len(result.Trace)
	for _, c := range calls {
		result.AddCallTrace(step, c)
	}
	if unordered {
		sortTrace(result.Trace[mid:])
	}
}

func sortTrace(entries []TraceEvent) {
	sort.SliceStable(entries, func(i, j int) bool {
		a := entries[i].Name + fmt.Sprint(entries[i].Data)
		b := entries[j].Name + fmt.Sprint(entries[j].Data)
		return a < b
	})
}

// execute runs one flow step and checks its expect clause.
func (h *Harness) execute(ctx context.Context, step Step) error {
	o := outcome{}
	err := h.run(ctx, step, &o)
	return o.check(step.Expect, err)
}

// outcome carries what a step produced for expect validation.
type outcome struct {
	added   *bool
	passed  *bool
	score   *int
	state   string
	pending *int64
	sent    *bool
}

func (h *Harness) run(ctx context.Context, step Step, o *outcome) error {
	s := h.session
	switch step.Op {
	case OpCompleteLesson:
		t, err := s.Tracker(step.Module)
		if err != nil {
			return err
		}
		added, err := t.MarkComplete(ctx, step.Lesson)
		o.added = &added
		return err

	case OpCompleteUnit:
		ut, err := model.ParseUnitType(step.Unit)
		if err != nil {
			return err
		}
		t, err := s.Tracker(step.Module)
		if err != nil {
			return err
		}
		added, err := t.CompleteUnit(ctx, ut)
		o.added = &added
		return err

	case OpAnswer, OpSubmit, OpReview, OpRetry, OpReset:
		m, err := s.Quiz(ctx, step.Quiz)
		if err != nil {
			return err
		}
		err = h.runQuiz(ctx, m, step, o)
		o.state = m.State().String()
		return err

	case OpRefresh:
		return s.Refresh(ctx)

	case OpTick, OpHide, OpShow, OpFlush:
		unit, err := parseUnit(step.Unit)
		if err != nil {
			return err
		}
		acc, err := s.Timer(ctx, unit)
		if err != nil {
			return err
		}
		switch step.Op {
		case OpTick:
			for i := 0; i < step.Count; i++ {
				acc.Tick(ctx)
			}
		case OpHide:
			err = acc.SetVisibility(ctx, false)
		case OpShow:
			err = acc.SetVisibility(ctx, true)
		case OpFlush:
			var sent bool
			sent, err = acc.Flush(ctx, !step.Periodic)
			o.sent = &sent
		}
		pending := acc.Pending()
		o.pending = &pending
		return err

	case OpAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		return nil

	case OpFail:
		h.applyFail(*step.Fail)
		return nil

	case OpClose:
		h.closed = true
		return s.Close(ctx)

	case OpReopen:
		var closeErr error
		if !h.closed {
			closeErr = s.Close(ctx)
		}
		user := h.user
		if step.User != "" {
			user = model.UserID(step.User)
		}
		h.closed = true
		if err := h.open(ctx, user); err != nil {
			return err
		}
		return closeErr
	}
	return fmt.Errorf("unknown op %q", step.Op)
}

func (h *Harness) runQuiz(ctx context.Context, m *quiz.Machine, step Step, o *outcome) error {
	switch step.Op {
	case OpAnswer:
		for q, choice := range step.Answers {
			if err := m.Answer(ctx, q, choice); err != nil {
				return fmt.Errorf("question %d: %w", q+1, err)
			}
		}
		return nil
	case OpSubmit:
		res, err := m.Submit(ctx)
		if err != nil {
			return err
		}
		o.passed = &res.Passed
		o.score = &res.Score
		return nil
	case OpReview:
		return m.Review()
	case OpRetry:
		return m.TryAgain(ctx)
	default:
		return m.Reset(ctx)
	}
}

// check validates err and the outcome against the expect clause.
func (o outcome) check(e *Expect, err error) error {
	if e == nil {
		return err
	}
	if e.Error != "" {
		if err == nil {
			return fmt.Errorf("expected error containing %q, got success", e.Error)
		}
		if !strings.Contains(err.Error(), e.Error) {
			return fmt.Errorf("expected error containing %q, got %q", e.Error, err.Error())
		}
		return nil
	}
	if err != nil {
		return err
	}

	var errs []error
	if e.Added != nil && (o.added == nil || *o.added != *e.Added) {
		errs = append(errs, fmt.Errorf("added: expected %t, got %s", *e.Added, show(o.added)))
	}
	if e.Passed != nil && (o.passed == nil || *o.passed != *e.Passed) {
		errs = append(errs, fmt.Errorf("passed: expected %t, got %s", *e.Passed, show(o.passed)))
	}
	if e.Score != nil && (o.score == nil || *o.score != *e.Score) {
		errs = append(errs, fmt.Errorf("score: expected %d, got %s", *e.Score, show(o.score)))
	}
	if e.State != "" && o.state != e.State {
		errs = append(errs, fmt.Errorf("state: expected %s, got %q", e.State, o.state))
	}
	if e.Pending != nil && (o.pending == nil || *o.pending != *e.Pending) {
		errs = append(errs, fmt.Errorf("pending: expected %d, got %s", *e.Pending, show(o.pending)))
	}
	if e.Sent != nil && (o.sent == nil || *o.sent != *e.Sent) {
		errs = append(errs, fmt.Errorf("sent: expected %t, got %s", *e.Sent, show(o.sent)))
	}
	return errors.Join(errs...)
}

func show[T any](v *T) string {
	if v == nil {
		return "nothing"
	}
	return fmt.Sprint(*v)
}

// inspect computes final progress through a separate offline session so
// the inspection itself makes no remote calls and leaves no trace.
func (h *Harness) inspect(ctx context.Context, result *Result) error {
	s, err := session.Open(ctx, h.user, session.Options{
		Store:   h.store,
		Catalog: h.catalog,
		Clock:   h.clock,
		IDs:     h.ids,
		Logger:  h.logger,
	})
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	all, err := s.AllProgress(ctx)
	if err != nil {
		return err
	}
	for _, sum := range all {
		result.Progress[sum.Module] = sum
	}
	return nil
}

// parseUnit parses "module/type" or "module/type:code".
func parseUnit(s string) (model.Unit, error) {
	module, rest, ok := strings.Cut(s, "/")
	if !ok {
		return model.Unit{}, fmt.Errorf("unit %q: want module/type[:code]", s)
	}
	typ, code, _ := strings.Cut(rest, ":")
	ut, err := model.ParseUnitType(typ)
	if err != nil {
		return model.Unit{}, fmt.Errorf("unit %q: %w", s, err)
	}
	unit := model.Unit{ModuleSlug: module, Type: ut, Code: code}
	if err := unit.Validate(); err != nil {
		return model.Unit{}, fmt.Errorf("unit %q: %w", s, err)
	}
	return unit, nil
}
