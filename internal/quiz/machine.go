package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/progsync/internal/bus"
	"github.com/roach88/progsync/internal/catalog"
	"github.com/roach88/progsync/internal/clock"
	"github.com/roach88/progsync/internal/keys"
	"github.com/roach88/progsync/internal/metrics"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/outbox"
	"github.com/roach88/progsync/internal/remote"
)

// Options configures a Machine. Service and Outbox may be nil for a
// local-only machine.
type Options struct {
	Resolver *keys.Resolver
	Service  remote.Service
	Outbox   *outbox.Outbox
	Bus      *bus.Bus
	Clock    clock.Clock
	IDs      IDGenerator
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Machine is one learner's attempt at one quiz.
//
// Thread-safety: Machine is safe for concurrent use; operations are
// serialized.
type Machine struct {
	module *catalog.Module
	quiz   *catalog.Quiz
	user   model.UserID

	res     *keys.Resolver
	svc     remote.Service
	out     *outbox.Outbox
	bus     *bus.Bus
	clock   clock.Clock
	ids     IDGenerator
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	state     State
	attempt   model.QuizAttempt
	startedAt time.Time
}

// New creates a machine in the Unanswered state. Call Hydrate to restore
// persisted state.
func New(module *catalog.Module, q *catalog.Quiz, user model.UserID, opts Options) *Machine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ids := opts.IDs
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	m := &Machine{
		module:  module,
		quiz:    q,
		user:    user,
		res:     opts.Resolver,
		svc:     opts.Service,
		out:     opts.Outbox,
		bus:     opts.Bus,
		clock:   clock.Or(opts.Clock),
		ids:     ids,
		log:     log.With("component", "quiz", "quiz", q.Code),
		metrics: opts.Metrics,
	}
	m.attempt = model.QuizAttempt{Answers: model.EmptyAnswers(len(q.Questions)), Total: len(q.Questions)}
	m.startedAt = m.clock.Now()
	return m
}

func (m *Machine) fact(suffix string) keys.Fact {
	return keys.QuizFact(m.module.Track, m.quiz.Code, suffix)
}

func (m *Machine) remoteEnabled() bool {
	return !m.user.IsAnonymous() && m.svc != nil && m.out != nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns a copy of the current attempt record.
func (m *Machine) Attempt() model.QuizAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt.Clone()
}

// Quiz returns the quiz definition.
func (m *Machine) Quiz() *catalog.Quiz {
	return m.quiz
}

// Hydrate restores state, asking the server first and then the local
// cache. A local pass the server has not acknowledged is re-sent.
func (m *Machine) Hydrate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := len(m.quiz.Questions)
	serverPassed, serverKnown := false, false
	if !m.user.IsAnonymous() && m.svc != nil {
		st, err := m.svc.QuizStatus(ctx, m.user, m.quiz.Code)
		if err != nil {
			m.log.Warn("quiz status unavailable", "error", err)
		} else {
			serverKnown = true
		}
		if err == nil && st.Total > 0 && st.Passed {
			serverPassed = true
			if err := m.adoptServerPass(ctx, st); err != nil {
				return err
			}
		}
	}

	a := model.QuizAttempt{Answers: model.EmptyAnswers(total), Total: total}
	a.Attempts = m.res.ReadInt(ctx, m.fact(keys.SuffixAttempts), m.user)
	a.FirstPass = m.res.ReadBool(ctx, m.fact(keys.SuffixFirstPass), m.user)
	a.AttemptID, _ = m.readString(ctx, keys.SuffixAttemptID)
	if raw, ok := m.readString(ctx, keys.SuffixLastAttempt); ok {
		if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			a.LastAttemptAt = &at
		}
	}

	if m.res.ReadBool(ctx, m.fact(keys.SuffixPassed), m.user) {
		a.Passed = true
		a.Submitted = true
		a.Score = m.res.ReadInt(ctx, m.fact(keys.SuffixScore), m.user)
		var saved []*int
		if m.res.ReadJSON(ctx, m.fact(keys.SuffixAnswers), m.user, &saved) && len(saved) == total {
			a.Answers = saved
		}
		m.attempt = a
		m.state = Reviewing

		// With the server unreachable, trust a recorded acknowledgement.
		acked := m.res.ReadBool(ctx, m.fact(keys.SuffixAcked), m.user)
		if !serverPassed && (serverKnown || !acked) && m.remoteEnabled() {
			m.log.Info("re-sending unacknowledged pass", "score", a.Score)
			m.reportPass(a.Score, 0)
		}
		return nil
	}

	var draft []*int
	if m.res.ReadJSON(ctx, m.fact(keys.SuffixDraft), m.user, &draft) && len(draft) == total {
		a.Answers = draft
	}
	m.attempt = a
	if a.Answered() > 0 {
		m.state = Answering
	} else {
		m.state = Unanswered
	}
	m.startedAt = m.clock.Now()
	return nil
}

// adoptServerPass records a pass the server knows about in the local cache.
func (m *Machine) adoptServerPass(ctx context.Context, st remote.QuizStatus) error {
	if m.res.ReadBool(ctx, m.fact(keys.SuffixPassed), m.user) {
		return m.res.WriteBool(ctx, m.fact(keys.SuffixAcked), m.user, true)
	}
	m.log.Info("adopting server pass", "score", st.Score, "total", st.Total)
	if err := m.res.WriteTransitional(ctx, m.fact(keys.SuffixPassed), m.user, "true"); err != nil {
		return fmt.Errorf("hydrate %s: %w", m.quiz.Code, err)
	}
	if err := m.res.WriteInt(ctx, m.fact(keys.SuffixScore), m.user, st.Score); err != nil {
		return fmt.Errorf("hydrate %s: %w", m.quiz.Code, err)
	}
	if err := m.res.WriteBool(ctx, m.fact(keys.SuffixAcked), m.user, true); err != nil {
		return fmt.Errorf("hydrate %s: %w", m.quiz.Code, err)
	}
	return m.markAggregate(ctx)
}

// Answer selects option choice for question q and persists the draft.
func (m *Machine) Answer(ctx context.Context, q, choice int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Passed:
		return ErrLocked
	case Reviewing:
		if m.attempt.Passed {
			return ErrLocked
		}
		return ErrSubmitted
	case Failed:
		return ErrSubmitted
	}
	if q < 0 || q >= len(m.quiz.Questions) {
		return fmt.Errorf("%w: %d", ErrQuestionRange, q)
	}
	if choice < 0 || choice >= len(m.quiz.Questions[q].Options) {
		return fmt.Errorf("%w: %d", ErrChoiceRange, choice)
	}

	answers := model.CloneAnswers(m.attempt.Answers)
	answers[q] = model.Choice(choice)
	if err := m.res.WriteJSON(ctx, m.fact(keys.SuffixDraft), m.user, answers); err != nil {
		return fmt.Errorf("answer %s: %w", m.quiz.Code, err)
	}
	m.attempt.Answers = answers
	m.state = Answering
	return nil
}

// Submit scores the current answers. Nothing is written when an answer is
// missing. The local outcome stands regardless of the remote calls, which
// are enqueued on the outbox.
func (m *Machine) Submit(ctx context.Context) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Passed:
		return Result{}, ErrLocked
	case Reviewing:
		if m.attempt.Passed {
			return Result{}, ErrLocked
		}
		return Result{}, ErrSubmitted
	case Failed:
		return Result{}, ErrSubmitted
	}
	if !m.attempt.Complete() {
		return Result{}, ErrIncomplete
	}

	total := len(m.quiz.Questions)
	score := 0
	for i, q := range m.quiz.Questions {
		if *m.attempt.Answers[i] == q.Answer {
			score++
		}
	}
	passed := model.IsPassing(score, total)
	now := m.clock.Now().UTC()
	elapsed := int64(now.Sub(m.startedAt).Round(time.Second) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	next := m.attempt.Clone()
	next.AttemptID = m.ids.Generate()
	next.Submitted = true
	next.Score = score
	next.Total = total
	next.Passed = passed
	next.Attempts = m.attempt.Attempts + 1
	next.LastAttemptAt = &now
	if passed && m.attempt.Attempts == 0 {
		next.FirstPass = true
	}

	if err := m.persistSubmission(ctx, next); err != nil {
		return Result{}, err
	}
	m.attempt = next
	m.metrics.QuizSubmitted(passed)
	m.log.Info("quiz submitted", "score", score, "total", total, "passed", passed, "attempt", next.Attempts)

	if passed {
		m.state = Passed
		if err := m.markAggregate(ctx); err != nil {
			m.log.Warn("aggregate update failed", "error", err)
		}
		m.clearOtherTracks(ctx)
		m.bus.Publish(bus.QuizPassed{Module: m.module.Slug, Quiz: m.quiz.Code, Score: score, Total: total})
		m.bus.Publish(bus.UnitUpdated{Module: m.module.Slug, Quiz: m.quiz.Code, UnitType: model.UnitQuiz, UnitCode: m.quiz.Code})
		if m.remoteEnabled() {
			m.reportPass(score, elapsed)
		}
	} else {
		m.state = Failed
		if m.remoteEnabled() {
			res := remote.QuizResult{StudentID: string(m.user), ModuleName: m.quiz.Code, Passed: false, Score: score, Total: total}
			m.out.Enqueue(outbox.Job{
				Op:  remote.OpSubmitQuiz,
				Run: func(ctx context.Context) error { return m.svc.SubmitQuiz(ctx, m.user, res) },
			})
		}
	}
	return Result{Score: score, Total: total, Passed: passed}, nil
}

// persistSubmission writes the attempt record and clears the draft.
func (m *Machine) persistSubmission(ctx context.Context, a model.QuizAttempt) error {
	wrap := func(err error) error { return fmt.Errorf("submit %s: %w", m.quiz.Code, err) }

	if err := m.res.WriteTransitional(ctx, m.fact(keys.SuffixPassed), m.user, fmt.Sprint(a.Passed)); err != nil {
		return wrap(err)
	}
	if err := m.res.WriteJSON(ctx, m.fact(keys.SuffixAnswers), m.user, a.Answers); err != nil {
		return wrap(err)
	}
	if err := m.res.WriteInt(ctx, m.fact(keys.SuffixScore), m.user, a.Score); err != nil {
		return wrap(err)
	}
	if err := m.res.WriteInt(ctx, m.fact(keys.SuffixAttempts), m.user, a.Attempts); err != nil {
		return wrap(err)
	}
	if err := m.res.Write(ctx, m.fact(keys.SuffixLastAttempt), m.user, a.LastAttemptAt.Format(time.RFC3339Nano)); err != nil {
		return wrap(err)
	}
	if err := m.res.Write(ctx, m.fact(keys.SuffixAttemptID), m.user, a.AttemptID); err != nil {
		return wrap(err)
	}
	if a.FirstPass {
		if err := m.res.WriteBool(ctx, m.fact(keys.SuffixFirstPass), m.user, true); err != nil {
			return wrap(err)
		}
	}
	if err := m.res.Delete(ctx, m.fact(keys.SuffixDraft), m.user); err != nil {
		return wrap(err)
	}
	return nil
}

// markAggregate adds the quiz to the module's passed-quiz set. The set
// makes the module pass count grow by exactly one per distinct quiz.
func (m *Machine) markAggregate(ctx context.Context) error {
	f := keys.ModuleFact(m.module.Slug, keys.SuffixQuizzesPassed)
	set := m.res.ReadSet(ctx, f, m.user)
	for _, code := range set {
		if code == m.quiz.Code {
			return m.res.WriteBool(ctx, keys.ModuleFact(m.module.Slug, keys.SuffixModuleQuizPassed), m.user, true)
		}
	}
	if err := m.res.WriteSet(ctx, f, m.user, append(set, m.quiz.Code)); err != nil {
		return err
	}
	return m.res.WriteBool(ctx, keys.ModuleFact(m.module.Slug, keys.SuffixModuleQuizPassed), m.user, true)
}

// clearOtherTracks removes stale pass flags for the same quiz code that
// were stored under another track's prefix.
func (m *Machine) clearOtherTracks(ctx context.Context) {
	for _, t := range model.ValidTracks {
		if t == m.module.Track {
			continue
		}
		if err := m.res.Delete(ctx, keys.QuizFact(t, m.quiz.Code, keys.SuffixPassed), m.user); err != nil {
			m.log.Warn("stale pass flag cleanup failed", "track", t, "error", err)
		}
	}
}

// reportPass enqueues the unit record and the quiz result for a pass.
// Caller holds m.mu.
func (m *Machine) reportPass(score int, elapsed int64) {
	total := len(m.quiz.Questions)
	if score == 0 {
		score = total
	}
	rec := remote.UnitRecord{
		Module:          m.module.Slug,
		UnitType:        model.UnitQuiz,
		UnitCode:        m.quiz.Code,
		Completed:       true,
		DurationSeconds: elapsed,
	}
	res := remote.QuizResult{StudentID: string(m.user), ModuleName: m.quiz.Code, Passed: true, Score: score, Total: total}

	m.out.Enqueue(outbox.Job{
		Op:  remote.OpRecordUnit,
		Run: func(ctx context.Context) error { return m.svc.RecordUnit(ctx, m.user, rec) },
	})
	m.out.Enqueue(outbox.Job{
		Op: remote.OpSubmitQuiz,
		Run: func(ctx context.Context) error {
			if err := m.svc.SubmitQuiz(ctx, m.user, res); err != nil {
				return err
			}
			return m.res.WriteBool(ctx, m.fact(keys.SuffixAcked), m.user, true)
		},
		OnError: func(err error) {
			m.log.Warn("pass delivery failed, re-sent on next load", "score", score, "error", err)
		},
	})
}

// Review moves a submitted attempt into the read-only review state.
func (m *Machine) Review() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Passed, Failed:
		m.state = Reviewing
		return nil
	case Reviewing:
		return nil
	default:
		return ErrNotSubmitted
	}
}

// TryAgain returns a failed attempt to Answering with cleared answers.
// Attempt history is kept. A passed attempt is never reopened here.
func (m *Machine) TryAgain(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attempt.Passed {
		return ErrLocked
	}
	if m.state != Failed && m.state != Reviewing {
		return ErrNotFailed
	}
	empty := model.EmptyAnswers(len(m.quiz.Questions))
	if err := m.res.WriteJSON(ctx, m.fact(keys.SuffixDraft), m.user, empty); err != nil {
		return fmt.Errorf("try again %s: %w", m.quiz.Code, err)
	}
	m.attempt.Answers = empty
	m.attempt.Submitted = false
	m.attempt.Score = 0
	m.state = Answering
	m.startedAt = m.clock.Now()
	return nil
}

// Reset clears the attempt record (answers, score, draft in every shape the
// learner reads, pass flag written as false) and returns to Unanswered. Attempt count, first-pass and
// last-attempt history survive, and so does the module aggregate.
func (m *Machine) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, suffix := range []string{keys.SuffixPassed, keys.SuffixAnswers, keys.SuffixScore, keys.SuffixDraft, keys.SuffixAttemptID, keys.SuffixAcked} {
		if err := m.res.Delete(ctx, m.fact(suffix), m.user); err != nil {
			return fmt.Errorf("reset %s: %w", m.quiz.Code, err)
		}
	}
	// A canonical "false" ends the fallback chain for the pass flag.
	if err := m.res.WriteBool(ctx, m.fact(keys.SuffixPassed), m.user, false); err != nil {
		return fmt.Errorf("reset %s: %w", m.quiz.Code, err)
	}
	total := len(m.quiz.Questions)
	m.attempt = model.QuizAttempt{
		Answers:       model.EmptyAnswers(total),
		Total:         total,
		Attempts:      m.attempt.Attempts,
		FirstPass:     m.attempt.FirstPass,
		LastAttemptAt: m.attempt.LastAttemptAt,
	}
	m.state = Unanswered
	m.startedAt = m.clock.Now()
	m.log.Info("quiz reset")
	return nil
}

func (m *Machine) readString(ctx context.Context, suffix string) (string, bool) {
	v, found, err := m.res.Read(ctx, m.fact(suffix), m.user)
	if err != nil {
		m.log.Warn("cache read failed", "suffix", suffix, "error", err)
		return "", false
	}
	return v, found
}
