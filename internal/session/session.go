// Package session opens and closes one learner's view of the engine.
//
// Open is the equivalent of a page load for an identity: it runs the
// one-time shared-key sweep, recovers time ledgers a previous process left
// pending, and hands out components that share one resolver, one event bus
// and one outbox. Close flushes every time accumulator and then drains the
// outbox.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/progsync/internal/bus"
	"github.com/roach88/progsync/internal/catalog"
	"github.com/roach88/progsync/internal/clock"
	"github.com/roach88/progsync/internal/completion"
	"github.com/roach88/progsync/internal/keys"
	"github.com/roach88/progsync/internal/metrics"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/outbox"
	"github.com/roach88/progsync/internal/progress"
	"github.com/roach88/progsync/internal/quiz"
	"github.com/roach88/progsync/internal/remote"
	"github.com/roach88/progsync/internal/store"
	"github.com/roach88/progsync/internal/timeacc"
)

// ErrClosed is returned by accessors after Close.
var ErrClosed = errors.New("session closed")

// refreshConcurrency bounds parallel server pulls in Refresh.
const refreshConcurrency = 4

// Options configures a Session. Service may be nil for an offline session.
type Options struct {
	Store      *store.Store
	Catalog    *catalog.Catalog
	Service    remote.Service
	Bus        *bus.Bus
	Clock      clock.Clock
	IDs        quiz.IDGenerator
	Timing     timeacc.Config
	JobTimeout time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Session is one learner's open session.
//
// Thread-safety: All methods are safe for concurrent use.
type Session struct {
	user    model.UserID
	store   *store.Store
	catalog *catalog.Catalog
	svc     remote.Service
	bus     *bus.Bus
	clock   clock.Clock
	ids     quiz.IDGenerator
	timing  timeacc.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	res *keys.Resolver
	out *outbox.Outbox

	sweep     keys.SweepResult
	recovered int

	mu       sync.Mutex
	closed   bool
	trackers map[string]*completion.Tracker
	quizzes  map[string]*quiz.Machine
	timers   map[model.Unit]*timeacc.Accumulator
}

// Open starts a session for user. Sweep and recovery failures are logged
// and do not fail the open; only an unusable configuration does.
func Open(ctx context.Context, user model.UserID, opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("open session: store is required")
	}
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	b := opts.Bus
	if b == nil {
		b = bus.New()
	}

	s := &Session{
		user:     user,
		store:    opts.Store,
		catalog:  cat,
		svc:      opts.Service,
		bus:      b,
		clock:    clock.Or(opts.Clock),
		ids:      opts.IDs,
		timing:   opts.Timing,
		log:      log.With("user", user.String()),
		metrics:  opts.Metrics,
		trackers: make(map[string]*completion.Tracker),
		quizzes:  make(map[string]*quiz.Machine),
		timers:   make(map[model.Unit]*timeacc.Accumulator),
	}
	s.res = keys.New(opts.Store, keys.Options{Bus: b, Logger: log, Metrics: opts.Metrics})
	s.out = outbox.New(outbox.Options{JobTimeout: opts.JobTimeout, Logger: log, Metrics: opts.Metrics})

	res, err := s.res.Sweep(ctx, user, SweepFacts(cat))
	if err != nil {
		s.log.Warn("namespace sweep failed", "error", err)
	}
	s.sweep = res

	s.recoverLedgers(ctx)
	return s, nil
}

// SweepFacts lists every fact the catalog can produce: the module facts of
// each module and every quiz fact on the module's track.
func SweepFacts(c *catalog.Catalog) []keys.Fact {
	moduleSuffixes := []string{
		keys.SuffixCompletedLessons,
		keys.SuffixOverview,
		keys.SuffixPractical,
		keys.SuffixAssessment,
		keys.SuffixQuizzesPassed,
		keys.SuffixModuleQuizPassed,
		keys.SuffixLessonTotal,
		keys.SuffixQuizTotal,
	}
	quizSuffixes := []string{
		keys.SuffixPassed,
		keys.SuffixAnswers,
		keys.SuffixScore,
		keys.SuffixDraft,
		keys.SuffixAttempts,
		keys.SuffixFirstPass,
		keys.SuffixLastAttempt,
		keys.SuffixAttemptID,
		keys.SuffixAcked,
	}

	var facts []keys.Fact
	for _, m := range c.Modules() {
		for _, suffix := range moduleSuffixes {
			facts = append(facts, keys.ModuleFact(m.Slug, suffix))
		}
		for _, q := range m.Quizzes {
			for _, suffix := range quizSuffixes {
				facts = append(facts, keys.QuizFact(m.Track, q.Code, suffix))
			}
		}
	}
	return facts
}

// LeftoverKeys lists pre-namespace keys of the catalog's modules and
// quizzes that are still in the cache.
func (s *Session) LeftoverKeys(ctx context.Context) ([]string, error) {
	var names []string
	for _, m := range s.catalog.Modules() {
		names = append(names, m.Slug)
		for _, q := range m.Quizzes {
			names = append(names, q.Code)
		}
	}
	return s.res.LegacyKeys(ctx, names)
}

// recoverLedgers re-sends time a previous process accumulated but never
// had acknowledged. Units still failing stay pending for Close.
func (s *Session) recoverLedgers(ctx context.Context) {
	if s.user.IsAnonymous() {
		return
	}
	entries, err := s.store.PendingLedgers(ctx, s.user)
	if err != nil {
		s.log.Warn("ledger recovery failed", "error", err)
		return
	}
	for _, e := range entries {
		acc, err := s.Timer(ctx, e.Unit)
		if err != nil {
			s.log.Warn("ledger recovery failed", "unit", e.Unit.String(), "error", err)
			continue
		}
		s.recovered++
		if _, err := acc.Flush(ctx, true); err != nil {
			s.log.Warn("recovered time not delivered", "unit", e.Unit.String(), "error", err)
		}
	}
}

// User returns the session identity.
func (s *Session) User() model.UserID { return s.user }

// Bus returns the shared event bus.
func (s *Session) Bus() *bus.Bus { return s.bus }

// Resolver returns the shared key resolver.
func (s *Session) Resolver() *keys.Resolver { return s.res }

// Outbox returns the shared outbox.
func (s *Session) Outbox() *outbox.Outbox { return s.out }

// Catalog returns the course catalog.
func (s *Session) Catalog() *catalog.Catalog { return s.catalog }

// SweepResult reports what the sweep did during Open.
func (s *Session) SweepResult() keys.SweepResult { return s.sweep }

// Recovered returns the number of ledgers recovered during Open.
func (s *Session) Recovered() int { return s.recovered }

// Tracker returns the completion tracker of module.
func (s *Session) Tracker(slug string) (*completion.Tracker, error) {
	m, ok := s.catalog.Module(slug)
	if !ok {
		return nil, fmt.Errorf("unknown module %q", slug)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if t, ok := s.trackers[slug]; ok {
		return t, nil
	}
	t := completion.New(m, s.user, completion.Options{
		Resolver: s.res,
		Service:  s.svc,
		Outbox:   s.out,
		Bus:      s.bus,
		Logger:   s.log,
		Metrics:  s.metrics,
	})
	s.trackers[slug] = t
	return t, nil
}

// Quiz returns the hydrated state machine of the quiz with code.
// Hydration runs once, on first access.
func (s *Session) Quiz(ctx context.Context, code string) (*quiz.Machine, error) {
	m, q, ok := s.catalog.Quiz(code)
	if !ok {
		return nil, fmt.Errorf("unknown quiz %q", code)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if qm, ok := s.quizzes[code]; ok {
		s.mu.Unlock()
		return qm, nil
	}
	qm := quiz.New(m, q, s.user, quiz.Options{
		Resolver: s.res,
		Service:  s.svc,
		Outbox:   s.out,
		Bus:      s.bus,
		Clock:    s.clock,
		IDs:      s.ids,
		Logger:   s.log,
		Metrics:  s.metrics,
	})
	s.quizzes[code] = qm
	s.mu.Unlock()

	if err := qm.Hydrate(ctx); err != nil {
		return nil, fmt.Errorf("hydrate quiz %s: %w", code, err)
	}
	return qm, nil
}

// Timer returns the time accumulator of unit, opening it on first access.
func (s *Session) Timer(ctx context.Context, unit model.Unit) (*timeacc.Accumulator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if a, ok := s.timers[unit]; ok {
		return a, nil
	}
	a, err := timeacc.New(ctx, s.user, unit, timeacc.Options{
		Ledger:  s.store,
		Service: s.svc,
		Bus:     s.bus,
		Clock:   s.clock,
		Config:  s.timing,
		Logger:  s.log,
		Metrics: s.metrics,
	})
	if err != nil {
		return nil, err
	}
	s.timers[unit] = a
	return a, nil
}

// Progress computes the summary of module.
func (s *Session) Progress(ctx context.Context, slug string) (progress.Summary, error) {
	t, err := s.Tracker(slug)
	if err != nil {
		return progress.Summary{}, err
	}
	return progress.Compute(ctx, s.res, s.user, t.Module(), t), nil
}

// AllProgress computes every module summary in slug order.
func (s *Session) AllProgress(ctx context.Context) ([]progress.Summary, error) {
	mods := s.catalog.Modules()
	out := make([]progress.Summary, 0, len(mods))
	for _, m := range mods {
		sum, err := s.Progress(ctx, m.Slug)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// Refresh pulls server completions into every module tracker.
// Per-module failures are joined; the others still refresh.
func (s *Session) Refresh(ctx context.Context) error {
	mods := s.catalog.Modules()
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, m := range mods {
		t, err := s.Tracker(m.Slug)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := t.Refresh(gctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("refresh %s: %w", m.Slug, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Close flushes every accumulator, then drains the outbox. Close is
// idempotent; later calls return nil.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timers := make([]*timeacc.Accumulator, 0, len(s.timers))
	for _, a := range s.timers {
		timers = append(timers, a)
	}
	s.mu.Unlock()

	sort.Slice(timers, func(i, j int) bool {
		return timers[i].Unit().String() < timers[j].Unit().String()
	})

	var g errgroup.Group
	errs := make([]error, len(timers))
	for i, a := range timers {
		g.Go(func() error {
			errs[i] = a.Close(ctx)
			return nil
		})
	}
	_ = g.Wait()

	if err := s.out.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain outbox: %w", err))
	}
	err := errors.Join(errs...)
	if err != nil {
		s.log.Warn("session closed with undelivered state", "error", err)
	}
	return err
}
