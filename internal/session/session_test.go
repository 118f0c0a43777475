package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progsync/internal/bus"
	"github.com/roach88/progsync/internal/catalog"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/quiz"
	"github.com/roach88/progsync/internal/remote"
	"github.com/roach88/progsync/internal/store"
	"github.com/roach88/progsync/internal/testutil"
)

const sigModule = "signature-based-detection"

func open(t *testing.T, env *testutil.Env, user model.UserID) *Session {
	t.Helper()
	s, err := Open(context.Background(), user, Options{
		Store:   env.Store,
		Catalog: catalog.Default(),
		Service: env.Service,
		Bus:     env.Bus,
		Clock:   testutil.NewFakeClock(),
		IDs:     testutil.NewSequenceIDs("attempt"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestOpen_RequiresStore(t *testing.T) {
	_, err := Open(context.Background(), "alice", Options{})
	require.Error(t, err)
}

func TestSweepFacts_CoversCatalog(t *testing.T) {
	facts := SweepFacts(catalog.Default())
	// 3 modules with 8 module facts each, 3 quizzes with 9 quiz facts each.
	assert.Len(t, facts, 3*8+3*9)
}

func TestOpen_SweepAdoptsSharedProgressOnce(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	require.NoError(t, env.Store.Set(ctx, sigModule+"-completed-lessons", `["intro"]`))

	alice := open(t, env, "alice")
	assert.Equal(t, 1, alice.SweepResult().Adopted)
	tr, err := alice.Tracker(sigModule)
	require.NoError(t, err)
	assert.Equal(t, []string{"intro"}, tr.CompletedIDs(ctx))

	_, found, err := env.Store.Get(ctx, sigModule+"-completed-lessons")
	require.NoError(t, err)
	assert.False(t, found, "shared key is purged by the sweep")
	assert.Len(t, env.Events.OfKind(bus.KindProgressMigrated), 1)

	bob := open(t, env, "bob")
	assert.True(t, bob.SweepResult().AlreadyDone)
	tr, err = bob.Tracker(sigModule)
	require.NoError(t, err)
	assert.Empty(t, tr.CompletedIDs(ctx), "a later identity inherits nothing")
}

func TestOpen_RecoversPendingLedger(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	unit := model.Unit{ModuleSlug: sigModule, Type: model.UnitLesson, Code: "intro"}
	require.NoError(t, env.Store.SaveLedger(ctx, store.LedgerEntry{User: "alice", Unit: unit, PendingSeconds: 30}))

	s := open(t, env, "alice")
	assert.Equal(t, 1, s.Recovered())

	calls := env.Service.CallsOf(remote.OpRecordTime)
	require.Len(t, calls, 1)
	assert.Equal(t, int64(30), calls[0].Delta)

	pending, err := env.Store.PendingLedgers(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOpen_UndeliveredRecoveryRetriedOnClose(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	unit := model.Unit{ModuleSlug: sigModule, Type: model.UnitOverview}
	require.NoError(t, env.Store.SaveLedger(ctx, store.LedgerEntry{User: "alice", Unit: unit, PendingSeconds: 45}))

	env.Service.FailNext(remote.OpRecordTime, 1)
	s := open(t, env, "alice")
	assert.Equal(t, int64(0), env.Service.TotalTime("alice", sigModule))

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, int64(45), env.Service.TotalTime("alice", sigModule))
}

func TestOpen_AnonymousSkipsRecovery(t *testing.T) {
	env := testutil.NewEnv(t)
	s := open(t, env, model.Anonymous)
	assert.Zero(t, s.Recovered())
	assert.Empty(t, env.Service.Calls())
}

func TestClose_DrainsOutbox(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	s := open(t, env, "alice")

	tr, err := s.Tracker(sigModule)
	require.NoError(t, err)
	added, err := tr.MarkComplete(ctx, "intro")
	require.NoError(t, err)
	assert.True(t, added)

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, []string{"intro"}, env.Service.ServerLessons("alice", sigModule))
}

func TestClose_IsIdempotentAndLocks(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	s := open(t, env, "alice")

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	_, err := s.Tracker(sigModule)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Quiz(ctx, "signature-module-1")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Timer(ctx, model.Unit{ModuleSlug: sigModule, Type: model.UnitOverview})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAccessors_UnknownNames(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	s := open(t, env, "alice")

	_, err := s.Tracker("no-such-module")
	assert.Error(t, err)
	_, err = s.Quiz(ctx, "no-such-quiz")
	assert.Error(t, err)
	_, err = s.Timer(ctx, model.Unit{Type: model.UnitLesson})
	assert.Error(t, err)
}

func TestAccessors_ReturnSameComponent(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	s := open(t, env, "alice")

	a, err := s.Tracker(sigModule)
	require.NoError(t, err)
	b, err := s.Tracker(sigModule)
	require.NoError(t, err)
	assert.Same(t, a, b)

	q1, err := s.Quiz(ctx, "signature-module-1")
	require.NoError(t, err)
	q2, err := s.Quiz(ctx, "signature-module-1")
	require.NoError(t, err)
	assert.Same(t, q1, q2)
	assert.Len(t, env.Service.CallsOf(remote.OpQuizStatus), 1, "hydration runs once")
}

func TestRefresh_PullsEveryModule(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	env.Service.SeedLessons("alice", sigModule, "intro", "rule-anatomy")
	env.Service.SeedLessons("alice", "hybrid-detection", "combining")
	s := open(t, env, "alice")

	require.NoError(t, s.Refresh(ctx))

	sum, err := s.Progress(ctx, sigModule)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.LessonsDone)
	sum, err = s.Progress(ctx, "hybrid-detection")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.LessonsDone)
}

func TestRefresh_JoinsFailures(t *testing.T) {
	env := testutil.NewEnv(t)
	s := open(t, env, "alice")
	env.Service.SetDown(remote.OpCompletedLessons, true)

	err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), sigModule)
	assert.Contains(t, err.Error(), "hybrid-detection")
}

func TestQuizPass_ShowsInProgress(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	s := open(t, env, "alice")

	m, err := s.Quiz(ctx, "signature-module-1")
	require.NoError(t, err)
	for q, choice := range []int{0, 1, 1, 0, 0} {
		require.NoError(t, m.Answer(ctx, q, choice))
	}
	res, err := m.Submit(ctx)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, quiz.Passed, m.State())

	sum, err := s.Progress(ctx, sigModule)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.QuizzesPassed)
	// 1 quiz of 7 units: overview, 3 lessons, 1 quiz, practical, assessment.
	assert.Equal(t, 14, sum.Percent)

	all, err := s.AllProgress(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "anomaly-based-detection", all[0].Module)
}
