package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/progsync/internal/bus"
	"github.com/roach88/progsync/internal/progress"
	"github.com/roach88/progsync/internal/store"
	"github.com/roach88/progsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Step: 0, Type: TraceTypeEvent, Name: "progress.migrated"},
		{Step: 1, Type: TraceTypeEvent, Name: "unit.updated"},
		{Step: 1, Type: TraceTypeCall, Name: "mark_lesson", Data: testutil.Call{Op: "mark_lesson", Module: "m1"}},
		{Step: 2, Type: TraceTypeEvent, Name: "quiz.passed"},
		{Step: 2, Type: TraceTypeEvent, Name: "unit.updated"},
		{Step: 2, Type: TraceTypeCall, Name: "mark_lesson", Data: testutil.Call{Op: "mark_lesson", Module: "m2"}},
	}
}

func TestAssertEventCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertEventCount(trace, Assertion{Kind: "unit.updated", Count: 2}))
	assert.NoError(t, assertEventCount(trace, Assertion{Kind: "time.updated", Count: 0}))

	err := assertEventCount(trace, Assertion{Kind: "quiz.passed", Count: 2})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertEventCount, aerr.Type)
	assert.Equal(t, "published 1 time(s)", aerr.Actual)
}

func TestAssertEventCount_IgnoresCalls(t *testing.T) {
	trace := []TraceEvent{{Type: TraceTypeCall, Name: "unit.updated"}}
	assert.NoError(t, assertEventCount(trace, Assertion{Kind: "unit.updated", Count: 0}))
}

func TestAssertEventOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertEventOrder(trace, Assertion{Kinds: []string{"progress.migrated", "quiz.passed"}}))
	assert.NoError(t, assertEventOrder(trace, Assertion{Kinds: []string{"unit.updated", "unit.updated"}}))

	err := assertEventOrder(trace, Assertion{Kinds: []string{"quiz.passed", "progress.migrated"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"progress.migrated" not found after quiz.passed`)
}

func TestAssertRemoteCalls(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertRemoteCalls(trace, Assertion{Op: "mark_lesson", Count: 2}))
	assert.NoError(t, assertRemoteCalls(trace, Assertion{Op: "mark_lesson", Module: "m2", Count: 1}))
	assert.NoError(t, assertRemoteCalls(trace, Assertion{Op: "record_time", Count: 0}))

	err := assertRemoteCalls(trace, Assertion{Op: "mark_lesson", Module: "m3", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark_lesson for m3 called 1 time(s)")
}

func TestAssertCacheKey(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Set(ctx, "present", "v1"))

	assert.NoError(t, assertCacheKey(ctx, st, Assertion{Key: "present", Value: strPtr("v1")}))
	assert.NoError(t, assertCacheKey(ctx, st, Assertion{Key: "missing", Absent: true}))

	err = assertCacheKey(ctx, st, Assertion{Key: "present", Value: strPtr("v2")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `holds "v1"`)

	err = assertCacheKey(ctx, st, Assertion{Key: "missing", Value: strPtr("v1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key not found")

	err = assertCacheKey(ctx, st, Assertion{Key: "present", Absent: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "present absent")
}

func TestAssertProgress(t *testing.T) {
	result := NewResult()
	result.Progress["m1"] = progress.Summary{Module: "m1", Percent: 50, LessonsDone: 1, QuizzesPassed: 0}

	assert.NoError(t, assertProgress(result, Assertion{Module: "m1", Percent: intPtr(50), Lessons: intPtr(1)}))

	err := assertProgress(result, Assertion{Module: "m1", Percent: intPtr(100), Quizzes: intPtr(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "percent 50 (want 100), quizzes 0 (want 1)")

	err = assertProgress(result, Assertion{Module: "m9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "module not in catalog")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertEventCount, Kind: "unit.updated", Count: 2},
		{Type: AssertRemoteCalls, Op: "mark_lesson", Count: 5},
		{Type: AssertCacheKey, Key: "k", Absent: true},
		{Type: "bogus"},
	}, nil)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "mark_lesson called 5 time(s)")
	assert.Contains(t, errs[1], "assertion[2]: cache_key requires database context")
	assert.Contains(t, errs[2], `assertion[3]: unknown assertion type "bogus"`)
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertEventCount,
		Expected: "a",
		Actual:   "b",
		Trace:    []TraceEvent{{Step: 3, Type: TraceTypeEvent, Name: "quiz.passed"}},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: event_count")
	assert.Contains(t, msg, "[1] step 3 event quiz.passed")
}

func TestResult_AddTraces(t *testing.T) {
	result := NewResult()
	result.AddEventTrace(1, bus.Event{Payload: bus.UnitUpdated{Module: "m1"}})
	result.AddCallTrace(1, testutil.Call{Op: "mark_lesson", Module: "m1"})
	result.AddError("boom")

	assert.False(t, result.Pass)
	require.Len(t, result.Events(), 1)
	assert.Equal(t, "unit.updated", result.Events()[0].Name)
	require.Len(t, result.Calls(), 1)
	assert.Equal(t, "mark_lesson", result.Calls()[0].Name)
}
