package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool    { return &b }
func intPtr(n int) *int       { return &n }
func int64Ptr(n int64) *int64 { return &n }
func strPtr(s string) *string { return &s }

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace with testdata/golden/{name}.golden.
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenarioWithBasePath(path, filepath.Dir(path))
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "expect_mismatch",
		Description: "A completion reported as new twice",
		User:        "42",
		Flow: []Step{
			{Op: OpCompleteLesson, Module: "signature-based-detection", Lesson: "intro", Expect: &Expect{Added: boolPtr(true)}},
			{Op: OpCompleteLesson, Module: "signature-based-detection", Lesson: "intro", Expect: &Expect{Added: boolPtr(true)}},
		},
		Assertions: []Assertion{{Type: AssertRemoteCalls, Op: "mark_lesson", Count: 1}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flow[1] complete_lesson")
	assert.Contains(t, result.Errors[0], "added: expected true, got false")
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	scenario := &Scenario{
		Name:        "expected_error_missing",
		Description: "Completing a lesson does not fail",
		User:        "42",
		Flow: []Step{
			{Op: OpCompleteLesson, Module: "signature-based-detection", Lesson: "intro", Expect: &Expect{Error: "boom"}},
		},
		Assertions: []Assertion{{Type: AssertEventCount, Kind: "unit.updated", Count: 1}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], `expected error containing "boom", got success`)
}

func TestRun_UnknownModuleIsStepError(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown_module",
		Description: "Completing a lesson of a module outside the catalog",
		User:        "42",
		Flow: []Step{
			{Op: OpCompleteLesson, Module: "no-such-module", Lesson: "intro", Expect: &Expect{Error: "unknown module"}},
		},
		Assertions: []Assertion{{Type: AssertRemoteCalls, Op: "mark_lesson", Count: 0}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_AnonymousMakesNoRemoteCalls(t *testing.T) {
	scenario := &Scenario{
		Name:        "anonymous",
		Description: "The anonymous learner keeps progress locally only",
		Flow: []Step{
			{Op: OpCompleteLesson, Module: "signature-based-detection", Lesson: "intro", Expect: &Expect{Added: boolPtr(true)}},
			{Op: OpTick, Unit: "signature-based-detection/lesson:intro", Count: 4, Expect: &Expect{Pending: int64Ptr(0)}},
			{Op: OpRefresh},
		},
		Assertions: []Assertion{
			{Type: AssertEventCount, Kind: "progress.migrated", Count: 0},
			{Type: AssertProgress, Module: "signature-based-detection", Lessons: intPtr(1)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Calls())
	assert.Len(t, result.Events(), 1)
}

func TestRun_ClosedSessionRefusesWork(t *testing.T) {
	scenario := &Scenario{
		Name:        "closed",
		Description: "Operations after close fail until reopen",
		User:        "42",
		Flow: []Step{
			{Op: OpClose},
			{Op: OpCompleteLesson, Module: "signature-based-detection", Lesson: "intro", Expect: &Expect{Error: "session closed"}},
			{Op: OpReopen},
			{Op: OpCompleteLesson, Module: "signature-based-detection", Lesson: "intro", Expect: &Expect{Added: boolPtr(true)}},
		},
		Assertions: []Assertion{{Type: AssertRemoteCalls, Op: "mark_lesson", Count: 1}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_FailedDeliveryRetriedByRefresh(t *testing.T) {
	scenario := &Scenario{
		Name:        "redelivery",
		Description: "A lesson whose delivery failed is re-sent by refresh",
		User:        "42",
		Flow: []Step{
			{Op: OpFail, Fail: &FailSeed{Op: "mark_lesson", Times: 1}},
			{Op: OpCompleteLesson, Module: "signature-based-detection", Lesson: "intro"},
			{Op: OpRefresh},
		},
		Assertions: []Assertion{
			{Type: AssertRemoteCalls, Op: "mark_lesson", Module: "signature-based-detection", Count: 2},
			{Type: AssertProgress, Module: "signature-based-detection", Lessons: intPtr(1), Percent: intPtr(14)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	calls := result.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, 2, calls[0].Step)
}

func TestRun_PeriodicFlushWaitsForPeriod(t *testing.T) {
	unit := "signature-based-detection/overview"
	scenario := &Scenario{
		Name:        "periodic_flush",
		Description: "A periodic flush only sends once the flush period has passed",
		User:        "42",
		Flow: []Step{
			{Op: OpTick, Unit: unit, Count: 1, Expect: &Expect{Pending: int64Ptr(15)}},
			{Op: OpFlush, Unit: unit, Periodic: true, Expect: &Expect{Sent: boolPtr(false), Pending: int64Ptr(15)}},
			{Op: OpAdvance, Duration: "61s"},
			{Op: OpFlush, Unit: unit, Periodic: true, Expect: &Expect{Sent: boolPtr(true), Pending: int64Ptr(0)}},
		},
		Assertions: []Assertion{
			{Type: AssertRemoteCalls, Op: "record_time", Count: 1},
			{Type: AssertEventCount, Kind: "time.updated", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_HideFlushesAtOnce(t *testing.T) {
	unit := "hybrid-detection/lesson:combining"
	scenario := &Scenario{
		Name:        "hide",
		Description: "Hiding a unit flushes and stops accumulation",
		User:        "42",
		Flow: []Step{
			{Op: OpTick, Unit: unit, Count: 2},
			{Op: OpHide, Unit: unit, Expect: &Expect{Pending: int64Ptr(0)}},
			{Op: OpTick, Unit: unit, Count: 3, Expect: &Expect{Pending: int64Ptr(0)}},
			{Op: OpShow, Unit: unit},
			{Op: OpTick, Unit: unit, Count: 1, Expect: &Expect{Pending: int64Ptr(15)}},
		},
		Assertions: []Assertion{
			{Type: AssertRemoteCalls, Op: "record_time", Module: "hybrid-detection", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ServerPassAdopted(t *testing.T) {
	scenario := &Scenario{
		Name:        "server_pass",
		Description: "A pass recorded on another device is adopted locally",
		User:        "42",
		Setup: Setup{Server: ServerSeed{Quizzes: map[string]QuizSeed{
			"anomaly-module-1": {Passed: true, Score: 2, Total: 2},
		}}},
		Flow: []Step{
			{Op: OpReview, Quiz: "anomaly-module-1", Expect: &Expect{State: "reviewing"}},
			{Op: OpRetry, Quiz: "anomaly-module-1", Expect: &Expect{Error: "locked"}},
		},
		Assertions: []Assertion{
			{Type: AssertRemoteCalls, Op: "submit_quiz", Count: 0},
			{Type: AssertProgress, Module: "anomaly-based-detection", Quizzes: intPtr(1)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ResetKeepsAggregate(t *testing.T) {
	scenario := &Scenario{
		Name:        "reset",
		Description: "Reset clears the attempt but not the module pass count",
		User:        "42",
		Flow: []Step{
			{Op: OpAnswer, Quiz: "hybrid-module-1", Answers: []int{0}},
			{Op: OpSubmit, Quiz: "hybrid-module-1", Expect: &Expect{Passed: boolPtr(true), Score: intPtr(1)}},
			{Op: OpReset, Quiz: "hybrid-module-1", Expect: &Expect{State: "unanswered"}},
		},
		Assertions: []Assertion{
			{Type: AssertProgress, Module: "hybrid-detection", Quizzes: intPtr(1)},
			{Type: AssertCacheKey, Key: "progsync:meta:shared-sweep:v1", Value: strPtr("42")},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
