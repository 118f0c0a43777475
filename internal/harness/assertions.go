package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/progsync/internal/store"
	"github.com/roach88/progsync/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s %s %v\n", i+1, event.Step, event.Type, event.Name, event.Data)
		}
	}

	return buf.String()
}

// assertEventCount checks the event kind was published exactly Count times.
func assertEventCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == TraceTypeEvent && event.Name == assertion.Kind {
			count++
		}
	}
	if count == assertion.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Expected: fmt.Sprintf("%s published %d time(s)", assertion.Kind, assertion.Count),
		Actual:   fmt.Sprintf("published %d time(s)", count),
		Trace:    trace,
	}
}

// assertEventOrder checks the kinds were published in the given order.
// They don't need to be consecutive (intervening events are allowed).
func assertEventOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next == len(assertion.Kinds) {
			break
		}
		if event.Type == TraceTypeEvent && event.Name == assertion.Kinds[next] {
			next++
		}
	}
	if next == len(assertion.Kinds) {
		return nil
	}

	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: fmt.Sprintf("events in order: %s", strings.Join(assertion.Kinds, " -> ")),
		Actual:   fmt.Sprintf("%q not found after %s", assertion.Kinds[next], strings.Join(assertion.Kinds[:next], " -> ")),
		Trace:    trace,
	}
}

// assertRemoteCalls checks the remote operation was called Count times,
// for Module when set. Failed calls count.
func assertRemoteCalls(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type != TraceTypeCall || event.Name != assertion.Op {
			continue
		}
		if assertion.Module != "" && callModule(event) != assertion.Module {
			continue
		}
		count++
	}
	if count == assertion.Count {
		return nil
	}

	target := assertion.Op
	if assertion.Module != "" {
		target += " for " + assertion.Module
	}
	return &AssertionError{
		Type:     AssertRemoteCalls,
		Expected: fmt.Sprintf("%s called %d time(s)", target, assertion.Count),
		Actual:   fmt.Sprintf("called %d time(s)", count),
		Trace:    trace,
	}
}

func callModule(event TraceEvent) string {
	if c, ok := event.Data.(testutil.Call); ok {
		return c.Module
	}
	return ""
}

// assertCacheKey checks a raw durable key in the store.
func assertCacheKey(ctx context.Context, st *store.Store, assertion Assertion) error {
	value, found, err := st.Get(ctx, assertion.Key)
	if err != nil {
		return fmt.Errorf("cache_key %s: %w", assertion.Key, err)
	}

	switch {
	case assertion.Absent && found:
		return &AssertionError{
			Type:     AssertCacheKey,
			Expected: fmt.Sprintf("%s absent", assertion.Key),
			Actual:   fmt.Sprintf("holds %q", value),
		}
	case assertion.Absent:
		return nil
	case !found:
		return &AssertionError{
			Type:     AssertCacheKey,
			Expected: fmt.Sprintf("%s = %q", assertion.Key, *assertion.Value),
			Actual:   "key not found",
		}
	case value != *assertion.Value:
		return &AssertionError{
			Type:     AssertCacheKey,
			Expected: fmt.Sprintf("%s = %q", assertion.Key, *assertion.Value),
			Actual:   fmt.Sprintf("holds %q", value),
		}
	}
	return nil
}

// assertProgress checks the final summary of one module.
func assertProgress(result *Result, assertion Assertion) error {
	sum, ok := result.Progress[assertion.Module]
	if !ok {
		return &AssertionError{
			Type:     AssertProgress,
			Expected: fmt.Sprintf("progress for %s", assertion.Module),
			Actual:   "module not in catalog",
		}
	}

	var mismatches []string
	if assertion.Percent != nil && sum.Percent != *assertion.Percent {
		mismatches = append(mismatches, fmt.Sprintf("percent %d (want %d)", sum.Percent, *assertion.Percent))
	}
	if assertion.Lessons != nil && sum.LessonsDone != *assertion.Lessons {
		mismatches = append(mismatches, fmt.Sprintf("lessons %d (want %d)", sum.LessonsDone, *assertion.Lessons))
	}
	if assertion.Quizzes != nil && sum.QuizzesPassed != *assertion.Quizzes {
		mismatches = append(mismatches, fmt.Sprintf("quizzes %d (want %d)", sum.QuizzesPassed, *assertion.Quizzes))
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertProgress,
		Expected: fmt.Sprintf("progress of %s", assertion.Module),
		Actual:   strings.Join(mismatches, ", "),
	}
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for cache_key assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventCount:
			err = assertEventCount(result.Trace, assertion)
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, assertion)
		case AssertRemoteCalls:
			err = assertRemoteCalls(result.Trace, assertion)
		case AssertCacheKey:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: cache_key requires database context", i)
			} else {
				err = assertCacheKey(actx.Ctx, actx.Store, assertion)
			}
		case AssertProgress:
			err = assertProgress(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
