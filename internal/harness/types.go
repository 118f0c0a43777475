package harness

import (
	"github.com/roach88/progsync/internal/bus"
	"github.com/roach88/progsync/internal/progress"
	"github.com/roach88/progsync/internal/testutil"
)

// Trace event types.
const (
	TraceTypeEvent = "event"
	TraceTypeCall  = "call"
)

// TraceEvent is one published bus event or one remote call, tagged with
// the flow step that caused it. Step 0 is the session open.
type TraceEvent struct {
	Step int    `json:"step"`
	Type string `json:"type"` // "event" or "call"
	Name string `json:"name"` // event kind or remote operation
	Data any    `json:"data,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions hold.
	Pass bool `json:"pass"`

	// Trace contains traced events and remote calls in step order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Progress holds the final summary of every module, keyed by slug.
	Progress map[string]progress.Summary `json:"progress,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Progress: make(map[string]progress.Summary),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEventTrace adds a bus event to the trace.
func (r *Result) AddEventTrace(step int, e bus.Event) {
	r.Trace = append(r.Trace, TraceEvent{
		Step: step,
		Type: TraceTypeEvent,
		Name: string(e.Kind()),
		Data: e.Payload,
	})
}

// AddCallTrace adds a remote call to the trace.
func (r *Result) AddCallTrace(step int, c testutil.Call) {
	r.Trace = append(r.Trace, TraceEvent{
		Step: step,
		Type: TraceTypeCall,
		Name: c.Op,
		Data: c,
	})
}

// Events returns the event entries of the trace in order.
func (r *Result) Events() []TraceEvent {
	return r.filter(TraceTypeEvent)
}

// Calls returns the remote call entries of the trace in order.
func (r *Result) Calls() []TraceEvent {
	return r.filter(TraceTypeCall)
}

func (r *Result) filter(typ string) []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
