package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/progsync/internal/bus"
)

// Scenario defines a conformance test scenario.
// A scenario seeds the local cache and the fake remote service, opens a
// session for one learner, drives a flow of operations and asserts on the
// resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// User is the learner the session is opened for. Empty is anonymous.
	User string `yaml:"user"`

	// Catalog is an optional CUE catalog directory, relative to the
	// scenario file. The built-in catalog is used when empty.
	Catalog string `yaml:"catalog,omitempty"`

	// Setup establishes state before the session is opened.
	Setup Setup `yaml:"setup,omitempty"`

	// Flow contains the operations, run in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Setup seeds the device cache, the time ledger and the fake server.
type Setup struct {
	// Cache holds raw durable keys, e.g. pre-namespace shared progress.
	Cache map[string]string `yaml:"cache,omitempty"`

	// Ledgers holds pending time left by an earlier run.
	Ledgers []LedgerSeed `yaml:"ledgers,omitempty"`

	// Server holds state the remote service already has for the user.
	Server ServerSeed `yaml:"server,omitempty"`

	// Fail injects remote failures before the session opens.
	Fail []FailSeed `yaml:"fail,omitempty"`
}

// LedgerSeed is one persisted time ledger entry.
type LedgerSeed struct {
	// Unit is "module/type" or "module/type:code".
	Unit    string `yaml:"unit"`
	Pending int64  `yaml:"pending"`
}

// ServerSeed is the remote state for the scenario user.
type ServerSeed struct {
	// Lessons maps a module slug to its completed lesson ids.
	Lessons map[string][]string `yaml:"lessons,omitempty"`
	// Quizzes maps a quiz code to its recorded status.
	Quizzes map[string]QuizSeed `yaml:"quizzes,omitempty"`
}

// QuizSeed is a recorded quiz status.
type QuizSeed struct {
	Passed bool `yaml:"passed"`
	Score  int  `yaml:"score"`
	Total  int  `yaml:"total"`
}

// FailSeed makes remote calls of one operation fail.
type FailSeed struct {
	Op string `yaml:"op"`
	// Times fails the next n calls. Ignored when Down is set.
	Times int `yaml:"times,omitempty"`
	// Down fails every call until a later step sets it back.
	Down *bool `yaml:"down,omitempty"`
}

// Step is one operation of the flow.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	Module string `yaml:"module,omitempty"`
	Lesson string `yaml:"lesson,omitempty"`
	// Unit is a unit type for complete_unit, or "module/type[:code]" for
	// the time operations.
	Unit string `yaml:"unit,omitempty"`
	Quiz string `yaml:"quiz,omitempty"`
	// Answers are zero-based option indices, applied from question one.
	Answers []int `yaml:"answers,omitempty"`
	// Count is the number of ticks.
	Count int `yaml:"count,omitempty"`
	// Duration is how far advance moves the clock.
	Duration string `yaml:"duration,omitempty"`
	// Periodic makes flush honor the flush period instead of forcing.
	Periodic bool `yaml:"periodic,omitempty"`
	// User is the learner reopen switches to.
	User string `yaml:"user,omitempty"`
	// Fail is the injection applied by the fail operation.
	Fail *FailSeed `yaml:"fail,omitempty"`

	// Expect validates the operation's outcome. Nil expects success.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of one step.
// Only the fields that are set are validated.
type Expect struct {
	// Error is a substring of the expected error. Empty expects success.
	Error   string `yaml:"error,omitempty"`
	Added   *bool  `yaml:"added,omitempty"`
	Passed  *bool  `yaml:"passed,omitempty"`
	Score   *int   `yaml:"score,omitempty"`
	State   string `yaml:"state,omitempty"`
	Pending *int64 `yaml:"pending,omitempty"`
	Sent    *bool  `yaml:"sent,omitempty"`
}

// Operations a flow step can run.
const (
	OpCompleteLesson = "complete_lesson"
	OpCompleteUnit   = "complete_unit"
	OpAnswer         = "answer"
	OpSubmit         = "submit"
	OpReview         = "review"
	OpRetry          = "retry"
	OpReset          = "reset"
	OpRefresh        = "refresh"
	OpTick           = "tick"
	OpHide           = "hide"
	OpShow           = "show"
	OpFlush          = "flush"
	OpAdvance        = "advance"
	OpFail           = "fail"
	OpClose          = "close"
	OpReopen         = "reopen"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "event_count": event Kind was published exactly Count times
	// - "event_order": Kinds were published in this order
	// - "remote_calls": remote Op was called Count times (for Module, if set)
	// - "cache_key": durable Key holds Value, or is Absent
	// - "progress": final summary of Module matches Percent/Lessons/Quizzes
	Type string `yaml:"type"`

	Kind   string   `yaml:"kind,omitempty"`
	Kinds  []string `yaml:"kinds,omitempty"`
	Op     string   `yaml:"op,omitempty"`
	Module string   `yaml:"module,omitempty"`
	Count  int      `yaml:"count,omitempty"`

	Key    string  `yaml:"key,omitempty"`
	Value  *string `yaml:"value,omitempty"`
	Absent bool    `yaml:"absent,omitempty"`

	Percent *int `yaml:"percent,omitempty"`
	Lessons *int `yaml:"lessons,omitempty"`
	Quizzes *int `yaml:"quizzes,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount  = "event_count"
	AssertEventOrder  = "event_order"
	AssertRemoteCalls = "remote_calls"
	AssertCacheKey    = "cache_key"
	AssertProgress    = "progress"
)

// tracedKinds are the bus events a trace records. Storage notifications
// and realtime ticks are left out.
var tracedKinds = []bus.Kind{
	bus.KindUnitUpdated,
	bus.KindQuizPassed,
	bus.KindTimeUpdated,
	bus.KindProgressMigrated,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, "")
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the catalog path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Catalog != "" && !filepath.IsAbs(scenario.Catalog) && basePath != "" {
		scenario.Catalog = filepath.Join(basePath, scenario.Catalog)
	}
	if scenario.Catalog != "" {
		if _, err := os.Stat(scenario.Catalog); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: catalog not found: %s", scenario.Catalog)
		}
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, l := range s.Setup.Ledgers {
		if _, err := parseUnit(l.Unit); err != nil {
			return fmt.Errorf("setup.ledgers[%d]: %w", i, err)
		}
		if l.Pending <= 0 {
			return fmt.Errorf("setup.ledgers[%d]: pending must be positive", i)
		}
	}
	for i, f := range s.Setup.Fail {
		if f.Op == "" {
			return fmt.Errorf("setup.fail[%d]: op is required", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	require := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s is required for %s", field, step.Op)
		}
		return nil
	}

	switch step.Op {
	case "":
		return fmt.Errorf("op is required")
	case OpCompleteLesson:
		if err := require("module", step.Module); err != nil {
			return err
		}
		return require("lesson", step.Lesson)
	case OpCompleteUnit:
		if err := require("module", step.Module); err != nil {
			return err
		}
		return require("unit", step.Unit)
	case OpAnswer:
		if len(step.Answers) == 0 {
			return fmt.Errorf("answers are required for answer")
		}
		return require("quiz", step.Quiz)
	case OpSubmit, OpReview, OpRetry, OpReset:
		return require("quiz", step.Quiz)
	case OpTick, OpHide, OpShow, OpFlush:
		if _, err := parseUnit(step.Unit); err != nil {
			return err
		}
		if step.Op == OpTick && step.Count <= 0 {
			return fmt.Errorf("count must be positive for tick")
		}
	case OpAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return fmt.Errorf("invalid duration for advance: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("duration must be positive for advance")
		}
	case OpFail:
		if step.Fail == nil || step.Fail.Op == "" {
			return fmt.Errorf("fail.op is required for fail")
		}
	case OpRefresh, OpClose, OpReopen:
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertEventOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for event_order", index)
		}
	case AssertRemoteCalls:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for remote_calls", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for remote_calls", index)
		}
	case AssertCacheKey:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for cache_key", index)
		}
		if (a.Value == nil) == !a.Absent {
			return fmt.Errorf("assertions[%d]: exactly one of value or absent is required for cache_key", index)
		}
	case AssertProgress:
		if a.Module == "" {
			return fmt.Errorf("assertions[%d]: module is required for progress", index)
		}
		if a.Percent == nil && a.Lessons == nil && a.Quizzes == nil {
			return fmt.Errorf("assertions[%d]: one of percent, lessons or quizzes is required for progress", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
