package model

import (
	"fmt"
	"strings"
	"time"
)

// UserID identifies a learner. The zero value is the anonymous learner.
type UserID string

// Anonymous is the identity used before a learner signs in.
const Anonymous UserID = ""

// IsAnonymous reports whether the identity is absent.
func (u UserID) IsAnonymous() bool {
	return strings.TrimSpace(string(u)) == ""
}

// String returns the raw identity, or "anonymous".
func (u UserID) String() string {
	if u.IsAnonymous() {
		return "anonymous"
	}
	return string(u)
}

// UnitType classifies one trackable piece of content.
type UnitType string

const (
	UnitOverview   UnitType = "overview"
	UnitLesson     UnitType = "lesson"
	UnitQuiz       UnitType = "quiz"
	UnitPractical  UnitType = "practical"
	UnitAssessment UnitType = "assessment"
)

// ValidUnitTypes defines allowed unit types.
var ValidUnitTypes = map[UnitType]bool{
	UnitOverview:   true,
	UnitLesson:     true,
	UnitQuiz:       true,
	UnitPractical:  true,
	UnitAssessment: true,
}

// ParseUnitType validates a unit type string.
func ParseUnitType(s string) (UnitType, error) {
	t := UnitType(strings.ToLower(strings.TrimSpace(s)))
	if !ValidUnitTypes[t] {
		return "", fmt.Errorf("invalid unit type %q: must be one of overview, lesson, quiz, practical, assessment", s)
	}
	return t, nil
}

// Unit identifies one trackable piece of content within a module.
type Unit struct {
	ModuleSlug string   `json:"module_slug"`
	Type       UnitType `json:"unit_type"`
	Code       string   `json:"unit_code,omitempty"`
}

// String formats the unit as module/type[:code].
func (u Unit) String() string {
	if u.Code == "" {
		return u.ModuleSlug + "/" + string(u.Type)
	}
	return u.ModuleSlug + "/" + string(u.Type) + ":" + u.Code
}

// Validate checks the unit has a module and a known type.
func (u Unit) Validate() error {
	if u.ModuleSlug == "" {
		return fmt.Errorf("unit: module slug is required")
	}
	if !ValidUnitTypes[u.Type] {
		return fmt.Errorf("unit: invalid unit type %q", u.Type)
	}
	return nil
}

// QuizAttempt is the persisted record of one learner's attempts at one quiz.
// Answers hold the chosen option index per question; nil means unanswered.
type QuizAttempt struct {
	AttemptID     string     `json:"attempt_id,omitempty"`
	Answers       []*int     `json:"answers"`
	Submitted     bool       `json:"submitted"`
	Score         int        `json:"score"`
	Total         int        `json:"total"`
	Passed        bool       `json:"passed"`
	Attempts      int        `json:"attempts"`
	FirstPass     bool       `json:"first_pass"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

// PassThreshold is the minimum score ratio for a passing attempt.
const PassThreshold = 0.80

// IsPassing reports whether score out of total meets the pass threshold.
// Integer comparison avoids float rounding at the boundary (4/5 passes).
func IsPassing(score, total int) bool {
	if total <= 0 {
		return false
	}
	return score*100 >= total*80
}

// Answered counts the questions that have a chosen option.
func (a QuizAttempt) Answered() int {
	n := 0
	for _, ans := range a.Answers {
		if ans != nil {
			n++
		}
	}
	return n
}

// Complete reports whether every question has an answer.
func (a QuizAttempt) Complete() bool {
	return len(a.Answers) > 0 && a.Answered() == len(a.Answers)
}

// Clone returns a deep copy safe to hand to observers.
func (a QuizAttempt) Clone() QuizAttempt {
	out := a
	out.Answers = CloneAnswers(a.Answers)
	if a.LastAttemptAt != nil {
		t := *a.LastAttemptAt
		out.LastAttemptAt = &t
	}
	return out
}

// CloneAnswers copies an answer slice including the pointed-to values.
func CloneAnswers(in []*int) []*int {
	if in == nil {
		return nil
	}
	out := make([]*int, len(in))
	for i, v := range in {
		if v != nil {
			c := *v
			out[i] = &c
		}
	}
	return out
}

// EmptyAnswers returns n unanswered slots.
func EmptyAnswers(n int) []*int {
	return make([]*int, n)
}

// Choice returns a pointer to the given option index.
func Choice(i int) *int {
	return &i
}
