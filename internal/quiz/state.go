// Package quiz implements the quiz attempt state machine.
//
//	Unanswered -> Answering -> (Submit) -> Passed | Failed -> Reviewing
//	Failed | Reviewing(failed) -> (TryAgain) -> Answering
//	any -> (Reset) -> Unanswered
//
// A passed attempt is locked: it can be reviewed but never overwritten,
// except through an explicit Reset.
package quiz

import (
	"errors"

	"github.com/google/uuid"
)

// State is the learner-visible state of a quiz.
type State int

const (
	Unanswered State = iota
	Answering
	Passed
	Failed
	Reviewing
)

func (s State) String() string {
	switch s {
	case Unanswered:
		return "unanswered"
	case Answering:
		return "answering"
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case Reviewing:
		return "reviewing"
	default:
		return "unknown"
	}
}

var (
	// ErrIncomplete is returned by Submit when any question is unanswered.
	ErrIncomplete = errors.New("quiz: every question must be answered before submitting")
	// ErrLocked is returned when a passed attempt would be modified.
	ErrLocked = errors.New("quiz: attempt is passed and locked; reset to retake")
	// ErrSubmitted is returned when answering a failed attempt without TryAgain.
	ErrSubmitted = errors.New("quiz: attempt already submitted; try again first")
	// ErrQuestionRange is returned for an out-of-range question index.
	ErrQuestionRange = errors.New("quiz: question index out of range")
	// ErrChoiceRange is returned for an out-of-range option index.
	ErrChoiceRange = errors.New("quiz: option index out of range")
	// ErrNotFailed is returned by TryAgain when there is no failed attempt.
	ErrNotFailed = errors.New("quiz: no failed attempt to retry")
	// ErrNotSubmitted is returned by Review before any submission.
	ErrNotSubmitted = errors.New("quiz: nothing submitted to review")
)

// IDGenerator creates attempt ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable attempt ids.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Result is the outcome of one submission.
type Result struct {
	Score  int  `json:"score"`
	Total  int  `json:"total"`
	Passed bool `json:"passed"`
}
