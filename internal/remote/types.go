package remote

import (
	"context"

	"github.com/roach88/progsync/internal/model"
)

// Service is the Remote Progress Service as seen by the engine.
type Service interface {
	// CompletedLessons lists the lesson ids the server knows are complete.
	CompletedLessons(ctx context.Context, user model.UserID, module string) ([]string, error)
	// MarkLessonComplete records one lesson completion.
	MarkLessonComplete(ctx context.Context, user model.UserID, module, lessonID string) error
	// RecordUnit records a unit completion (overview, quiz, practical, assessment).
	RecordUnit(ctx context.Context, user model.UserID, rec UnitRecord) error
	// RecordTime sends a time delta and returns the server total for the module.
	RecordTime(ctx context.Context, user model.UserID, ev TimeEvent) (int64, error)
	// QuizStatus returns the server's view of a quiz.
	QuizStatus(ctx context.Context, user model.UserID, quiz string) (QuizStatus, error)
	// SubmitQuiz records a quiz submission.
	SubmitQuiz(ctx context.Context, user model.UserID, res QuizResult) error
}

// UnitRecord is the body of POST /module/{slug}/unit.
type UnitRecord struct {
	Module          string         `json:"-"`
	UnitType        model.UnitType `json:"unit_type"`
	UnitCode        string         `json:"unit_code"`
	Completed       bool           `json:"completed"`
	DurationSeconds int64          `json:"duration_seconds"`
}

// TimeEvent is the body of POST /module/{slug}/time_event.
type TimeEvent struct {
	Module       string         `json:"-"`
	UnitType     model.UnitType `json:"unit_type"`
	UnitCode     string         `json:"unit_code"`
	DeltaSeconds int64          `json:"delta_seconds"`
}

// QuizStatus is the response of GET /module/{slug}/quiz.
type QuizStatus struct {
	Passed bool `json:"passed"`
	Score  int  `json:"score"`
	Total  int  `json:"total"`
}

// QuizResult is the body of POST /module/{slug}/quiz.
type QuizResult struct {
	StudentID  string `json:"student_id"`
	ModuleName string `json:"module_name"`
	Passed     bool   `json:"passed"`
	Score      int    `json:"score"`
	Total      int    `json:"total"`
}

type completedLessonsResponse struct {
	LessonIDs []string `json:"lesson_ids"`
}

type lessonCompleteRequest struct {
	Completed bool `json:"completed"`
}

type timeEventResponse struct {
	TotalTimeSpent int64 `json:"total_time_spent"`
}
