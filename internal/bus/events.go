package bus

import "github.com/roach88/progsync/internal/model"

// Kind names one category of event.
type Kind string

const (
	// KindUnitUpdated fires when a unit's completion state changes.
	KindUnitUpdated Kind = "unit.updated"
	// KindQuizPassed fires on a passing quiz submission.
	KindQuizPassed Kind = "quiz.passed"
	// KindStorageChanged fires when a durable key is written by migration or
	// by a component, so observers can recompute without polling.
	KindStorageChanged Kind = "storage.changed"
	// KindTimeUpdated fires after an acknowledged time flush.
	KindTimeUpdated Kind = "time.updated"
	// KindTimeTick is the once-per-second UI-only realtime event.
	KindTimeTick Kind = "time.tick"
	// KindProgressMigrated fires once the namespace sweep has run for a user.
	KindProgressMigrated Kind = "progress.migrated"
)

// Payload is an immutable event record.
type Payload interface {
	Kind() Kind
}

// UnitUpdated carries the module (and quiz, for quiz units) that changed.
type UnitUpdated struct {
	Module   string         `json:"module"`
	Quiz     string         `json:"quiz,omitempty"`
	UnitType model.UnitType `json:"unit_type,omitempty"`
	UnitCode string         `json:"unit_code,omitempty"`
}

func (UnitUpdated) Kind() Kind { return KindUnitUpdated }

// QuizPassed carries the passing score.
type QuizPassed struct {
	Module string `json:"module"`
	Quiz   string `json:"quiz"`
	Score  int    `json:"score"`
	Total  int    `json:"total"`
}

func (QuizPassed) Kind() Kind { return KindQuizPassed }

// StorageChanged carries the durable key that was written.
type StorageChanged struct {
	Key      string `json:"key"`
	Migrated bool   `json:"migrated,omitempty"`
}

func (StorageChanged) Kind() Kind { return KindStorageChanged }

// TimeUpdated carries the server-reported total for a module.
type TimeUpdated struct {
	Module       string `json:"module"`
	TotalSeconds int64  `json:"total_seconds"`
}

func (TimeUpdated) Kind() Kind { return KindTimeUpdated }

// TimeTick carries seconds of visible time since the last acknowledged flush.
type TimeTick struct {
	Module  string `json:"module"`
	Elapsed int64  `json:"elapsed"`
}

func (TimeTick) Kind() Kind { return KindTimeTick }

// ProgressMigrated carries the identity whose shared state was swept.
type ProgressMigrated struct {
	User    model.UserID `json:"user"`
	Adopted int          `json:"adopted"`
	Purged  int          `json:"purged"`
}

func (ProgressMigrated) Kind() Kind { return KindProgressMigrated }
