package keys

import (
	"fmt"
	"strings"

	"github.com/roach88/progsync/internal/model"
)

// SchemaVersion identifies one historical key shape.
type SchemaVersion int

const (
	// SchemaPreNamespace is the family-specific key used before prefixes existed.
	SchemaPreNamespace SchemaVersion = iota
	// SchemaAnonymous is prefix:slug:suffix, shared by every identity.
	SchemaAnonymous
	// SchemaUserSuffixed is prefix:slug:suffix:u<id>, the first per-user shape.
	SchemaUserSuffixed
	// SchemaCanonical is prefix:slug:u<id>:suffix.
	SchemaCanonical
)

// String returns the metric/log label of the version.
func (v SchemaVersion) String() string {
	switch v {
	case SchemaPreNamespace:
		return "pre_namespace"
	case SchemaAnonymous:
		return "anonymous"
	case SchemaUserSuffixed:
		return "user_suffixed"
	case SchemaCanonical:
		return "canonical"
	default:
		return fmt.Sprintf("schema(%d)", int(v))
	}
}

// Shared reports whether keys of this shape are visible to every identity.
func (v SchemaVersion) Shared() bool {
	return v == SchemaPreNamespace || v == SchemaAnonymous
}

// Quiz fact suffixes.
const (
	SuffixPassed      = "passed"
	SuffixAnswers     = "answers"
	SuffixScore       = "score"
	SuffixDraft       = "answersDraft"
	SuffixAttempts    = "attempts"
	SuffixFirstPass   = "firstPassSuccess"
	SuffixLastAttempt = "lastAttemptTime"
	SuffixAttemptID   = "attemptId"
	SuffixAcked       = "serverAcked"
)

// Module fact suffixes.
const (
	SuffixCompletedLessons = "completed-lesson-ids"
	SuffixOverview         = "overview-completed"
	SuffixPractical        = "practical-completed"
	SuffixAssessment       = "assessment-completed"
	SuffixQuizzesPassed    = "quizzes-passed"
	SuffixModuleQuizPassed = "module-quiz-passed"
	SuffixLessonTotal      = "lesson-total"
	SuffixQuizTotal        = "quiz-total"
)

// ModulePrefix is the prefix of every module-level fact.
const ModulePrefix = "module"

// Fact is one logical piece of learner state.
type Fact struct {
	Prefix string
	Slug   string
	Suffix string
	// Legacy is the pre-namespace key, if this fact ever had one.
	Legacy string
}

// QuizFact names a per-quiz fact on a track. The signature track is the
// oldest module family, so its pass flag also has a pre-namespace key.
func QuizFact(track model.Track, quizCode, suffix string) Fact {
	f := Fact{Prefix: track.QuizPrefix(), Slug: quizCode, Suffix: suffix}
	if track.Oldest() && suffix == SuffixPassed {
		f.Legacy = quizCode + "-module-quiz-passed"
	}
	return f
}

// ModuleFact names a per-module fact.
func ModuleFact(moduleSlug, suffix string) Fact {
	f := Fact{Prefix: ModulePrefix, Slug: moduleSlug, Suffix: suffix}
	if suffix == SuffixCompletedLessons {
		f.Legacy = moduleSlug + "-completed-lessons"
	}
	return f
}

// UnitSuffix maps a flag-style unit type to its module fact suffix.
func UnitSuffix(t model.UnitType) (string, bool) {
	switch t {
	case model.UnitOverview:
		return SuffixOverview, true
	case model.UnitPractical:
		return SuffixPractical, true
	case model.UnitAssessment:
		return SuffixAssessment, true
	default:
		return "", false
	}
}

// String formats the fact without identity for logs.
func (f Fact) String() string {
	return f.Prefix + ":" + f.Slug + ":" + f.Suffix
}

// Key returns the key of this fact in shape v for user. ok is false when
// the shape does not exist for this fact or identity.
func (f Fact) Key(v SchemaVersion, user model.UserID) (key string, ok bool) {
	switch v {
	case SchemaPreNamespace:
		return f.Legacy, f.Legacy != ""
	case SchemaAnonymous:
		return join(f.Prefix, f.Slug, f.Suffix), true
	case SchemaUserSuffixed:
		if user.IsAnonymous() {
			return "", false
		}
		return join(f.Prefix, f.Slug, f.Suffix, userSegment(user)), true
	case SchemaCanonical:
		if user.IsAnonymous() {
			return join(f.Prefix, f.Slug, f.Suffix), true
		}
		return join(f.Prefix, f.Slug, userSegment(user), f.Suffix), true
	default:
		return "", false
	}
}

// Canonical returns the canonical key for user.
func (f Fact) Canonical(user model.UserID) string {
	k, _ := f.Key(SchemaCanonical, user)
	return k
}

// readChain is the ordered fallback chain for reads.
var readChain = []SchemaVersion{SchemaCanonical, SchemaUserSuffixed, SchemaAnonymous, SchemaPreNamespace}

func userSegment(user model.UserID) string {
	return "u" + strings.TrimSpace(string(user))
}

func join(parts ...string) string {
	return strings.Join(parts, ":")
}
