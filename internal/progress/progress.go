// Package progress computes a learner's module summary from the local cache.
package progress

import (
	"context"
	"math"

	"github.com/roach88/progsync/internal/catalog"
	"github.com/roach88/progsync/internal/keys"
	"github.com/roach88/progsync/internal/model"
)

// LessonCounter reports completed lessons. *completion.Tracker implements it.
type LessonCounter interface {
	Count(ctx context.Context) int
}

// Summary is the progress of one module.
type Summary struct {
	Module        string   `json:"module"`
	Title         string   `json:"title"`
	Overview      bool     `json:"overview"`
	LessonsDone   int      `json:"lessons_done"`
	LessonsTotal  int      `json:"lessons_total"`
	QuizzesPassed int      `json:"quizzes_passed"`
	QuizzesTotal  int      `json:"quizzes_total"`
	Practical     bool     `json:"practical"`
	Assessment    bool     `json:"assessment"`
	Percent       int      `json:"percent"`
	PassedQuizIDs []string `json:"passed_quiz_ids,omitempty"`
}

// Compute builds the summary for module. The lesson and quiz totals are
// written back under module facts so readers without the catalog agree.
func Compute(ctx context.Context, res *keys.Resolver, user model.UserID, m *catalog.Module, lessons LessonCounter) Summary {
	s := Summary{
		Module:       m.Slug,
		Title:        m.Title,
		LessonsTotal: len(m.Lessons),
		QuizzesTotal: len(m.Quizzes),
	}
	s.Overview = res.ReadBool(ctx, keys.ModuleFact(m.Slug, keys.SuffixOverview), user)
	s.Practical = m.Practical && res.ReadBool(ctx, keys.ModuleFact(m.Slug, keys.SuffixPractical), user)
	// The assessment only counts once the practical is done.
	s.Assessment = m.Assessment && (s.Practical || !m.Practical) &&
		res.ReadBool(ctx, keys.ModuleFact(m.Slug, keys.SuffixAssessment), user)

	if lessons != nil {
		s.LessonsDone = lessons.Count(ctx)
	}
	if s.LessonsDone > s.LessonsTotal {
		s.LessonsDone = s.LessonsTotal
	}

	for _, code := range res.ReadSet(ctx, keys.ModuleFact(m.Slug, keys.SuffixQuizzesPassed), user) {
		if _, ok := m.Quiz(code); ok {
			s.PassedQuizIDs = append(s.PassedQuizIDs, code)
		}
	}
	s.QuizzesPassed = len(s.PassedQuizIDs)

	s.Percent = Percent(s, m)

	if res.ReadInt(ctx, keys.ModuleFact(m.Slug, keys.SuffixLessonTotal), user) != s.LessonsTotal {
		_ = res.WriteInt(ctx, keys.ModuleFact(m.Slug, keys.SuffixLessonTotal), user, s.LessonsTotal)
	}
	if res.ReadInt(ctx, keys.ModuleFact(m.Slug, keys.SuffixQuizTotal), user) != s.QuizzesTotal {
		_ = res.WriteInt(ctx, keys.ModuleFact(m.Slug, keys.SuffixQuizTotal), user, s.QuizzesTotal)
	}
	return s
}

// Percent is round(100 * done / units), capped at 100. Units are the
// overview, each lesson, each quiz, and the practical and assessment when
// the module has them.
func Percent(s Summary, m *catalog.Module) int {
	units := 1 + s.LessonsTotal + s.QuizzesTotal
	done := s.LessonsDone + s.QuizzesPassed
	if s.Overview {
		done++
	}
	if m.Practical {
		units++
		if s.Practical {
			done++
		}
	}
	if m.Assessment {
		units++
		if s.Assessment {
			done++
		}
	}
	p := int(math.Round(100 * float64(done) / float64(units)))
	if p > 100 {
		return 100
	}
	return p
}
