package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/progsync/internal/model"
)

func requireLoadError(t *testing.T, errs []error, code string) {
	t.Helper()
	for _, err := range errs {
		var le *LoadError
		if errors.As(err, &le) && le.Code == code {
			return
		}
	}
	t.Fatalf("no %s error in %v", code, errs)
}

func TestDefault(t *testing.T) {
	c := Default()
	mods := c.Modules()
	require.Len(t, mods, 3)

	m, ok := c.Module("signature-based-detection")
	require.True(t, ok)
	assert.Equal(t, model.TrackSignature, m.Track)
	assert.True(t, m.Practical)

	owner, q, ok := c.Quiz("anomaly-module-1")
	require.True(t, ok)
	assert.Equal(t, "anomaly-based-detection", owner.Slug)
	assert.Len(t, q.Questions, 2)
}

func TestDefault_ParentModulesMatchTracks(t *testing.T) {
	for _, m := range Default().Modules() {
		assert.Equal(t, m.Track.ParentModule(), m.Slug)
	}
}

func TestLoad_Directory(t *testing.T) {
	c, errs := Load("testdata/valid", LoadModeCollectAll)
	require.Empty(t, errs)

	m, ok := c.Module("m")
	require.True(t, ok)
	assert.Equal(t, model.TrackSignature, m.Track, "track defaults to signature")
	assert.Equal(t, []string{"intro", "writing-rules", "lesson-2"}, m.LessonIDs())

	n, ok := c.Module("n")
	require.True(t, ok)
	assert.Equal(t, model.TrackAnomaly, n.Track)
	assert.False(t, n.Practical)
	assert.Empty(t, n.Lessons)
}

func TestNormalizeLessonID(t *testing.T) {
	c, errs := Load("testdata/valid", LoadModeCollectAll)
	require.Empty(t, errs)
	m, _ := c.Module("m")

	assert.Equal(t, "intro", m.NormalizeLessonID("getting-started"), "title slug maps to explicit id")
	assert.Equal(t, "intro", m.NormalizeLessonID("intro"))
	assert.Equal(t, "unknown", m.NormalizeLessonID("unknown"))
	assert.True(t, m.HasLesson("writing-rules"))
	assert.False(t, m.HasLesson("getting-started"))
}

func TestLoad_ValidationErrors(t *testing.T) {
	_, errs := Load("testdata/invalid", LoadModeCollectAll)
	require.Len(t, errs, 2)
	requireLoadError(t, errs, ErrCodeDuplicate)
	requireLoadError(t, errs, ErrCodeAnswerRange)

	_, errs = Load("testdata/invalid", LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, errs := Load("testdata/nope", LoadModeCollectAll)
	requireLoadError(t, errs, ErrCodeNotFound)
}

func TestLoad_EmptyDirectory(t *testing.T) {
	_, errs := Load(t.TempDir(), LoadModeCollectAll)
	requireLoadError(t, errs, ErrCodeNoFiles)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"syntax", `module: {`, ErrCodeLoadFailed},
		{"unknown field", `module: m: {title: "x", color: "red"}`, ErrCodeBuildFailed},
		{"bad track", `module: m: {title: "x", track: "heuristic"}`, ErrCodeBuildFailed},
		{"one option", `module: m: {title: "x", quizzes: [{code: "q", questions: [{prompt: "p", options: ["a"], answer: 0}]}]}`, ErrCodeBuildFailed},
		{"no questions", `module: m: {title: "x", quizzes: [{code: "q", questions: []}]}`, ErrCodeBuildFailed},
		{"no modules", `other: 1`, ErrCodeNoModules},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := Parse("test.cue", []byte(tt.src))
			require.NotEmpty(t, errs)
			requireLoadError(t, errs, tt.code)
		})
	}
}

func TestParse_DuplicateQuizCodeOnTrack(t *testing.T) {
	src := `
module: a: {title: "A", quizzes: [{code: "q", questions: [{prompt: "p", options: ["x", "y"], answer: 0}]}]}
module: b: {title: "B", quizzes: [{code: "q", questions: [{prompt: "p", options: ["x", "y"], answer: 0}]}]}
`
	_, errs := Parse("dup.cue", []byte(src))
	requireLoadError(t, errs, ErrCodeDuplicate)
}

func TestLoadError_Format(t *testing.T) {
	err := &LoadError{Code: ErrCodeGeneric, Message: "boom"}
	assert.Equal(t, "E001: boom", err.Error())
}
