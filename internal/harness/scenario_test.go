package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "Complete one lesson"
user: "42"
flow:
  - op: complete_lesson
    module: signature-based-detection
    lesson: intro
assertions:
  - type: remote_calls
    op: mark_lesson
    count: 1
`

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Equal(t, "42", scenario.User)
	require.Len(t, scenario.Flow, 1)
	assert.Equal(t, OpCompleteLesson, scenario.Flow[0].Op)
	assert.Equal(t, "intro", scenario.Flow[0].Lesson)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, 1, scenario.Assertions[0].Count)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_TestdataFiles(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		_, err := LoadScenario(path)
		assert.NoError(t, err, path)
	}
}

func TestLoadScenarioWithBasePath_ResolvesCatalog(t *testing.T) {
	dir := t.TempDir()
	catalogDir := filepath.Join(dir, "catalog")
	require.NoError(t, os.MkdirAll(catalogDir, 0755))
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("catalog: catalog\n"+minimalScenario), 0644))

	scenario, err := LoadScenarioWithBasePath(path, dir)
	require.NoError(t, err)
	assert.Equal(t, catalogDir, scenario.Catalog)

	_, err = LoadScenarioWithBasePath(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog not found")
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte("assertion: []\n" + minimalScenario))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nflow: [{op: refresh}]\nassertions: [{type: event_count, kind: quiz.passed}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nflow: [{op: refresh}]\nassertions: [{type: event_count, kind: quiz.passed}]",
			wantErr: "description is required",
		},
		{
			name:    "empty flow",
			yaml:    "name: n\ndescription: d\nassertions: [{type: event_count, kind: quiz.passed}]",
			wantErr: "flow list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: n\ndescription: d\nflow: [{op: refresh}]",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown op",
			yaml:    "name: n\ndescription: d\nflow: [{op: dance}]\nassertions: [{type: event_count, kind: quiz.passed}]",
			wantErr: `unknown op "dance"`,
		},
		{
			name:    "lesson without module",
			yaml:    "name: n\ndescription: d\nflow: [{op: complete_lesson, lesson: intro}]\nassertions: [{type: event_count, kind: quiz.passed}]",
			wantErr: "module is required for complete_lesson",
		},
		{
			name:    "answer without answers",
			yaml:    "name: n\ndescription: d\nflow: [{op: answer, quiz: q}]\nassertions: [{type: event_count, kind: quiz.passed}]",
			wantErr: "answers are required",
		},
		{
			name:    "tick without count",
			yaml:    "name: n\ndescription: d\nflow: [{op: tick, unit: m/overview}]\nassertions: [{type: event_count, kind: quiz.passed}]",
			wantErr: "count must be positive",
		},
		{
			name:    "bad unit",
			yaml:    "name: n\ndescription: d\nflow: [{op: flush, unit: overview}]\nassertions: [{type: event_count, kind: quiz.passed}]",
			wantErr: "want module/type",
		},
		{
			name:    "bad duration",
			yaml:    "name: n\ndescription: d\nflow: [{op: advance, duration: soon}]\nassertions: [{type: event_count, kind: quiz.passed}]",
			wantErr: "invalid duration",
		},
		{
			name:    "fail without op",
			yaml:    "name: n\ndescription: d\nflow: [{op: fail}]\nassertions: [{type: event_count, kind: quiz.passed}]",
			wantErr: "fail.op is required",
		},
		{
			name:    "non-positive ledger",
			yaml:    "name: n\ndescription: d\nsetup: {ledgers: [{unit: m/overview, pending: 0}]}\nflow: [{op: refresh}]\nassertions: [{type: event_count, kind: quiz.passed}]",
			wantErr: "pending must be positive",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nflow: [{op: refresh}]\nassertions: [{type: vibes}]",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "cache key needs value or absent",
			yaml:    "name: n\ndescription: d\nflow: [{op: refresh}]\nassertions: [{type: cache_key, key: k}]",
			wantErr: "exactly one of value or absent",
		},
		{
			name:    "cache key with both",
			yaml:    "name: n\ndescription: d\nflow: [{op: refresh}]\nassertions: [{type: cache_key, key: k, value: v, absent: true}]",
			wantErr: "exactly one of value or absent",
		},
		{
			name:    "progress without expectation",
			yaml:    "name: n\ndescription: d\nflow: [{op: refresh}]\nassertions: [{type: progress, module: m}]",
			wantErr: "one of percent, lessons or quizzes",
		},
		{
			name:    "event order without kinds",
			yaml:    "name: n\ndescription: d\nflow: [{op: refresh}]\nassertions: [{type: event_order}]",
			wantErr: "kinds list is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseUnit(t *testing.T) {
	unit, err := parseUnit("signature-based-detection/lesson:intro")
	require.NoError(t, err)
	assert.Equal(t, "signature-based-detection", unit.ModuleSlug)
	assert.Equal(t, "intro", unit.Code)

	unit, err = parseUnit("signature-based-detection/overview")
	require.NoError(t, err)
	assert.Empty(t, unit.Code)

	_, err = parseUnit("signature-based-detection/recess")
	require.Error(t, err)
}
