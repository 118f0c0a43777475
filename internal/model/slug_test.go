package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Signature Based Detection", "signature-based-detection"},
		{"  --Hello, World!--  ", "hello-world"},
		{"Détection d'anomalies", "detection-d-anomalies"},
		{"IDS 101", "ids-101"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), "Slugify(%q)", tt.in)
	}
}

func TestLessonID(t *testing.T) {
	assert.Equal(t, "sig-1", LessonID("sig-1", "Intro", 0))
	assert.Equal(t, "what-is-a-signature", LessonID("", "What is a signature?", 2))
	assert.Equal(t, "lesson-3", LessonID("", "", 3))
}
