package model

import "fmt"

// Track groups modules that share quiz storage and detection technique.
type Track string

const (
	TrackSignature Track = "signature"
	TrackAnomaly   Track = "anomaly"
	TrackHybrid    Track = "hybrid"
)

// ValidTracks lists the known tracks.
var ValidTracks = []Track{TrackSignature, TrackAnomaly, TrackHybrid}

// ParseTrack validates a track name. Empty input selects the signature track.
func ParseTrack(s string) (Track, error) {
	if s == "" {
		return TrackSignature, nil
	}
	for _, t := range ValidTracks {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid track %q: must be one of %v", s, ValidTracks)
}

// QuizPrefix is the storage prefix for quiz facts on this track.
func (t Track) QuizPrefix() string {
	switch t {
	case TrackAnomaly:
		return "anomalyQuiz"
	case TrackHybrid:
		return "hybridQuiz"
	default:
		return "signatureQuiz"
	}
}

// ParentModule is the module slug that quizzes on this track report to.
func (t Track) ParentModule() string {
	switch t {
	case TrackAnomaly:
		return "anomaly-based-detection"
	case TrackHybrid:
		return "hybrid-detection"
	default:
		return "signature-based-detection"
	}
}

// Oldest reports whether the track predates per-user namespacing and so
// still has pre-namespace keys in the wild.
func (t Track) Oldest() bool {
	return t == TrackSignature || t == ""
}
