package model

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single hyphen. Accented letters are folded to their base
// letter first so "Détection" and "Detection" share a slug.
func Slugify(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	pendingHyphen := false
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// LessonID derives the stable identifier of a lesson: its explicit id, the
// slug of its title, or lesson-<index> as the last resort.
func LessonID(id, title string, index int) string {
	if strings.TrimSpace(id) != "" {
		return id
	}
	if s := Slugify(title); s != "" {
		return s
	}
	return "lesson-" + strconv.Itoa(index)
}
