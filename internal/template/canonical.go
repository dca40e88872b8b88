package template

import (
	"regexp"
	"strings"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// canonicalMarker matches the {{answer}} convention used in model answers.
var canonicalMarker = regexp.MustCompile(`\{\{(.+?)\}\}`)

// ExtractCanonical derives the authoritative blank set from a question's
// answer text. Blanks are numbered B1..Bn in order of appearance unless the
// marker carries an explicit "id:answer" prefix.
func ExtractCanonical(answerText string) []domain.CanonicalBlank {
	matches := canonicalMarker.FindAllStringSubmatch(answerText, -1)
	if len(matches) == 0 {
		return []domain.CanonicalBlank{}
	}

	out := make([]domain.CanonicalBlank, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for i, m := range matches {
		inner := strings.TrimSpace(m[1])
		c := domain.CanonicalBlank{ID: ordinalID(i + 1), Answer: inner}
		if e := explicitIDPrefix.FindStringSubmatch(inner); e != nil {
			c = domain.CanonicalBlank{ID: e[1], Answer: strings.TrimSpace(e[2])}
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// StripMarkers returns the answer text with blank markers replaced by their
// answers, suitable for showing the model answer to the learner or the grader.
func StripMarkers(answerText string) string {
	return canonicalMarker.ReplaceAllStringFunc(answerText, func(s string) string {
		inner := strings.TrimSpace(s[2 : len(s)-2])
		if e := explicitIDPrefix.FindStringSubmatch(inner); e != nil {
			return strings.TrimSpace(e[2])
		}
		return inner
	})
}
