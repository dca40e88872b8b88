package template

import (
	"strings"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// Render returns the exercise body as plain text with each blank shown as
// [ID]. Reference segments keep their label.
func Render(t *domain.Template) string {
	if t == nil {
		return ""
	}
	var sb strings.Builder
	for _, seg := range t.Segments {
		switch seg.Kind {
		case domain.SegmentText, domain.SegmentRef:
			sb.WriteString(seg.Text)
		case domain.SegmentBlank:
			sb.WriteString("[" + seg.ID + "]")
		case domain.SegmentBreak:
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String())
}
