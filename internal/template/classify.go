package template

import (
	"bytes"
	"regexp"
	"strings"
)

// Form is the historical wire shape of a raw template.
type Form int

const (
	// FormInline is free text with {{word}} blanks and/or 【id:ref】 references.
	FormInline Form = iota + 1
	// FormPlaceholder is free text with ___ runs paired positionally with Blanks.
	FormPlaceholder
	// FormStructured is an explicit segment array or a [[id]]-annotated body.
	FormStructured
	// FormFallback has no inline body; segments are synthesized from Blanks.
	FormFallback
)

func (f Form) String() string {
	switch f {
	case FormInline:
		return "inline"
	case FormPlaceholder:
		return "placeholder"
	case FormStructured:
		return "structured"
	case FormFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

var (
	// inlineMarker matches {{blank}} or 【ref】.
	inlineMarker = regexp.MustCompile(`\{\{(.+?)\}\}|【([^】]*)】`)
	// placeholderRun matches a run of three or more underscores.
	placeholderRun = regexp.MustCompile(`_{3,}`)
	// annotatedID matches [[B1]] or [[ref:xyz]].
	annotatedID = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)
)

// Classify picks exactly one form. Inline markers win over placeholder runs,
// which win over the structured form; the fallback is used only when there
// is no inline body and no segment array.
func Classify(raw RawTemplate) Form {
	body := strings.TrimSpace(raw.Text)
	switch {
	case body != "" && inlineMarker.MatchString(body):
		return FormInline
	case body != "" && placeholderRun.MatchString(body):
		return FormPlaceholder
	case body != "" || hasSegments(raw):
		return FormStructured
	default:
		return FormFallback
	}
}

func hasSegments(raw RawTemplate) bool {
	s := bytes.TrimSpace(raw.Segments)
	return len(s) > 0 && !bytes.Equal(s, []byte("null")) && !bytes.Equal(s, []byte("[]"))
}
