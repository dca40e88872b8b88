package template

import (
	"fmt"
	"slices"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// DefaultPlaceholder is shown in empty blanks that carry no placeholder.
const DefaultPlaceholder = "…"

// Normalize classifies raw, parses it with the matching form parser and
// reconciles the parsed blanks against the canonical blanks of answerText
// (or raw.CanonicalBlanks when answerText has no markers). The result is
// deterministic, and normalizing FromTemplate(result) again returns an equal
// template.
func Normalize(raw RawTemplate, answerText string) *domain.Template {
	canonical := ExtractCanonical(answerText)
	if len(canonical) == 0 && len(raw.CanonicalBlanks) > 0 {
		canonical = slices.Clone(raw.CanonicalBlanks)
	}

	var p *parsed
	switch Classify(raw) {
	case FormInline:
		p = parseInline(raw)
	case FormPlaceholder:
		p = parsePlaceholder(raw)
	case FormStructured:
		p = parseStructured(raw)
	default:
		p = parseFallback(raw, canonical)
	}

	blanks := reconcile(p, raw.Blanks, canonical)
	segments := p.segments
	if len(segments) == 0 && len(blanks) > 0 {
		segments = layoutBlanks(raw.Focus, raw.Summary, blanks).segments
	}
	if segments == nil {
		segments = []domain.Segment{}
	}

	return &domain.Template{
		Blanks:          blanks,
		CanonicalBlanks: canonical,
		Segments:        segments,
		Focus:           raw.Focus,
		Summary:         raw.Summary,
		GeneratedAt:     raw.GeneratedAt,
	}
}

// Renormalize re-runs normalization on a stored template, e.g. after loading
// a record written by an older version.
func Renormalize(t *domain.Template, answerText string) *domain.Template {
	if t == nil {
		return nil
	}
	return Normalize(FromTemplate(t), answerText)
}

// reconcile orders blanks as: blanks referenced by segments, then supplied
// blanks no segment references, then canonical blanks missing from both.
func reconcile(p *parsed, supplied []RawBlank, canonical []domain.CanonicalBlank) []domain.Blank {
	byID := make(map[string]RawBlank, len(supplied))
	for i, rb := range supplied {
		id := rb.ID
		if id == "" {
			id = ordinalID(i + 1)
		}
		if _, ok := byID[id]; !ok {
			rb.ID = id
			byID[id] = rb
		}
	}
	answers := make(map[string]string, len(canonical))
	for _, c := range canonical {
		answers[c.ID] = c.Answer
	}

	out := make([]domain.Blank, 0, len(p.blanks)+len(canonical))
	have := make(map[string]bool)

	for _, b := range p.blanks {
		if rb, ok := byID[b.ID]; ok {
			b.Prompt = firstNonEmpty(b.Prompt, rb.Prompt)
			b.Answer = firstNonEmpty(b.Answer, rb.Answer)
			b.Placeholder = firstNonEmpty(b.Placeholder, rb.Placeholder)
			b.Synthetic = b.Synthetic || rb.Synthetic
		}
		out = append(out, fill(b, answers))
		have[b.ID] = true
	}

	for i, rb := range supplied {
		id := rb.ID
		if id == "" {
			id = ordinalID(i + 1)
		}
		if have[id] {
			continue
		}
		out = append(out, fill(blankFromRaw(byID[id], i+1), answers))
		have[id] = true
	}

	for i, c := range canonical {
		if have[c.ID] {
			continue
		}
		out = append(out, domain.Blank{
			ID:          c.ID,
			Prompt:      SyntheticPrompt(i + 1),
			Answer:      c.Answer,
			Placeholder: DefaultPlaceholder,
			Synthetic:   true,
		})
		have[c.ID] = true
	}
	return out
}

func fill(b domain.Blank, answers map[string]string) domain.Blank {
	if b.Answer == "" {
		b.Answer = answers[b.ID]
	}
	if b.Placeholder == "" {
		b.Placeholder = DefaultPlaceholder
	}
	return b
}

// SyntheticPrompt is the learner-facing prompt of a blank added to match the
// model answer. It never contains the answer itself.
func SyntheticPrompt(n int) string {
	return fmt.Sprintf("Blank %d: write the missing term from the model answer.", n)
}

// layoutBlanks lays out blanks one per line between focus and summary.
func layoutBlanks(focus, summary string, blanks []domain.Blank) *parsed {
	p := newParsed()
	if focus != "" {
		p.text(focus)
		p.lineBreak()
	}
	for i, b := range blanks {
		p.text(instruction(i+1, b))
		p.blank(b)
		p.lineBreak()
	}
	if summary != "" {
		p.text(summary)
	}
	return p
}
