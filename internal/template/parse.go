package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// parsed is the output of one form parser: the rendering sequence plus the
// blanks it references, in first-reference order.
type parsed struct {
	segments []domain.Segment
	blanks   []domain.Blank
	seen     map[string]bool
}

func newParsed() *parsed {
	return &parsed{seen: make(map[string]bool)}
}

// text appends literal text, turning newlines into break tokens.
func (p *parsed) text(s string) {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			p.segments = append(p.segments, domain.Segment{Kind: domain.SegmentText, Text: line})
		}
		if i < len(lines)-1 {
			p.lineBreak()
		}
	}
}

func (p *parsed) lineBreak() {
	p.segments = append(p.segments, domain.Segment{Kind: domain.SegmentBreak})
}

func (p *parsed) blank(b domain.Blank) {
	p.segments = append(p.segments, domain.Segment{Kind: domain.SegmentBlank, ID: b.ID})
	if p.seen[b.ID] {
		return
	}
	p.seen[b.ID] = true
	p.blanks = append(p.blanks, b)
}

func (p *parsed) ref(id, label string) {
	p.segments = append(p.segments, domain.Segment{Kind: domain.SegmentRef, ID: id, Text: label})
}

// ordinalID is the id given to the n-th (1-based) blank when none is explicit.
func ordinalID(n int) string {
	return fmt.Sprintf("B%d", n)
}

// nextID is the ordinal id for the next anonymous blank, skipping ids
// already taken by explicit blanks.
func (p *parsed) nextID() string {
	for n := len(p.blanks) + 1; ; n++ {
		if id := ordinalID(n); !p.seen[id] {
			return id
		}
	}
}

var (
	blankIDPattern   = regexp.MustCompile(`^[A-Za-z]+\d+$`)
	explicitIDPrefix = regexp.MustCompile(`^([A-Za-z]+\d+)\s*[:|]\s*(.*)$`)
)

// parseInline scans {{...}} blanks and 【...】 references left to right.
func parseInline(raw RawTemplate) *parsed {
	p := newParsed()
	body := raw.Text
	ordinal := 0
	last := 0
	for _, m := range inlineMarker.FindAllStringSubmatchIndex(body, -1) {
		p.text(body[last:m[0]])
		last = m[1]

		if m[2] >= 0 {
			ordinal++
			p.blank(inlineBlank(strings.TrimSpace(body[m[2]:m[3]]), ordinal))
			continue
		}
		id, label := splitRef(body[m[4]:m[5]])
		p.ref(id, label)
	}
	p.text(body[last:])
	return p
}

func inlineBlank(inner string, ordinal int) domain.Blank {
	if m := explicitIDPrefix.FindStringSubmatch(inner); m != nil {
		return domain.Blank{ID: m[1], Answer: strings.TrimSpace(m[2])}
	}
	if blankIDPattern.MatchString(inner) {
		return domain.Blank{ID: inner}
	}
	return domain.Blank{ID: ordinalID(ordinal), Answer: inner}
}

// splitRef splits "id:label"; a reference without a colon uses its text as both.
func splitRef(inner string) (string, string) {
	inner = strings.TrimSpace(inner)
	if id, label, ok := strings.Cut(inner, ":"); ok {
		return strings.TrimSpace(id), strings.TrimSpace(label)
	}
	return inner, inner
}

// parsePlaceholder pairs each ___ run with Blanks[i].
func parsePlaceholder(raw RawTemplate) *parsed {
	p := newParsed()
	body := raw.Text
	last := 0
	for i, m := range placeholderRun.FindAllStringIndex(body, -1) {
		p.text(body[last:m[0]])
		last = m[1]

		b := domain.Blank{ID: ordinalID(i + 1)}
		if i < len(raw.Blanks) {
			b = blankFromRaw(raw.Blanks[i], i+1)
		}
		p.blank(b)
	}
	p.text(body[last:])
	return p
}

// rawSegment is one element of a structured segment array.
type rawSegment struct {
	Type string `json:"type"`
	Kind string `json:"kind"`
	Text string `json:"text"`
	ID   string `json:"id"`
}

// parseStructured reads an explicit segment array, or an annotated body when
// no array is present.
func parseStructured(raw RawTemplate) *parsed {
	p := newParsed()
	if !hasSegments(raw) {
		parseAnnotated(p, raw.Text)
		return p
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw.Segments, &items); err != nil {
		parseAnnotated(p, raw.Text)
		return p
	}
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			parseAnnotated(p, s)
			continue
		}
		var seg rawSegment
		if err := json.Unmarshal(item, &seg); err != nil {
			continue
		}
		kind := strings.ToLower(firstNonEmpty(seg.Type, seg.Kind))
		switch kind {
		case "blank", "input":
			id := strings.TrimSpace(seg.ID)
			if id == "" {
				id = p.nextID()
			}
			p.blank(domain.Blank{ID: id})
		case "ref", "reference", "citation":
			p.ref(strings.TrimSpace(seg.ID), seg.Text)
		case "break", "br", "newline":
			p.lineBreak()
		default:
			p.text(seg.Text)
		}
	}
	return p
}

// parseAnnotated reads text where [[B1]] marks a blank and [[ref:x]] a reference.
func parseAnnotated(p *parsed, s string) {
	last := 0
	for _, m := range annotatedID.FindAllStringSubmatchIndex(s, -1) {
		p.text(s[last:m[0]])
		last = m[1]

		inner := strings.TrimSpace(s[m[2]:m[3]])
		if rest, ok := strings.CutPrefix(inner, "ref:"); ok {
			id, label := splitRef(rest)
			p.ref(id, label)
			continue
		}
		if inner == "" {
			inner = p.nextID()
		}
		p.blank(domain.Blank{ID: inner})
	}
	p.text(s[last:])
}

// parseFallback synthesizes a body from Blanks (or the canonical blanks when
// none were supplied) plus Focus and Summary.
func parseFallback(raw RawTemplate, canonical []domain.CanonicalBlank) *parsed {
	blanks := make([]domain.Blank, 0, len(raw.Blanks))
	for i, rb := range raw.Blanks {
		blanks = append(blanks, blankFromRaw(rb, i+1))
	}
	if len(blanks) == 0 {
		for _, c := range canonical {
			blanks = append(blanks, domain.Blank{ID: c.ID, Answer: c.Answer})
		}
	}

	return layoutBlanks(raw.Focus, raw.Summary, blanks)
}

// instruction is the sentence rendered before a synthesized blank.
func instruction(n int, b domain.Blank) string {
	if strings.TrimSpace(b.Prompt) != "" {
		return fmt.Sprintf("%d. %s ", n, strings.TrimSpace(b.Prompt))
	}
	return fmt.Sprintf("%d. Write the missing term. ", n)
}

func blankFromRaw(rb RawBlank, ordinal int) domain.Blank {
	id := rb.ID
	if id == "" {
		id = ordinalID(ordinal)
	}
	return domain.Blank{
		ID:          id,
		Prompt:      rb.Prompt,
		Answer:      rb.Answer,
		Placeholder: rb.Placeholder,
		Synthetic:   rb.Synthetic,
	}
}
