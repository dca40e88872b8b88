package domain

import "time"

// SegmentKind tags one rendering token of a template.
type SegmentKind string

const (
	SegmentText  SegmentKind = "text"
	SegmentBlank SegmentKind = "blank"
	SegmentRef   SegmentKind = "ref"
	SegmentBreak SegmentKind = "break"
)

// Segment is one token of the canonical rendering sequence.
type Segment struct {
	Kind SegmentKind `json:"type"`
	Text string      `json:"text,omitempty"`
	// ID is the blank id for blank segments and the reference id for ref segments.
	ID string `json:"id,omitempty"`
}

// Blank is one fill-in slot.
type Blank struct {
	ID          string `json:"id"`
	Prompt      string `json:"prompt,omitempty"`
	Answer      string `json:"answer,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	// Synthetic marks blanks added to match the canonical answer set.
	Synthetic bool `json:"synthetic,omitempty"`
}

// CanonicalBlank is a blank derived from the question's answer text.
type CanonicalBlank struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
}

// Template is the exercise structure for one (question, level). Templates are
// replaced, never edited in place, once stored in a ProgressRecord.
type Template struct {
	Blanks          []Blank          `json:"blanks"`
	CanonicalBlanks []CanonicalBlank `json:"canonicalBlanks"`
	Segments        []Segment        `json:"segments"`
	Focus           string           `json:"focus,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	GeneratedAt     time.Time        `json:"generatedAt,omitzero"`
}

// Blank returns the blank with the given id.
func (t *Template) Blank(id string) (Blank, bool) {
	if t == nil {
		return Blank{}, false
	}
	for _, b := range t.Blanks {
		if b.ID == id {
			return b, true
		}
	}
	return Blank{}, false
}

// Same reports whether t and o are the same generated template, regardless
// of which decoded copy each pointer refers to.
func (t *Template) Same(o *Template) bool {
	if t == nil || o == nil {
		return t == o
	}
	if !t.GeneratedAt.Equal(o.GeneratedAt) || len(t.Blanks) != len(o.Blanks) {
		return false
	}
	for i := range t.Blanks {
		if t.Blanks[i].ID != o.Blanks[i].ID {
			return false
		}
	}
	return true
}

// BlankIDs returns blank ids in template order.
func (t *Template) BlankIDs() []string {
	if t == nil {
		return nil
	}
	ids := make([]string, len(t.Blanks))
	for i, b := range t.Blanks {
		ids[i] = b.ID
	}
	return ids
}
