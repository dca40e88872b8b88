// Package template turns AI-generated and stored exercise templates, in any
// of their historical wire shapes, into the canonical segment sequence used
// for rendering and grading.
package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// RawTemplate is the lenient view of a template as produced by the AI
// collaborator or as found in older stored records.
type RawTemplate struct {
	// Text is the inline body. Older payloads call it "body" or "template".
	Text string `json:"text,omitempty"`
	// Segments holds the structured form: an array of strings and/or
	// {type, text, id} objects.
	Segments    json.RawMessage `json:"segments,omitempty"`
	Blanks      []RawBlank      `json:"blanks,omitempty"`
	Focus       string          `json:"focus,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	GeneratedAt time.Time       `json:"generatedAt,omitzero"`
	// CanonicalBlanks is used when the answer text carries no markers, e.g.
	// when a stored record is decoded without its question.
	CanonicalBlanks []domain.CanonicalBlank `json:"canonicalBlanks,omitempty"`
}

// UnmarshalJSON accepts the legacy body keys.
func (r *RawTemplate) UnmarshalJSON(data []byte) error {
	type alias RawTemplate
	var aux struct {
		alias
		Body     string `json:"body"`
		Template string `json:"template"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = RawTemplate(aux.alias)
	if r.Text == "" {
		r.Text = aux.Body
	}
	if r.Text == "" {
		r.Text = aux.Template
	}
	return nil
}

// RawBlank is one blank entry as supplied alongside a raw body.
type RawBlank struct {
	ID          string `json:"id,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
	Answer      string `json:"answer,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Synthetic   bool   `json:"synthetic,omitempty"`
}

// UnmarshalJSON accepts a bare string (the answer) or an object using either
// current or legacy field names.
func (b *RawBlank) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = RawBlank{Answer: s}
		return nil
	}
	type alias RawBlank
	var aux struct {
		alias
		Hint  string `json:"hint"`
		Label string `json:"label"`
		Word  string `json:"word"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("decode blank: %w", err)
	}
	*b = RawBlank(aux.alias)
	if b.Prompt == "" {
		b.Prompt = firstNonEmpty(aux.Hint, aux.Label)
	}
	if b.Answer == "" {
		b.Answer = aux.Word
	}
	b.ID = strings.TrimSpace(b.ID)
	return nil
}

// FromTemplate converts a canonical template back into raw form. Normalizing
// the result yields the same template.
func FromTemplate(t *domain.Template) RawTemplate {
	if t == nil {
		return RawTemplate{}
	}
	raw := RawTemplate{
		Focus:           t.Focus,
		Summary:         t.Summary,
		GeneratedAt:     t.GeneratedAt,
		CanonicalBlanks: t.CanonicalBlanks,
	}
	if len(t.Segments) > 0 {
		segs, err := json.Marshal(t.Segments)
		if err == nil {
			raw.Segments = segs
		}
	}
	for _, b := range t.Blanks {
		raw.Blanks = append(raw.Blanks, RawBlank{
			ID:          b.ID,
			Prompt:      b.Prompt,
			Answer:      b.Answer,
			Placeholder: b.Placeholder,
			Synthetic:   b.Synthetic,
		})
	}
	return raw
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
