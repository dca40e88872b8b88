package template

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

const modelAnswer = "The {{mitochondria}} produce {{ATP}} for the cell."

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  RawTemplate
		want Form
	}{
		{"inline blank", RawTemplate{Text: "The {{x}} is"}, FormInline},
		{"inline reference", RawTemplate{Text: "See 【art9:Article 9】"}, FormInline},
		{"inline beats placeholder", RawTemplate{Text: "{{a}} and ___"}, FormInline},
		{"placeholder", RawTemplate{Text: "The ___ is"}, FormPlaceholder},
		{"placeholder beats segments", RawTemplate{Text: "___", Segments: json.RawMessage(`["[[B1]]"]`)}, FormPlaceholder},
		{"annotated body", RawTemplate{Text: "The [[B1]] is"}, FormStructured},
		{"segment array", RawTemplate{Segments: json.RawMessage(`[{"type":"blank","id":"B1"}]`)}, FormStructured},
		{"empty segment array", RawTemplate{Segments: json.RawMessage(`[]`)}, FormFallback},
		{"nothing", RawTemplate{Blanks: []RawBlank{{Answer: "x"}}}, FormFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.raw))
		})
	}
}

func TestExtractCanonical(t *testing.T) {
	got := ExtractCanonical("A {{foo}} then {{ K9 : bar }} and {{foo}}")
	assert.Equal(t, []domain.CanonicalBlank{
		{ID: "B1", Answer: "foo"},
		{ID: "K9", Answer: "bar"},
		{ID: "B3", Answer: "foo"},
	}, got)

	assert.Empty(t, ExtractCanonical("no markers"))
	assert.Equal(t, "A foo then bar", StripMarkers("A {{foo}} then {{K9:bar}}"))
}

func TestNormalize_Inline(t *testing.T) {
	raw := RawTemplate{Text: "The {{mitochondria}} produce\n{{B2}} per 【bio1:Ch. 1】"}
	got := Normalize(raw, modelAnswer)

	require.Len(t, got.Blanks, 2)
	assert.Equal(t, "mitochondria", got.Blanks[0].Answer)
	assert.Equal(t, "ATP", got.Blanks[1].Answer, "answer should come from canonical blanks")
	assert.Equal(t, DefaultPlaceholder, got.Blanks[1].Placeholder)

	kinds := make([]domain.SegmentKind, len(got.Segments))
	for i, s := range got.Segments {
		kinds[i] = s.Kind
	}
	assert.Equal(t, []domain.SegmentKind{
		domain.SegmentText, domain.SegmentBlank, domain.SegmentText, domain.SegmentBreak,
		domain.SegmentBlank, domain.SegmentText, domain.SegmentRef,
	}, kinds)
	assert.Equal(t, domain.Segment{Kind: domain.SegmentRef, ID: "bio1", Text: "Ch. 1"}, got.Segments[6])
}

func TestNormalize_PlaceholderPairsPositionally(t *testing.T) {
	raw := RawTemplate{
		Text:   "The ___ produce ___.",
		Blanks: []RawBlank{{Prompt: "organelle"}, {ID: "B2", Prompt: "molecule", Placeholder: "abbr."}},
	}
	got := Normalize(raw, modelAnswer)

	require.Len(t, got.Blanks, 2)
	assert.Equal(t, domain.Blank{ID: "B1", Prompt: "organelle", Answer: "mitochondria", Placeholder: DefaultPlaceholder}, got.Blanks[0])
	assert.Equal(t, "abbr.", got.Blanks[1].Placeholder)
}

func TestNormalize_StructuredSegments(t *testing.T) {
	raw := RawTemplate{
		Segments: json.RawMessage(`["The [[B1]] make", {"type":"br"}, {"type":"blank","id":"B2"}, {"type":"reference","id":"r1","text":"Ch. 1"}]`),
	}
	got := Normalize(raw, modelAnswer)

	assert.Equal(t, []string{"B1", "B2"}, got.BlankIDs())
	assert.Equal(t, domain.SegmentBreak, got.Segments[3].Kind)
	assert.Equal(t, domain.SegmentRef, got.Segments[5].Kind)
}

func TestNormalize_FallbackSynthesizesBody(t *testing.T) {
	raw := RawTemplate{
		Focus:   "Cell energy",
		Summary: "Review chapter 1.",
		Blanks:  []RawBlank{{Prompt: "Name the organelle"}, {}},
	}
	got := Normalize(raw, modelAnswer)

	require.Len(t, got.Blanks, 2)
	assert.Equal(t, "Cell energy", got.Segments[0].Text)
	assert.Equal(t, "1. Name the organelle ", got.Segments[2].Text)
	assert.Equal(t, "2. Write the missing term. ", got.Segments[5].Text)
	assert.Equal(t, "Review chapter 1.", got.Segments[len(got.Segments)-1].Text)
}

func TestNormalize_FallbackUsesCanonicalWhenNoBlanks(t *testing.T) {
	got := Normalize(RawTemplate{}, modelAnswer)
	assert.Equal(t, []string{"B1", "B2"}, got.BlankIDs())
	assert.NotEmpty(t, got.Segments)
}

func TestNormalize_ReconcilesMissingCanonicalBlanks(t *testing.T) {
	raw := RawTemplate{
		Text:   "The [[B1]] is where it happens.",
		Blanks: []RawBlank{{ID: "B1", Prompt: "organelle"}, {ID: "X1", Answer: "extra"}},
	}
	got := Normalize(raw, modelAnswer)

	assert.Equal(t, []string{"B1", "X1", "B2"}, got.BlankIDs())
	b2, ok := got.Blank("B2")
	require.True(t, ok)
	assert.True(t, b2.Synthetic)
	assert.Equal(t, "ATP", b2.Answer)
	assert.Equal(t, DefaultPlaceholder, b2.Placeholder)

	for _, s := range got.Segments {
		if s.Kind == domain.SegmentBlank {
			_, ok := got.Blank(s.ID)
			assert.True(t, ok, "segment references unknown blank %q", s.ID)
		}
	}
}

func TestNormalize_SingleCanonicalBlank(t *testing.T) {
	got := Normalize(RawTemplate{Text: "Answer: [[B1]]"}, "It is {{foo}}.")
	assert.Equal(t, []domain.CanonicalBlank{{ID: "B1", Answer: "foo"}}, got.CanonicalBlanks)
	require.Len(t, got.Blanks, 1)
	assert.Equal(t, "foo", got.Blanks[0].Answer)
}

func TestSyntheticPromptDoesNotLeakAnswer(t *testing.T) {
	got := Normalize(RawTemplate{Text: "Nothing to fill."}, "Use {{photosynthesis}} and {{chlorophyll}}.")

	require.Len(t, got.Blanks, 2)
	for i, b := range got.Blanks {
		assert.True(t, b.Synthetic)
		assert.Equal(t, SyntheticPrompt(i+1), b.Prompt)
		assert.NotContains(t, strings.ToLower(b.Prompt), strings.ToLower(b.Answer))
		assert.GreaterOrEqual(t, len(b.Prompt), 20, "prompt should be a full instruction")
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	raws := map[string]RawTemplate{
		"inline":       {Text: "The {{mitochondria}} produce\n\n{{ATP}} 【bio1:Ch. 1】 daily."},
		"placeholder":  {Text: "The ___ produce ___.", Blanks: []RawBlank{{Prompt: "organelle"}}},
		"annotated":    {Text: "The [[B1]] uses [[ref:r2]]", Blanks: []RawBlank{{ID: "Z9", Answer: "unused"}}},
		"segments":     {Segments: json.RawMessage(`[{"type":"text","text":"a\nb"},{"type":"blank"},"[[B2]]"]`)},
		"fallback":     {Focus: "Focus", Summary: "Done", Blanks: []RawBlank{{Prompt: "p1"}, {ID: "B7"}}},
		"empty":        {},
		"text only":    {Text: "plain text"},
		"focus only":   {Focus: "Only focus"},
		"legacy blank": {Text: "___", Blanks: []RawBlank{{Answer: "mitochondria", Synthetic: true}}},
		"empty ids":    {Text: "[[ref:]] [[ ]] text"},
		"empty after":  {Text: "[[B2]] then [[  ]] and [[ref: ]]"},
		"bare segment": {Segments: json.RawMessage(`[{"type":"blank","id":"B1"},{"type":"blank"},"[[ ]]"]`)},
	}
	for name, raw := range raws {
		t.Run(name, func(t *testing.T) {
			first := Normalize(raw, modelAnswer)
			second := Normalize(FromTemplate(first), modelAnswer)
			assert.Equal(t, first, second)
			assert.Equal(t, first, Renormalize(second, modelAnswer))
		})
	}
}

func TestNormalize_AnonymousAnnotatedBlankGetsOrdinalID(t *testing.T) {
	got := Normalize(RawTemplate{Text: "[[B2]] then [[ ]]"}, "")

	var ids []string
	for _, b := range got.Blanks {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"B2", "B3"}, ids)
	assert.Equal(t, "B3", got.Segments[len(got.Segments)-1].ID)
}

func TestRawTemplate_UnmarshalLegacyKeys(t *testing.T) {
	var raw RawTemplate
	err := json.Unmarshal([]byte(`{"body":"The ___ is","blanks":["mitochondria",{"hint":"molecule","word":"ATP"}]}`), &raw)
	require.NoError(t, err)

	assert.Equal(t, "The ___ is", raw.Text)
	require.Len(t, raw.Blanks, 2)
	assert.Equal(t, "mitochondria", raw.Blanks[0].Answer)
	assert.Equal(t, RawBlank{Prompt: "molecule", Answer: "ATP"}, raw.Blanks[1])
}

func TestRenormalize_KeepsStoredCanonicalWithoutAnswer(t *testing.T) {
	first := Normalize(RawTemplate{Text: "The [[B1]] is"}, modelAnswer)
	again := Renormalize(first, "")

	assert.Equal(t, first.CanonicalBlanks, again.CanonicalBlanks)
	assert.Equal(t, first.Blanks, again.Blanks)
}

func TestRender(t *testing.T) {
	got := Render(Normalize(RawTemplate{Text: "The {{mitochondria}} produce\n{{B2}} per 【bio1:Ch. 1】"}, modelAnswer))

	assert.Contains(t, got, "[B1]")
	assert.Contains(t, got, "[B2]")
	assert.Contains(t, got, "Ch. 1")
	assert.Contains(t, got, "\n")
	assert.NotContains(t, got, "mitochondria")
	assert.Empty(t, Render(nil))
}
