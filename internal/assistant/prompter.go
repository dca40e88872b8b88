package assistant

import (
	"fmt"
	"sort"
	"strings"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/template"
)

const maxReferenceRunes = 4000

// Prompter builds prompts for template generation and grading.
type Prompter struct{}

// NewPrompter creates a new prompter
func NewPrompter() *Prompter {
	return &Prompter{}
}

// GenerateSystemPrompt returns the system prompt for writing a level's template.
func (p *Prompter) GenerateSystemPrompt(level domain.Level) string {
	base := `You write fill-in-the-blank drills that help a learner memorize a model answer.
Rewrite the model answer as an exercise body and replace the parts to recall with blanks.
Write each blank inline as {{ID: answer}} where ID is B1, B2, ... in reading order.
The model answer marks its key terms with {{...}}; every marked term must be covered by a blank.

RULES for this level:`

	switch level {
	case domain.LevelWord:
		return base + `
- Blank single words or short noun phrases only
- Keep every other sentence of the model answer verbatim
- Give each blank a short prompt naming what is missing`

	case domain.LevelShortAnswer:
		return base + `
- Blank whole clauses or short sentences that contain the key terms
- A blank may cover several key terms
- Keep the structure of the answer visible so the learner can place each clause`

	default:
		return base + `
- Leave only the headings or the first words of each paragraph
- Blank each paragraph as one long blank
- The learner must reproduce the argument in their own words`
	}
}

// GradeSystemPrompt returns the system prompt for grading a level.
func (p *Prompter) GradeSystemPrompt(level domain.Level) string {
	base := `You grade a learner's answers to a fill-in-the-blank drill against a model answer.
Mark every blank with "○" (correct, or equivalent wording), "△" (partly correct or imprecise) or "×" (wrong or empty).
Give short feedback for every blank that is not "○" and state the expected text.
Do not grade spelling of particles or punctuation.`

	if level == domain.LevelLongForm {
		return base + `
Also give a holistic score from 0 to 100 for the whole answer.
80 or more means the learner reproduced the argument well enough to pass.
Break the score down by criterion (e.g. "structure", "keyTerms", "accuracy") and add a one-sentence comment.`
	}
	return base
}

// BuildGeneratePrompt constructs the user prompt for generation.
func (p *Prompter) BuildGeneratePrompt(req GenerateRequest) string {
	var sb strings.Builder

	p.writeQuestion(&sb, req.Question)

	sb.WriteString(fmt.Sprintf("## Level: L%d (%s)\n\n", req.Level, req.Level))

	if len(req.History.ClearedLevels) > 0 {
		levels := make([]string, 0, len(req.History.ClearedLevels))
		for _, l := range req.History.ClearedLevels {
			levels = append(levels, fmt.Sprintf("L%d", l))
		}
		sb.WriteString(fmt.Sprintf("The learner has cleared: %s\n\n", strings.Join(levels, ", ")))
	}

	if h, ok := req.History.Levels[req.Level]; ok {
		if len(h.BlankIDs) > 0 {
			sb.WriteString(fmt.Sprintf("The previous template for this level had blanks %s.\n", strings.Join(h.BlankIDs, ", ")))
		}
		if h.LastPercentage != nil {
			sb.WriteString(fmt.Sprintf("Last score on this level: %d%%.\n", *h.LastPercentage))
		}
		sb.WriteString("\n")
	}

	p.writeReference(&sb, req.Reference)

	sb.WriteString("## Your Task\n\n")
	if req.ForceRefresh {
		sb.WriteString("Write a NEW template for this level. Choose different blank boundaries than before where the answer allows it.\n")
	} else {
		sb.WriteString("Write the template for this level.\n")
	}
	return sb.String()
}

// BuildGradePrompt constructs the user prompt for grading.
func (p *Prompter) BuildGradePrompt(req GradeRequest) string {
	var sb strings.Builder

	p.writeQuestion(&sb, req.Question)

	sb.WriteString(fmt.Sprintf("## Level: L%d (%s)\n\n", req.Level, req.Level))

	if req.Template != nil {
		if body := template.Render(req.Template); body != "" {
			sb.WriteString("## Exercise\n\n")
			sb.WriteString(body)
			sb.WriteString("\n\n")
		}
	}

	answers := make(map[string]string, len(req.Answers))
	for _, a := range req.Answers {
		answers[a.ID] = a.Text
	}

	sb.WriteString("## Blanks\n\n")
	for _, id := range blankOrder(req.Template, req.Answers) {
		sb.WriteString(fmt.Sprintf("### %s\n", id))
		if req.Template != nil {
			if b, ok := req.Template.Blank(id); ok {
				if b.Prompt != "" {
					sb.WriteString(fmt.Sprintf("- Prompt: %s\n", b.Prompt))
				}
				sb.WriteString(fmt.Sprintf("- Expected: %s\n", b.Answer))
			}
		}
		text := strings.TrimSpace(answers[id])
		if text == "" {
			text = "(empty)"
		}
		sb.WriteString(fmt.Sprintf("- Learner: %s\n\n", text))
	}

	if len(req.ContextHints) > 0 {
		sb.WriteString(fmt.Sprintf("The learner missed %s last time; say whether they improved.\n\n", strings.Join(req.ContextHints, ", ")))
	}

	p.writeReference(&sb, req.Reference)

	sb.WriteString("## Your Task\n\nGrade every blank listed above.\n")
	return sb.String()
}

func (p *Prompter) writeQuestion(sb *strings.Builder, q domain.Question) {
	sb.WriteString("## Question")
	var meta []string
	if q.Subject != "" {
		meta = append(meta, q.Subject)
	}
	if q.Rank != "" {
		meta = append(meta, "rank "+q.Rank)
	}
	if len(meta) > 0 {
		sb.WriteString(" (" + strings.Join(meta, ", ") + ")")
	}
	sb.WriteString("\n\n")
	sb.WriteString(q.Text)
	sb.WriteString("\n\n## Model Answer\n\n")
	sb.WriteString(q.Answer)
	sb.WriteString("\n\n")
}

func (p *Prompter) writeReference(sb *strings.Builder, ref string) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return
	}
	sb.WriteString("## Reference Material\n\n")
	sb.WriteString(truncateRunes(ref, maxReferenceRunes))
	sb.WriteString("\n\n")
}

// blankOrder lists template blanks first, then any answered id the template
// does not know.
func blankOrder(t *domain.Template, answers []Answer) []string {
	var ids []string
	seen := map[string]bool{}
	if t != nil {
		for _, id := range t.BlankIDs() {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	var extra []string
	for _, a := range answers {
		if !seen[a.ID] {
			extra = append(extra, a.ID)
			seen[a.ID] = true
		}
	}
	sort.Strings(extra)
	return append(ids, extra...)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
