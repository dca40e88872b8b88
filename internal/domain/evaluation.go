package domain

import "time"

// Verdict is the per-blank grading outcome.
type Verdict string

const (
	VerdictCircle   Verdict = "circle"
	VerdictTriangle Verdict = "triangle"
	VerdictCross    Verdict = "cross"
)

// Points returns 2, 1 or 0.
func (v Verdict) Points() int {
	switch v {
	case VerdictCircle:
		return 2
	case VerdictTriangle:
		return 1
	default:
		return 0
	}
}

// Symbol returns the mark shown to learners.
func (v Verdict) Symbol() string {
	switch v {
	case VerdictCircle:
		return "○"
	case VerdictTriangle:
		return "△"
	default:
		return "×"
	}
}

// BlankEvaluation is the grader's result for one blank.
type BlankEvaluation struct {
	ID string `json:"id"`
	// Result is the localized verdict mark, e.g. "○", "△", "×".
	Result   string   `json:"result,omitempty"`
	Score    *float64 `json:"score,omitempty"`
	Feedback string   `json:"feedback,omitempty"`
	Expected string   `json:"expected,omitempty"`
}

// HolisticScore is the level 3 whole-answer score.
type HolisticScore struct {
	Score     *float64           `json:"score,omitempty"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
	Comment   string             `json:"comment,omitempty"`
}

// Evaluation is the grading collaborator's response.
type Evaluation struct {
	Blanks   []BlankEvaluation `json:"blanks"`
	Holistic *HolisticScore    `json:"holistic,omitempty"`
	Summary  string            `json:"summary,omitempty"`
}

// Attempt is one graded submission for a level. It is never edited after it
// is stored; a regrade replaces it.
type Attempt struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Evaluation Evaluation        `json:"evaluation"`
	Answers    map[string]string `json:"answers"`
	Percentage int               `json:"percentage"`
	Passed     bool              `json:"passed"`
}
