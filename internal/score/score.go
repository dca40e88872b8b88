// Package score translates grader evaluations into percentages and pass/fail
// results. Everything here is pure.
package score

import (
	"math"
	"strings"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

const (
	// PassThreshold is the minimum percentage that clears a level.
	PassThreshold = 80
	// RevisionThreshold is the minimum percentage of the middle band.
	RevisionThreshold = 30

	circleScore   = 90
	triangleScore = 60
)

// Band describes the overall result of a graded attempt.
type Band string

const (
	BandPass          Band = "pass"
	BandNeedsRevision Band = "needs_revision"
	BandNeedsReview   Band = "needs_review"
)

// BlankResult is the interpreted verdict of one blank.
type BlankResult struct {
	ID      string
	Verdict domain.Verdict
	Points  int
}

// Result is the evaluator output.
type Result struct {
	Percentage  int
	Passed      bool
	Verdict     domain.Verdict
	Band        Band
	PerBlank    []BlankResult
	TotalPoints int
	MaxPoints   int
	// Holistic reports whether the percentage came from a level 3 holistic score.
	Holistic bool
}

// Evaluate scores eval for level. blankIDs lists the blanks that must be
// answered; blanks missing from the evaluation count as cross. When blankIDs
// is empty the evaluated blanks are used instead.
func Evaluate(level domain.Level, eval domain.Evaluation, blankIDs []string) Result {
	perBlank := verdicts(eval, blankIDs)

	total := 0
	for _, b := range perBlank {
		total += b.Points
	}
	r := Result{
		PerBlank:    perBlank,
		TotalPoints: total,
		MaxPoints:   2 * len(perBlank),
	}

	if level == domain.LevelLongForm && eval.Holistic != nil && eval.Holistic.Score != nil {
		r.Percentage = clampPercent(*eval.Holistic.Score)
		r.Holistic = true
	} else if r.MaxPoints > 0 {
		r.Percentage = int(math.Round(100 * float64(total) / float64(r.MaxPoints)))
	}

	r.Passed = r.Percentage >= PassThreshold
	r.Verdict, r.Band = band(r.Percentage)
	return r
}

func band(pct int) (domain.Verdict, Band) {
	switch {
	case pct >= PassThreshold:
		return domain.VerdictCircle, BandPass
	case pct >= RevisionThreshold:
		return domain.VerdictTriangle, BandNeedsRevision
	default:
		return domain.VerdictCross, BandNeedsReview
	}
}

func clampPercent(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

func verdicts(eval domain.Evaluation, blankIDs []string) []BlankResult {
	byID := make(map[string]domain.BlankEvaluation, len(eval.Blanks))
	for _, b := range eval.Blanks {
		if _, ok := byID[b.ID]; !ok {
			byID[b.ID] = b
		}
	}

	ids := blankIDs
	if len(ids) == 0 {
		ids = make([]string, 0, len(eval.Blanks))
		for _, b := range eval.Blanks {
			ids = append(ids, b.ID)
		}
	}

	out := make([]BlankResult, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		v := domain.VerdictCross
		if b, ok := byID[id]; ok {
			v = VerdictOf(b)
		}
		out = append(out, BlankResult{ID: id, Verdict: v, Points: v.Points()})
	}
	return out
}

// VerdictOf reads the localized result mark when present, else thresholds
// the numeric score.
func VerdictOf(b domain.BlankEvaluation) domain.Verdict {
	if v, ok := ParseMark(b.Result); ok {
		return v
	}
	if b.Score == nil {
		return domain.VerdictCross
	}
	switch s := *b.Score; {
	case s >= circleScore:
		return domain.VerdictCircle
	case s >= triangleScore:
		return domain.VerdictTriangle
	default:
		return domain.VerdictCross
	}
}

// ParseMark recognizes the verdict marks graders emit.
func ParseMark(s string) (domain.Verdict, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "○", "◯", "〇", "o", "circle", "correct", "正解":
		return domain.VerdictCircle, true
	case "△", "▲", "triangle", "partial", "部分正解":
		return domain.VerdictTriangle, true
	case "×", "✕", "✖", "x", "cross", "incorrect", "wrong", "不正解":
		return domain.VerdictCross, true
	default:
		return "", false
	}
}
