package score

import (
	"testing"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func marks(results ...string) domain.Evaluation {
	var e domain.Evaluation
	for i, r := range results {
		e.Blanks = append(e.Blanks, domain.BlankEvaluation{ID: string(rune('A' + i)), Result: r})
	}
	return e
}

func TestEvaluate_BlankFormula(t *testing.T) {
	tests := []struct {
		name    string
		level   domain.Level
		eval    domain.Evaluation
		ids     []string
		wantPct int
		wantOK  bool
	}{
		{"circle triangle", domain.LevelWord, marks("○", "△"), nil, 75, false},
		{"two circles", domain.LevelWord, marks("○", "○"), nil, 100, true},
		{"words", domain.LevelShortAnswer, marks("circle", "cross"), nil, 50, false},
		{"boundary 80", domain.LevelShortAnswer, marks("○", "○", "○", "○", "○", "○", "○", "○", "×", "×"), nil, 80, true},
		{"missing blank counts as cross", domain.LevelWord, marks("○"), []string{"A", "B"}, 50, false},
		{"no blanks", domain.LevelWord, domain.Evaluation{}, nil, 0, false},
		{"level 3 without holistic", domain.LevelLongForm, marks("○", "○"), nil, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.level, tt.eval, tt.ids)
			if got.Percentage != tt.wantPct || got.Passed != tt.wantOK {
				t.Errorf("Evaluate() = %d%% passed=%v, want %d%% passed=%v", got.Percentage, got.Passed, tt.wantPct, tt.wantOK)
			}
			if got.Holistic {
				t.Error("Holistic = true for a blank-derived score")
			}
		})
	}
}

func TestEvaluate_HolisticBands(t *testing.T) {
	tests := []struct {
		score       float64
		wantVerdict domain.Verdict
		wantBand    Band
		wantPass    bool
	}{
		{80, domain.VerdictCircle, BandPass, true},
		{79, domain.VerdictTriangle, BandNeedsRevision, false},
		{30, domain.VerdictTriangle, BandNeedsRevision, false},
		{29, domain.VerdictCross, BandNeedsReview, false},
		{140, domain.VerdictCircle, BandPass, true},
	}
	for _, tt := range tests {
		eval := marks("×", "×")
		eval.Holistic = &domain.HolisticScore{Score: ptr(tt.score)}

		got := Evaluate(domain.LevelLongForm, eval, nil)
		if got.Verdict != tt.wantVerdict || got.Band != tt.wantBand || got.Passed != tt.wantPass {
			t.Errorf("score %v: got %s/%s/%v, want %s/%s/%v", tt.score, got.Verdict, got.Band, got.Passed, tt.wantVerdict, tt.wantBand, tt.wantPass)
		}
		if !got.Holistic {
			t.Errorf("score %v: Holistic = false", tt.score)
		}
	}
}

func TestEvaluate_HolisticIgnoredBelowLevel3(t *testing.T) {
	eval := marks("×")
	eval.Holistic = &domain.HolisticScore{Score: ptr(100)}

	if got := Evaluate(domain.LevelShortAnswer, eval, nil); got.Percentage != 0 {
		t.Errorf("Percentage = %d, want 0", got.Percentage)
	}
}

func TestVerdictOf(t *testing.T) {
	tests := []struct {
		name string
		in   domain.BlankEvaluation
		want domain.Verdict
	}{
		{"mark wins over score", domain.BlankEvaluation{Result: "×", Score: ptr(99)}, domain.VerdictCross},
		{"japanese", domain.BlankEvaluation{Result: "部分正解"}, domain.VerdictTriangle},
		{"score 90", domain.BlankEvaluation{Score: ptr(90)}, domain.VerdictCircle},
		{"score 60", domain.BlankEvaluation{Score: ptr(60)}, domain.VerdictTriangle},
		{"score 59", domain.BlankEvaluation{Score: ptr(59.9)}, domain.VerdictCross},
		{"unknown mark falls back to score", domain.BlankEvaluation{Result: "?", Score: ptr(95)}, domain.VerdictCircle},
		{"nothing", domain.BlankEvaluation{}, domain.VerdictCross},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerdictOf(tt.in); got != tt.want {
				t.Errorf("VerdictOf() = %s, want %s", got, tt.want)
			}
		})
	}
}
