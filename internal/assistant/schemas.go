package assistant

import (
	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/llm"
)

var templateSchema = &llm.Schema{
	Name:        "fill-drill-template",
	Description: "a fill-in-the-blank exercise built from a model answer",
	Definition: map[string]any{
		"type":     "object",
		"required": []string{"text", "blanks"},
		"properties": map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "exercise body with each blank written as {{ID: answer}}",
				"minLength":   1,
			},
			"blanks": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":     "object",
					"required": []string{"id", "answer"},
					"properties": map[string]any{
						"id":          map[string]any{"type": "string", "pattern": "^[A-Za-z]+[0-9]+$"},
						"prompt":      map[string]any{"type": "string"},
						"answer":      map[string]any{"type": "string"},
						"placeholder": map[string]any{"type": "string"},
					},
				},
			},
			"focus":   map[string]any{"type": "string"},
			"summary": map[string]any{"type": "string"},
		},
	},
}

func blankVerdictsSchema() map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":     "object",
			"required": []string{"id", "result"},
			"properties": map[string]any{
				"id":       map[string]any{"type": "string"},
				"result":   map[string]any{"type": "string", "description": "○, △ or ×"},
				"score":    map[string]any{"type": "number", "minimum": 0, "maximum": 100},
				"feedback": map[string]any{"type": "string"},
				"expected": map[string]any{"type": "string"},
			},
		},
	}
}

var evaluationSchema = &llm.Schema{
	Name:        "fill-drill-evaluation",
	Description: "a per-blank grading of a learner's answers",
	Definition: map[string]any{
		"type":     "object",
		"required": []string{"blanks"},
		"properties": map[string]any{
			"blanks":  blankVerdictsSchema(),
			"summary": map[string]any{"type": "string"},
		},
	},
}

var holisticEvaluationSchema = &llm.Schema{
	Name:        "fill-drill-evaluation-holistic",
	Description: "a per-blank grading plus a holistic score of a long-form answer",
	Definition: map[string]any{
		"type":     "object",
		"required": []string{"blanks", "holistic"},
		"properties": map[string]any{
			"blanks": blankVerdictsSchema(),
			"holistic": map[string]any{
				"type":     "object",
				"required": []string{"score"},
				"properties": map[string]any{
					"score": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
					"breakdown": map[string]any{
						"type":                 "object",
						"additionalProperties": map[string]any{"type": "number"},
					},
					"comment": map[string]any{"type": "string"},
				},
			},
			"summary": map[string]any{"type": "string"},
		},
	},
}

func schemaForGrading(l domain.Level) *llm.Schema {
	if l == domain.LevelLongForm {
		return holisticEvaluationSchema
	}
	return evaluationSchema
}
