// Package assistant is the request/response contract with the AI
// collaborator that writes templates and grades answers, plus an
// implementation of it on top of an llm.Provider.
package assistant

import (
	"context"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/template"
)

// Collaborator produces templates and evaluations.
type Collaborator interface {
	GenerateTemplate(ctx context.Context, req GenerateRequest) (template.RawTemplate, error)
	GradeAnswers(ctx context.Context, req GradeRequest) (domain.Evaluation, error)
}

// LevelHistory summarizes earlier work on one level.
type LevelHistory struct {
	BlankIDs       []string `json:"blankIds,omitempty"`
	LastPercentage *int     `json:"lastPercentage,omitempty"`
	Passed         bool     `json:"passed,omitempty"`
}

// History is the snapshot of a record sent with a generation request.
type History struct {
	ClearedLevels []domain.Level                `json:"clearedLevels"`
	Levels        map[domain.Level]LevelHistory `json:"levels,omitempty"`
}

// HistoryOf builds the snapshot of r.
func HistoryOf(r *domain.ProgressRecord) History {
	h := History{ClearedLevels: []domain.Level{}, Levels: map[domain.Level]LevelHistory{}}
	if r == nil {
		return h
	}
	h.ClearedLevels = append(h.ClearedLevels, r.ClearedLevels...)
	for _, l := range domain.Levels {
		var lh LevelHistory
		if t := r.Template(l); t != nil {
			lh.BlankIDs = t.BlankIDs()
		}
		if a := r.Attempt(l); a != nil {
			pct := a.Percentage
			lh.LastPercentage = &pct
			lh.Passed = a.Passed
		}
		if lh.BlankIDs != nil || lh.LastPercentage != nil {
			h.Levels[l] = lh
		}
	}
	return h
}

// GenerateRequest asks for a template for one (question, level).
type GenerateRequest struct {
	CollectionID string
	QuestionID   string
	Level        domain.Level
	ForceRefresh bool
	History      History
	Question     domain.Question
	Reference    string
}

// Answer is one submitted blank.
type Answer struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// GradeRequest asks for an evaluation of submitted answers.
type GradeRequest struct {
	CollectionID string
	QuestionID   string
	Level        domain.Level
	Template     *domain.Template
	Answers      []Answer
	Question     domain.Question
	ContextHints []string
	Reference    string
}
