package drill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/identity"
)

// LevelSummary describes one level of a question.
type LevelSummary struct {
	HasTemplate    bool       `json:"hasTemplate"`
	LastPercentage *int       `json:"lastPercentage,omitempty"`
	Passed         bool       `json:"passed"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// QuestionSummary is the progress of one question.
type QuestionSummary struct {
	QuestionID    string                        `json:"questionId"`
	ClearedLevels []domain.Level                `json:"clearedLevels"`
	Levels        map[domain.Level]LevelSummary `json:"levels"`
	UpdatedAt     time.Time                     `json:"updatedAt,omitzero"`
}

// Summarize builds the summary of rec.
func Summarize(questionID string, rec *domain.ProgressRecord) QuestionSummary {
	qs := QuestionSummary{
		QuestionID:    questionID,
		ClearedLevels: []domain.Level{},
		Levels:        make(map[domain.Level]LevelSummary, len(domain.Levels)),
	}
	if rec == nil {
		return qs
	}
	qs.ClearedLevels = append(qs.ClearedLevels, rec.ClearedLevels...)
	qs.UpdatedAt = rec.UpdatedAt
	for _, l := range domain.Levels {
		ls := LevelSummary{HasTemplate: rec.Template(l) != nil, Passed: rec.IsCleared(l)}
		if a := rec.Attempt(l); a != nil {
			pct := a.Percentage
			ls.LastPercentage = &pct
		}
		if at, ok := rec.CompletedAt[l]; ok {
			ls.CompletedAt = &at
		}
		qs.Levels[l] = ls
	}
	return qs
}

// CollectionProgress summarizes every question of a collection, reading each
// record through hydration. When the collection cannot be loaded, the records
// found in the device-local store are summarized instead.
func (s *Service) CollectionProgress(ctx context.Context, collectionID string) ([]QuestionSummary, error) {
	var c *domain.Collection
	if s.resolver != nil {
		loaded, err := s.resolver.Repository().Get(ctx, collectionID)
		switch {
		case err == nil:
			c = loaded
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			s.logger.Debug("summarizing stored progress only", "collection_id", collectionID, "error", err)
		}
	}

	if c != nil {
		out := make([]QuestionSummary, 0, len(c.Questions))
		for _, q := range c.Questions {
			sub, err := s.resolver.Resolve(ctx, identity.MountDescriptor{CollectionID: collectionID, QuestionID: q.ID}, nil)
			if err != nil {
				return nil, err
			}
			rec, err := s.Record(ctx, sub)
			if err != nil {
				return nil, err
			}
			out = append(out, Summarize(q.ID, rec))
		}
		return out, nil
	}

	keys, err := s.coord.StoredKeys(collectionID)
	if err != nil {
		return nil, fmt.Errorf("collection progress: %w", err)
	}
	out := make([]QuestionSummary, 0, len(keys))
	for _, k := range keys {
		rec, err := s.coord.Get(ctx, k, "")
		if err != nil {
			return nil, err
		}
		out = append(out, Summarize(k.QuestionID, rec))
	}
	return out, nil
}
