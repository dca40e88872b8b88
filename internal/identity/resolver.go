// Package identity resolves a mount point to the question it renders and
// owns the cache of loaded collections.
package identity

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// MountDescriptor is what a UI mount point declares about its question.
type MountDescriptor struct {
	CollectionID  string           `json:"collectionId,omitempty"`
	QuestionID    string           `json:"questionId,omitempty"`
	QuestionIndex *int             `json:"questionIndex,omitempty"`
	Level         domain.Level     `json:"level,omitempty"`
	Payload       *domain.Question `json:"payload,omitempty"`
}

// Subject is a resolved question ready for drilling.
type Subject struct {
	Key      domain.RecordKey
	Question domain.Question
	// Seed is prior progress carried by the question (embedded payloads and
	// the content collaborator's copy).
	Seed *domain.ProgressRecord
	// Embedded is set when the question came from the mount's own payload.
	Embedded bool
}

// InitialLevel returns the level declared by m, defaulting to level 1.
func (m MountDescriptor) InitialLevel() domain.Level {
	if m.Level.Valid() {
		return m.Level
	}
	return domain.LevelWord
}

// Resolver implements the three addressing modes of a mount point.
type Resolver struct {
	repo *Repository
}

// NewResolver creates a resolver over repo.
func NewResolver(repo *Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Repository returns the collection repository.
func (r *Resolver) Repository() *Repository {
	return r.repo
}

// Resolve locates m's question. An embedded payload is used as is; otherwise
// active is searched when it is the declared collection, and the declared
// collection is loaded through the repository as a last resort. Every failure
// is an *IdentityResolutionError.
func (r *Resolver) Resolve(ctx context.Context, m MountDescriptor, active *domain.Collection) (Subject, error) {
	if m.Payload != nil {
		return r.embedded(m)
	}

	fail := func(err error) (Subject, error) {
		return Subject{}, &domain.IdentityResolutionError{CollectionID: m.CollectionID, QuestionID: m.QuestionID, Err: err}
	}
	if m.CollectionID == "" {
		return fail(domain.ErrCollectionNotFound)
	}
	if m.QuestionID == "" && m.QuestionIndex == nil {
		return fail(domain.ErrQuestionNotFound)
	}

	if active != nil && active.ID == m.CollectionID {
		if q, ok := r.repo.lookup(active, m.QuestionIndex, m.QuestionID); ok {
			return subject(m.CollectionID, q), nil
		}
	}

	c, err := r.repo.Get(ctx, m.CollectionID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Subject{}, err
		}
		return fail(err)
	}
	// Index lookups only apply to the active collection.
	q, ok := r.repo.lookup(c, nil, m.QuestionID)
	if !ok {
		return fail(domain.ErrQuestionNotFound)
	}
	return subject(m.CollectionID, q), nil
}

func (r *Resolver) embedded(m MountDescriptor) (Subject, error) {
	q := *m.Payload
	if q.ID == "" {
		q.ID = m.QuestionID
	}
	collectionID := m.CollectionID
	if collectionID == "" {
		collectionID = domain.StandaloneCollection
	}
	if q.ID == "" {
		return Subject{}, &domain.IdentityResolutionError{CollectionID: collectionID, Err: domain.ErrQuestionNotFound}
	}
	seed := q.Progress.Clone()
	q.Progress = nil
	return Subject{
		Key:      domain.RecordKey{CollectionID: collectionID, QuestionID: q.ID},
		Question: q,
		Seed:     seed,
		Embedded: true,
	}, nil
}

func subject(collectionID string, q domain.Question) Subject {
	seed := q.Progress
	q.Progress = nil
	return Subject{
		Key:      domain.RecordKey{CollectionID: collectionID, QuestionID: q.ID},
		Question: q,
		Seed:     seed,
	}
}
