package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// Repository loads collections through registered loaders and caches each
// one until it is invalidated. Concurrent loads of one collection share a
// single loader call.
type Repository struct {
	mu       sync.RWMutex
	loaders  map[string]Loader
	fallback Loader
	cache    map[string]*domain.Collection
	group    singleflight.Group
	logger   *slog.Logger
}

// NewRepository creates an empty repository.
func NewRepository(logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		loaders: make(map[string]Loader),
		cache:   make(map[string]*domain.Collection),
		logger:  logger,
	}
}

// Register sets the loader of one collection.
func (r *Repository) Register(collectionID string, l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[collectionID] = l
}

// SetFallback sets the loader used for collections without a registered one.
func (r *Repository) SetFallback(l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = l
}

// Put caches an already loaded collection, e.g. the host's active one.
func (r *Repository) Put(c *domain.Collection) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[c.ID] = c
}

// Cached returns a collection only if it is already loaded.
func (r *Repository) Cached(collectionID string) (*domain.Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cache[collectionID]
	return c, ok
}

// Get returns a cached collection or loads it. It returns ErrNoLoader when
// nothing can load collectionID.
func (r *Repository) Get(ctx context.Context, collectionID string) (*domain.Collection, error) {
	r.mu.RLock()
	c, ok := r.cache[collectionID]
	loader := r.loaders[collectionID]
	if loader == nil {
		loader = r.fallback
	}
	r.mu.RUnlock()
	if ok {
		return c, nil
	}
	if loader == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoLoader, collectionID)
	}

	v, err, _ := r.group.Do(collectionID, func() (any, error) {
		if c, ok := r.Cached(collectionID); ok {
			return c, nil
		}
		c, err := loader.Load(ctx, collectionID)
		if err != nil {
			return nil, fmt.Errorf("load collection %s: %w", collectionID, err)
		}
		if c == nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, collectionID)
		}
		r.mu.Lock()
		r.cache[collectionID] = c
		r.mu.Unlock()
		r.logger.Debug("collection loaded", "collection_id", collectionID, "questions", len(c.Questions))
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Collection), nil
}

// Invalidate drops one cached collection.
func (r *Repository) Invalidate(collectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, collectionID)
}

// InvalidateAll drops every cached collection.
func (r *Repository) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cache)
}

// SyncProgress mirrors a committed record into the cached question, if the
// collection is loaded. Unloaded collections are left alone.
func (r *Repository) SyncProgress(key domain.RecordKey, rec *domain.ProgressRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cache[key.CollectionID]
	if !ok {
		return nil
	}
	q, ok := c.QuestionByID(key.QuestionID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, key)
	}
	q.Progress = rec.Clone()
	return nil
}

// lookup finds a question in c, by index first and then by id, and returns
// a copy taken under the repository lock.
func (r *Repository) lookup(c *domain.Collection, index *int, questionID string) (domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index != nil {
		if q, ok := c.QuestionAt(*index); ok && (questionID == "" || q.ID == questionID) {
			return copyQuestion(q), true
		}
	}
	if q, ok := c.QuestionByID(questionID); ok {
		return copyQuestion(q), true
	}
	return domain.Question{}, false
}

func copyQuestion(q *domain.Question) domain.Question {
	out := *q
	out.Progress = q.Progress.Clone()
	return out
}
