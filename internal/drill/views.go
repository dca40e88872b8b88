package drill

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/identity"
)

// View is the ephemeral state of one UI mount point. It references the
// question's record by key and never owns a copy of it.
type View struct {
	ID       string
	Subject  identity.Subject
	Level    domain.Level
	OpenedAt time.Time
}

// Slot returns the view's current (question, level).
func (v View) Slot() domain.SlotKey {
	return domain.SlotKey{RecordKey: v.Subject.Key, Level: v.Level}
}

type viewTable struct {
	mu    sync.RWMutex
	views map[string]*View
}

func newViewTable() *viewTable {
	return &viewTable{views: make(map[string]*View)}
}

func (t *viewTable) put(v *View) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.views[v.ID] = v
}

func (t *viewTable) get(id string) (View, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.views[id]
	if !ok {
		return View{}, false
	}
	return *v, true
}

func (t *viewTable) update(id string, fn func(*View)) (View, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.views[id]
	if !ok {
		return View{}, false
	}
	fn(v)
	return *v, true
}

func (t *viewTable) remove(id string) (View, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.views[id]
	if !ok {
		return View{}, false
	}
	delete(t.views, id)
	return *v, true
}

func (t *viewTable) count(key domain.RecordKey) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, v := range t.views {
		if v.Subject.Key == key {
			n++
		}
	}
	return n
}

// OpenView resolves m, hydrates its record and registers a new view. active
// is the host's currently active collection, if any.
func (s *Service) OpenView(ctx context.Context, m identity.MountDescriptor, active *domain.Collection) (View, *domain.ProgressRecord, error) {
	if s.resolver == nil {
		return View{}, nil, fmt.Errorf("open view: %w", domain.ErrNoLoader)
	}
	sub, err := s.resolver.Resolve(ctx, m, active)
	if err != nil {
		return View{}, nil, err
	}
	// A reopened mount always re-reads the lower tiers.
	rec, err := s.coord.Hydrate(ctx, sub.Key, sub.Question.Answer, sub.Seed)
	if err != nil {
		return View{}, nil, err
	}

	v := &View{
		ID:       uuid.NewString(),
		Subject:  sub,
		Level:    m.InitialLevel(),
		OpenedAt: s.now(),
	}
	s.views.put(v)
	s.logger.Debug("view opened", "view_id", v.ID, "collection_id", sub.Key.CollectionID, "question_id", sub.Key.QuestionID)
	return *v, rec, nil
}

// View returns an open view.
func (s *Service) View(id string) (View, error) {
	v, ok := s.views.get(id)
	if !ok {
		return View{}, fmt.Errorf("view %s: %w", id, domain.ErrNotFound)
	}
	return v, nil
}

// SetLevel switches the active level of a view.
func (s *Service) SetLevel(id string, level domain.Level) (View, error) {
	if err := domain.ValidateLevel(level); err != nil {
		return View{}, err
	}
	v, ok := s.views.update(id, func(v *View) { v.Level = level })
	if !ok {
		return View{}, fmt.Errorf("view %s: %w", id, domain.ErrNotFound)
	}
	return v, nil
}

// CloseView flushes the draft of the view's slot and forgets the view.
func (s *Service) CloseView(id string) error {
	v, ok := s.views.remove(id)
	if !ok {
		return fmt.Errorf("view %s: %w", id, domain.ErrNotFound)
	}
	s.drafts.Flush(v.Slot())
	return nil
}

// OpenViews returns the number of open views of a question.
func (s *Service) OpenViews(key domain.RecordKey) int {
	return s.views.count(key)
}
