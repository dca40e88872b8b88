// Package draft keeps in-progress learner input per (question, level) and
// persists it to the device-local store after a debounce window.
package draft

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/metrics"
	"github.com/felixgeelhaar/filldrill/internal/storage"
)

// DefaultWindow is the debounce window between the last edit and the write.
const DefaultWindow = time.Second

// Draft maps blank id to in-progress text.
type Draft map[string]string

// IsEmpty reports whether every value is blank.
func (d Draft) IsEmpty() bool {
	for _, v := range d {
		if v != "" {
			return false
		}
	}
	return true
}

type slot struct {
	draft Draft
	timer *time.Timer
	// gen invalidates timers armed before the latest Input or Clear.
	gen uint64
}

// Autosaver owns every draft. Edits update memory immediately; the store
// write for a slot is scheduled Window after its last edit.
type Autosaver struct {
	store   storage.KV
	window  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	slots  map[domain.SlotKey]*slot
	closed bool
}

// Option configures an Autosaver.
type Option func(*Autosaver)

// WithWindow sets the debounce window.
func WithWindow(d time.Duration) Option {
	return func(a *Autosaver) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Autosaver) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Autosaver) { a.metrics = m }
}

// NewAutosaver creates an autosaver writing to store.
func NewAutosaver(store storage.KV, opts ...Option) *Autosaver {
	a := &Autosaver{
		store:  store,
		window: DefaultWindow,
		logger: slog.Default(),
		slots:  make(map[domain.SlotKey]*slot),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Input records text for one blank and restarts the slot's debounce timer.
// It returns the updated draft.
func (a *Autosaver) Input(key domain.SlotKey, blankID, text string) Draft {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.slot(key)
	s.draft[blankID] = text
	a.schedule(key, s)
	return maps.Clone(s.draft)
}

// Replace sets the whole draft for a slot, e.g. when restoring a submission.
func (a *Autosaver) Replace(key domain.SlotKey, d Draft) Draft {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.slot(key)
	s.draft = maps.Clone(d)
	if s.draft == nil {
		s.draft = Draft{}
	}
	a.schedule(key, s)
	return maps.Clone(s.draft)
}

// Get returns the slot's draft from memory, falling back to the device-local
// store after a reload. A missing draft is empty, not an error.
func (a *Autosaver) Get(key domain.SlotKey) (Draft, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.slots[key]; ok {
		return maps.Clone(s.draft), nil
	}
	d, err := a.loadLocked(key)
	if err != nil {
		return nil, err
	}
	a.slots[key] = &slot{draft: d}
	return maps.Clone(d), nil
}

// loadLocked reads the persisted draft of key. A missing or unreadable draft
// is empty. Callers hold a.mu.
func (a *Autosaver) loadLocked(key domain.SlotKey) (Draft, error) {
	data, err := a.store.Get(storage.DraftKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return Draft{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		a.logger.Warn("discarding unreadable draft", "key", storage.DraftKey(key), "error", err)
		return Draft{}, nil
	}
	if d == nil {
		d = Draft{}
	}
	return d, nil
}

// Clear deletes the in-memory and persisted draft synchronously and cancels
// any pending write.
func (a *Autosaver) Clear(key domain.SlotKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.slots[key]; ok {
		if s.timer != nil {
			s.timer.Stop()
		}
		delete(a.slots, key)
	}
	if err := a.store.Delete(storage.DraftKey(key)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// Flush writes the slot's pending draft now.
func (a *Autosaver) Flush(key domain.SlotKey) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.slots[key]; ok && s.timer != nil {
		s.timer.Stop()
		a.persistLocked(key, s)
	}
}

// Close flushes every pending draft best-effort and stops accepting timers.
func (a *Autosaver) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	for key, s := range a.slots {
		if s.timer != nil {
			s.timer.Stop()
			a.persistLocked(key, s)
		}
	}
	return nil
}

// slot returns the in-memory slot of key, seeding it from the store after a
// reload so an edit never drops persisted blanks.
func (a *Autosaver) slot(key domain.SlotKey) *slot {
	if s, ok := a.slots[key]; ok {
		return s
	}
	d, err := a.loadLocked(key)
	if err != nil {
		a.logger.Warn("draft reload failed, starting empty",
			"collection_id", key.CollectionID,
			"question_id", key.QuestionID,
			"level", int(key.Level),
			"error", err)
		d = Draft{}
	}
	s := &slot{draft: d}
	a.slots[key] = s
	return s
}

func (a *Autosaver) schedule(key domain.SlotKey, s *slot) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	if a.closed {
		a.persistLocked(key, s)
		return
	}
	gen := s.gen
	s.timer = time.AfterFunc(a.window, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		cur, ok := a.slots[key]
		if !ok || cur != s || cur.gen != gen {
			return
		}
		a.persistLocked(key, s)
	})
}

// persistLocked writes s to the store. Callers hold a.mu.
func (a *Autosaver) persistLocked(key domain.SlotKey, s *slot) {
	s.timer = nil

	var err error
	if s.draft.IsEmpty() {
		err = a.store.Delete(storage.DraftKey(key))
		if errors.Is(err, storage.ErrNotFound) {
			err = nil
		}
	} else {
		var data []byte
		data, err = json.Marshal(s.draft)
		if err == nil {
			err = a.store.Set(storage.DraftKey(key), data)
		}
	}
	a.metrics.DraftWrite(err)
	if err != nil {
		a.logger.Warn("draft write failed",
			"collection_id", key.CollectionID,
			"question_id", key.QuestionID,
			"level", int(key.Level),
			"error", err)
	}
}
