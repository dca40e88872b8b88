package progress

import (
	"sync"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// entry is the canonical in-memory copy of one record.
type entry struct {
	record *domain.ProgressRecord
	// fresh marks a record mutated during this session; it wins every merge.
	fresh   bool
	version uint64
}

// Arena owns the canonical ProgressRecord of every active question. Views
// reference records by key and never hold a private copy.
type Arena struct {
	mu      sync.Mutex
	entries map[domain.RecordKey]*entry
	// seq numbers mutations across all keys so versions survive eviction.
	seq uint64
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{entries: make(map[domain.RecordKey]*entry)}
}

// Get returns a copy of the record held for key.
func (a *Arena) Get(key domain.RecordKey) (*domain.ProgressRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[key]
	if !ok {
		return nil, false
	}
	return e.record.Clone(), true
}

// Fresh returns a copy of the record only when it was mutated this session.
func (a *Arena) Fresh(key domain.RecordKey) *domain.ProgressRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.entries[key]; ok && e.fresh {
		return e.record.Clone()
	}
	return nil
}

// Evict drops key. A fresh entry is dropped too; callers must have committed it.
func (a *Arena) Evict(key domain.RecordKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, key)
}

// Len returns the number of held records.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// install stores a hydrated record. When the entry was mutated while the
// hydration was in flight the fresh copy is merged over it again.
func (a *Arena) install(key domain.RecordKey, local, remote *domain.ProgressRecord) (*domain.ProgressRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[key]
	if !ok {
		e = &entry{}
		a.entries[key] = e
	}
	var session *domain.ProgressRecord
	if e.fresh {
		session = e.record
	}
	merged, fromRemote := merge(session, local, remote)
	e.record = merged
	return merged.Clone(), fromRemote
}

// mutate applies fn to a copy of the record and swaps it in on success.
func (a *Arena) mutate(key domain.RecordKey, fn func(*domain.ProgressRecord) error) (*domain.ProgressRecord, uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[key]
	if !ok {
		e = &entry{record: domain.NewProgressRecord()}
		a.entries[key] = e
	}
	next := e.record.Clone()
	if next == nil {
		next = domain.NewProgressRecord()
	}
	if err := fn(next); err != nil {
		return nil, 0, err
	}
	next.Normalize()

	e.record = next
	e.fresh = true
	a.seq++
	e.version = a.seq
	return next.Clone(), e.version, nil
}
