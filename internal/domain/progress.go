package domain

import (
	"slices"
	"time"
)

// ProgressRecord (a fill drill) is the per-question aggregate of cleared
// levels, templates and attempts.
type ProgressRecord struct {
	ClearedLevels []Level             `json:"clearedLevels"`
	Templates     map[Level]*Template `json:"templates"`
	Attempts      map[Level]*Attempt  `json:"attempts"`
	UpdatedAt     time.Time           `json:"updatedAt,omitzero"`
	CompletedAt   map[Level]time.Time `json:"completedAt"`
}

// NewProgressRecord returns an empty record.
func NewProgressRecord() *ProgressRecord {
	return &ProgressRecord{
		ClearedLevels: []Level{},
		Templates:     make(map[Level]*Template),
		Attempts:      make(map[Level]*Attempt),
		CompletedAt:   make(map[Level]time.Time),
	}
}

// ensure initializes nil maps left by decoding.
func (r *ProgressRecord) ensure() {
	if r.ClearedLevels == nil {
		r.ClearedLevels = []Level{}
	}
	if r.Templates == nil {
		r.Templates = make(map[Level]*Template)
	}
	if r.Attempts == nil {
		r.Attempts = make(map[Level]*Attempt)
	}
	if r.CompletedAt == nil {
		r.CompletedAt = make(map[Level]time.Time)
	}
}

// Normalize initializes nil maps and sorts and dedupes ClearedLevels.
func (r *ProgressRecord) Normalize() {
	r.ensure()
	valid := r.ClearedLevels[:0]
	for _, l := range r.ClearedLevels {
		if l.Valid() {
			valid = append(valid, l)
		}
	}
	slices.Sort(valid)
	r.ClearedLevels = slices.Compact(valid)
}

// IsCleared reports whether level l has been cleared.
func (r *ProgressRecord) IsCleared(l Level) bool {
	return r != nil && slices.Contains(r.ClearedLevels, l)
}

// MarkCleared adds l to ClearedLevels and stamps CompletedAt on first clear.
// It returns false when l was already cleared.
func (r *ProgressRecord) MarkCleared(l Level, at time.Time) bool {
	r.ensure()
	if r.IsCleared(l) {
		return false
	}
	r.ClearedLevels = append(r.ClearedLevels, l)
	slices.Sort(r.ClearedLevels)
	if _, ok := r.CompletedAt[l]; !ok {
		r.CompletedAt[l] = at
	}
	return true
}

// Template returns the template for l, or nil.
func (r *ProgressRecord) Template(l Level) *Template {
	if r == nil {
		return nil
	}
	return r.Templates[l]
}

// Attempt returns the latest attempt for l, or nil.
func (r *ProgressRecord) Attempt(l Level) *Attempt {
	if r == nil {
		return nil
	}
	return r.Attempts[l]
}

// IsEmpty reports whether the record holds nothing worth persisting.
func (r *ProgressRecord) IsEmpty() bool {
	return r == nil || (len(r.ClearedLevels) == 0 && len(r.Templates) == 0 && len(r.Attempts) == 0)
}

// Clone returns a copy whose maps and slices are independent of r. Templates
// and attempts are shared because they are immutable once stored.
func (r *ProgressRecord) Clone() *ProgressRecord {
	if r == nil {
		return nil
	}
	c := &ProgressRecord{
		ClearedLevels: slices.Clone(r.ClearedLevels),
		Templates:     make(map[Level]*Template, len(r.Templates)),
		Attempts:      make(map[Level]*Attempt, len(r.Attempts)),
		UpdatedAt:     r.UpdatedAt,
		CompletedAt:   make(map[Level]time.Time, len(r.CompletedAt)),
	}
	if c.ClearedLevels == nil {
		c.ClearedLevels = []Level{}
	}
	for l, t := range r.Templates {
		c.Templates[l] = t
	}
	for l, a := range r.Attempts {
		c.Attempts[l] = a
	}
	for l, t := range r.CompletedAt {
		c.CompletedAt[l] = t
	}
	return c
}
