package progress

import (
	"maps"
	"slices"
	"time"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// Merge combines the three storage tiers of one record. session is the
// in-memory copy mutated this session (nil when not fresh), local the
// device-local copy and remote the remote copy; any may be nil.
//
// Per level, templates, attempts and completion times come from the first
// tier that defines them; an attempt older than the chosen template is
// never filled in. Cleared levels of session and local are unioned;
// remote cleared levels are used only when neither defines any.
func Merge(session, local, remote *domain.ProgressRecord) *domain.ProgressRecord {
	r, _ := merge(session, local, remote)
	return r
}

// merge also reports whether the remote tier contributed anything.
func merge(session, local, remote *domain.ProgressRecord) (*domain.ProgressRecord, bool) {
	out := domain.NewProgressRecord()
	fromRemote := false

	for _, src := range []*domain.ProgressRecord{session, local} {
		if src == nil {
			continue
		}
		out.ClearedLevels = append(out.ClearedLevels, src.ClearedLevels...)
		fillGaps(out, src)
	}
	out.Normalize()

	if remote != nil {
		if len(out.ClearedLevels) == 0 && len(remote.ClearedLevels) > 0 {
			out.ClearedLevels = slices.Clone(remote.ClearedLevels)
			out.Normalize()
			fromRemote = len(out.ClearedLevels) > 0
		}
		if fillGaps(out, remote) {
			fromRemote = true
		}
	}
	return out, fromRemote
}

// supersededBy reports whether attempt a was graded against an older
// template than t. Such attempts are dropped rather than resurrected after a
// forced regeneration.
func supersededBy(a *domain.Attempt, t *domain.Template) bool {
	return t != nil && !t.GeneratedAt.IsZero() && !a.Timestamp.IsZero() && a.Timestamp.Before(t.GeneratedAt)
}

// fillGaps copies per-level entries of src that dst lacks and reports whether
// it copied any template or attempt.
func fillGaps(dst, src *domain.ProgressRecord) bool {
	filled := false
	for l, t := range src.Templates {
		if _, ok := dst.Templates[l]; !ok && t != nil {
			dst.Templates[l] = t
			filled = true
		}
	}
	for l, a := range src.Attempts {
		if a == nil || supersededBy(a, dst.Templates[l]) {
			continue
		}
		if _, ok := dst.Attempts[l]; !ok {
			dst.Attempts[l] = a
			filled = true
		}
	}
	for l, at := range src.CompletedAt {
		if _, ok := dst.CompletedAt[l]; !ok && !at.IsZero() {
			dst.CompletedAt[l] = at
		}
	}
	if src.UpdatedAt.After(dst.UpdatedAt) {
		dst.UpdatedAt = src.UpdatedAt
	}
	return filled
}

// equivalent reports whether a and b hold the same progress. UpdatedAt is
// ignored and times compare as instants.
func equivalent(a, b *domain.ProgressRecord) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !slices.Equal(a.ClearedLevels, b.ClearedLevels) {
		return false
	}
	if !maps.EqualFunc(a.CompletedAt, b.CompletedAt, func(x, y time.Time) bool { return x.Equal(y) }) {
		return false
	}
	if !maps.EqualFunc(a.Templates, b.Templates, sameTemplate) {
		return false
	}
	return maps.EqualFunc(a.Attempts, b.Attempts, sameAttempt)
}

func sameTemplate(x, y *domain.Template) bool {
	if x == nil || y == nil {
		return x == y
	}
	return x.Same(y) &&
		x.Focus == y.Focus &&
		x.Summary == y.Summary &&
		slices.Equal(x.Blanks, y.Blanks) &&
		slices.Equal(x.CanonicalBlanks, y.CanonicalBlanks) &&
		slices.Equal(x.Segments, y.Segments)
}

func sameAttempt(x, y *domain.Attempt) bool {
	if x == nil || y == nil {
		return x == y
	}
	return x.ID == y.ID &&
		x.Timestamp.Equal(y.Timestamp) &&
		x.Percentage == y.Percentage &&
		x.Passed == y.Passed &&
		maps.Equal(x.Answers, y.Answers)
}
