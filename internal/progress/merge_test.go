package progress

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

func tmpl(focus string) *domain.Template {
	return &domain.Template{Focus: focus, Blanks: []domain.Blank{}, CanonicalBlanks: []domain.CanonicalBlank{}, Segments: []domain.Segment{}}
}

func record(cleared ...domain.Level) *domain.ProgressRecord {
	r := domain.NewProgressRecord()
	for _, l := range cleared {
		r.MarkCleared(l, time.Date(2026, 1, int(l), 0, 0, 0, 0, time.UTC))
	}
	return r
}

func TestMerge_RemoteNeverOverwritesLocal(t *testing.T) {
	a, b, c := tmpl("A"), tmpl("B"), tmpl("C")
	local := record()
	local.Templates[domain.LevelWord] = a
	remote := record()
	remote.Templates[domain.LevelWord] = b
	remote.Templates[domain.LevelShortAnswer] = c

	got := Merge(nil, local, remote)

	assert.Same(t, a, got.Templates[domain.LevelWord])
	assert.Same(t, c, got.Templates[domain.LevelShortAnswer])
	assert.Len(t, got.Templates, 2)
}

func TestMerge_SessionWinsOverLocal(t *testing.T) {
	session := record()
	session.Templates[domain.LevelWord] = tmpl("fresh")
	local := record()
	local.Templates[domain.LevelWord] = tmpl("stale")
	local.Attempts[domain.LevelShortAnswer] = &domain.Attempt{ID: "a2"}

	got := Merge(session, local, nil)

	assert.Equal(t, "fresh", got.Templates[domain.LevelWord].Focus)
	assert.Equal(t, "a2", got.Attempts[domain.LevelShortAnswer].ID)
}

func TestMerge_ClearedLevels(t *testing.T) {
	tests := []struct {
		name                   string
		session, local, remote *domain.ProgressRecord
		want                   []domain.Level
	}{
		{"remote ignored when local has cleared", nil, record(1), record(1, 2, 3), []domain.Level{1}},
		{"remote used when higher tiers have none", nil, record(), record(2), []domain.Level{2}},
		{"session and local union", record(2), record(1), record(3), []domain.Level{1, 2}},
		{"all nil", nil, nil, nil, []domain.Level{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.session, tt.local, tt.remote)
			assert.Equal(t, tt.want, got.ClearedLevels)
		})
	}
}

func TestMerge_ReportsRemoteContribution(t *testing.T) {
	local := record(1)
	local.Templates[domain.LevelWord] = tmpl("A")

	remote := record(1, 2)
	remote.Templates[domain.LevelWord] = tmpl("B")
	_, filled := merge(nil, local, remote)
	assert.False(t, filled)

	remote.Attempts[domain.LevelLongForm] = &domain.Attempt{ID: "r3"}
	_, filled = merge(nil, local, remote)
	assert.True(t, filled)
}

func TestMerge_DropsAttemptOlderThanTemplate(t *testing.T) {
	generated := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	local := record()
	local.Templates[domain.LevelWord] = &domain.Template{GeneratedAt: generated}

	remote := record()
	remote.Attempts[domain.LevelWord] = &domain.Attempt{ID: "old", Timestamp: generated.Add(-time.Hour)}
	remote.Attempts[domain.LevelShortAnswer] = &domain.Attempt{ID: "other", Timestamp: generated.Add(-time.Hour)}

	got := Merge(nil, local, remote)

	assert.Nil(t, got.Attempt(domain.LevelWord))
	require.NotNil(t, got.Attempt(domain.LevelShortAnswer))
}

func TestMerge_ClearedLevelsAreMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randomRecord := func() *domain.ProgressRecord {
		if rng.Intn(4) == 0 {
			return nil
		}
		r := record()
		for _, l := range domain.Levels {
			if rng.Intn(2) == 0 {
				r.MarkCleared(l, time.Now())
			}
		}
		return r
	}

	current := record()
	for i := 0; i < 500; i++ {
		before := current.Clone()
		current = Merge(current, randomRecord(), randomRecord())
		for _, l := range before.ClearedLevels {
			require.True(t, current.IsCleared(l), "iteration %d lost level %d", i, l)
		}
	}
}
