package studylog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/queue"
	"github.com/felixgeelhaar/filldrill/internal/storage"
)

func TestClock_StudyDate(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	c := Clock{BoundaryHour: 3, Location: tokyo}

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"before boundary counts as previous day", time.Date(2026, 3, 15, 2, 59, 0, 0, tokyo), "2026-03-14"},
		{"at boundary", time.Date(2026, 3, 15, 3, 0, 0, 0, tokyo), "2026-03-15"},
		{"afternoon", time.Date(2026, 3, 15, 15, 0, 0, 0, tokyo), "2026-03-15"},
		{"converted from UTC", time.Date(2026, 3, 14, 17, 30, 0, 0, time.UTC), "2026-03-14"},
		{"month rollover", time.Date(2026, 4, 1, 1, 0, 0, 0, tokyo), "2026-03-31"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.StudyDate(tt.at))
		})
	}
}

func TestClock_NewEntry(t *testing.T) {
	c := Clock{BoundaryHour: 3, Location: time.UTC}
	at := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)
	q := domain.Question{ID: "q1", Text: strings.Repeat("x", 80)}

	e := c.NewEntry(at, domain.RecordKey{CollectionID: "bio", QuestionID: "q1"}, domain.LevelShortAnswer, q, 85)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "2026-03-14", e.Date)
	assert.Equal(t, at, e.Timestamp)
	assert.Equal(t, "bio", e.CollectionID)
	assert.Equal(t, "q1", e.QuestionID)
	assert.Equal(t, domain.LevelShortAnswer, e.Level)
	assert.Equal(t, 61, len([]rune(e.Title)))
	assert.Contains(t, e.Detail, "85%")
}

func TestLocalSink_EmitAndList(t *testing.T) {
	s := NewLocalSink(storage.NewMemory())
	ctx := context.Background()
	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	for i, date := range []string{"2026-03-15", "2026-03-14", "2026-04-01"} {
		require.NoError(t, s.Emit(ctx, Entry{ID: string(rune('a' + i)), Date: date, Timestamp: base.AddDate(0, 0, -i)}))
	}

	march, err := s.List("2026-03")
	require.NoError(t, err)
	require.Len(t, march, 2)
	assert.Equal(t, "2026-03-14", march[0].Date, "oldest first")

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLocalSink_Archive(t *testing.T) {
	s := NewLocalSink(storage.NewMemory())
	body, _ := json.Marshal(Entry{ID: "e1", Date: "2026-03-15", QuestionID: "q1"})

	require.NoError(t, s.Archive(context.Background(), &queue.Envelope{Type: MessageType, Body: body}))
	require.NoError(t, s.Archive(context.Background(), &queue.Envelope{Type: "other", Body: body}))
	assert.Error(t, s.Archive(context.Background(), &queue.Envelope{Type: MessageType, Body: []byte("{")}))

	got, err := s.List("")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "q1", got[0].QuestionID)
}

type failingSink struct{}

func (failingSink) Emit(context.Context, Entry) error { return errors.New("unavailable") }

func TestMultiSink_EmitsToAllAndJoinsErrors(t *testing.T) {
	local := NewLocalSink(storage.NewMemory())
	m := MultiSink{failingSink{}, local, Discard{}}

	err := m.Emit(context.Background(), Entry{ID: "e1", Date: "2026-03-15"})
	assert.ErrorContains(t, err, "unavailable")

	got, _ := local.List("")
	assert.Len(t, got, 1, "later sinks still receive the entry")
}
