// Package studylog records the first clear of each level as a study-log entry
// and delivers it to one or more sinks.
package studylog

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// DefaultBoundaryHour is the local hour at which a study day starts.
const DefaultBoundaryHour = 3

// MessageType tags study-log envelopes on the queue.
const MessageType = "study_log.entry"

const maxTitleRunes = 60

// Entry is one study-log record.
type Entry struct {
	ID           string       `json:"id"`
	Timestamp    time.Time    `json:"timestamp"`
	Date         string       `json:"date"`
	Title        string       `json:"title"`
	Detail       string       `json:"detail"`
	QuestionID   string       `json:"questionId"`
	Level        domain.Level `json:"level"`
	CollectionID string       `json:"collectionId"`
}

// Clock computes study dates.
type Clock struct {
	// BoundaryHour is the hour before which activity counts toward the
	// previous day.
	BoundaryHour int
	Location     *time.Location
}

// DefaultClock uses a 03:00 boundary in the local time zone.
func DefaultClock() Clock {
	return Clock{BoundaryHour: DefaultBoundaryHour, Location: time.Local}
}

// StudyDate returns the YYYY-MM-DD study day containing t.
func (c Clock) StudyDate(t time.Time) string {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	if local.Hour() < c.BoundaryHour {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format(time.DateOnly)
}

// NewEntry builds the entry for the first clear of level on q.
func (c Clock) NewEntry(at time.Time, key domain.RecordKey, level domain.Level, q domain.Question, percentage int) Entry {
	return Entry{
		ID:           uuid.NewString(),
		Timestamp:    at,
		Date:         c.StudyDate(at),
		Title:        title(q),
		Detail:       fmt.Sprintf("Cleared fill drill level %d (%s) with %d%%", int(level), level, percentage),
		QuestionID:   key.QuestionID,
		Level:        level,
		CollectionID: key.CollectionID,
	}
}

func title(q domain.Question) string {
	t := q.Text
	if t == "" {
		t = q.ID
	}
	if utf8.RuneCountInString(t) <= maxTitleRunes {
		return t
	}
	r := []rune(t)
	return string(r[:maxTitleRunes]) + "…"
}
