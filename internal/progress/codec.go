package progress

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/template"
)

// storedRecord is the lenient on-disk shape of a ProgressRecord. Records
// written by older clients use different encodings for most fields.
type storedRecord struct {
	ClearedLevels json.RawMessage                  `json:"clearedLevels"`
	Cleared       json.RawMessage                  `json:"cleared"`
	Templates     map[string]*template.RawTemplate `json:"templates"`
	Attempts      map[string]*domain.Attempt       `json:"attempts"`
	UpdatedAt     json.RawMessage                  `json:"updatedAt"`
	CompletedAt   map[string]json.RawMessage       `json:"completedAt"`
}

// EncodeRecord serializes r in the current format.
func EncodeRecord(r *domain.ProgressRecord) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode progress record: %w", err)
	}
	return data, nil
}

// DecodeRecord reads a record in any historical format. Templates are
// re-normalized against answerText.
func DecodeRecord(data []byte, answerText string) (*domain.ProgressRecord, error) {
	var s storedRecord
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode progress record: %w", err)
	}

	r := domain.NewProgressRecord()
	r.ClearedLevels = append(decodeLevels(s.ClearedLevels), legacyCleared(s.Cleared)...)

	for k, raw := range s.Templates {
		l, ok := levelKey(k)
		if !ok || raw == nil {
			continue
		}
		r.Templates[l] = template.Normalize(*raw, answerText)
	}
	for k, a := range s.Attempts {
		l, ok := levelKey(k)
		if !ok || a == nil {
			continue
		}
		if a.Answers == nil {
			a.Answers = map[string]string{}
		}
		r.Attempts[l] = a
	}
	for k, raw := range s.CompletedAt {
		l, ok := levelKey(k)
		if !ok {
			continue
		}
		if t, ok := decodeTime(raw); ok {
			r.CompletedAt[l] = t
		}
	}
	if t, ok := decodeTime(s.UpdatedAt); ok {
		r.UpdatedAt = t
	}

	r.Normalize()
	return r, nil
}

// levelKey accepts "1", "level1", "l1" and "L1".
func levelKey(k string) (domain.Level, bool) {
	l, err := domain.ParseLevel(k)
	return l, err == nil
}

// decodeLevels accepts [1,2], ["1","level2"] and {"1":true,"2":false}.
func decodeLevels(raw json.RawMessage) []domain.Level {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		var out []domain.Level
		for _, item := range items {
			if l, ok := decodeLevel(item); ok {
				out = append(out, l)
			}
		}
		return out
	}

	var set map[string]bool
	if err := json.Unmarshal(raw, &set); err == nil {
		keys := make([]string, 0, len(set))
		for k, v := range set {
			if v {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var out []domain.Level
		for _, k := range keys {
			if l, ok := levelKey(k); ok {
				out = append(out, l)
			}
		}
		return out
	}
	return nil
}

func decodeLevel(raw json.RawMessage) (domain.Level, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		l := domain.Level(int(n))
		return l, float64(int(n)) == n && l.Valid()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return levelKey(s)
	}
	return 0, false
}

// legacyCleared expands the old "highest level cleared" integer into 1..n.
func legacyCleared(raw json.RawMessage) []domain.Level {
	l, ok := decodeLevel(raw)
	if !ok {
		return nil
	}
	out := make([]domain.Level, 0, int(l))
	for i := domain.LevelWord; i <= l; i++ {
		out = append(out, i)
	}
	return out
}

// decodeTime accepts RFC 3339 strings and Unix milliseconds.
func decodeTime(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		return time.Time{}, false
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}
