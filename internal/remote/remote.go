// Package remote implements the remote durable progress store. Every backend
// satisfies progress.Remote: Fetch returns the records of one collection and
// Put upserts one record.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/progress"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown remote backend")

// Store is a remote progress store that owns connections.
type Store interface {
	progress.Remote
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend     string // postgres, redis, http or none
	DatabaseURL string
	RedisAddr   string
	RedisDB     int
	Password    string
	BaseURL     string
	Timeout     time.Duration
}

// decodeRows decodes raw records keyed by question id. Rows that fail to
// decode are skipped and reported together.
func decodeRows(rows map[string][]byte) (map[string]*domain.ProgressRecord, error) {
	out := make(map[string]*domain.ProgressRecord, len(rows))
	var errs []error
	for qid, data := range rows {
		rec, err := progress.DecodeRecord(data, "")
		if err != nil {
			errs = append(errs, fmt.Errorf("question %s: %w", qid, err))
			continue
		}
		out[qid] = rec
	}
	return out, errors.Join(errs...)
}

// completedAt encodes the per-level completion times, or nil when no level
// is completed.
func completedAt(r *domain.ProgressRecord) (json.RawMessage, error) {
	if r == nil || len(r.CompletedAt) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(r.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("encode completed_at: %w", err)
	}
	return data, nil
}

// keepCleared returns a copy of incoming with the cleared levels and
// completion times of stored added. A write never un-clears a level that
// another device cleared.
func keepCleared(stored, incoming *domain.ProgressRecord) *domain.ProgressRecord {
	out := incoming.Clone()
	if stored == nil {
		return out
	}
	out.ClearedLevels = append(out.ClearedLevels, stored.ClearedLevels...)
	out.Normalize()
	for l, at := range stored.CompletedAt {
		if _, ok := out.CompletedAt[l]; !ok && out.IsCleared(l) {
			out.CompletedAt[l] = at
		}
	}
	return out
}
