// Package storage defines the device-local key/value contract and its key
// scheme. Values are JSON documents.
package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/filldrill/internal/domain"
)

// ErrNotFound is returned by Get and Delete for a missing key.
var ErrNotFound = errors.New("key not found")

// KV is a device-local persistent store.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	// Keys lists every key starting with prefix, sorted.
	Keys(prefix string) ([]string, error)
	Close() error
}

// Key namespaces.
const (
	ProgressPrefix = "progress:"
	DraftPrefix    = "draft:"
	StudyLogPrefix = "studylog:"
)

// ProgressKey returns progress:{collectionId}:{questionId}.
func ProgressKey(k domain.RecordKey) string {
	return ProgressPrefix + k.CollectionID + ":" + k.QuestionID
}

// DraftKey returns draft:{collectionId}:{questionId}:{level}.
func DraftKey(k domain.SlotKey) string {
	return fmt.Sprintf("%s%s:%s:%d", DraftPrefix, k.CollectionID, k.QuestionID, int(k.Level))
}

// CollectionProgressPrefix is the prefix of every progress key in a collection.
func CollectionProgressPrefix(collectionID string) string {
	return ProgressPrefix + collectionID + ":"
}

// ParseProgressKey is the inverse of ProgressKey. Question ids may contain
// colons; collection ids may not.
func ParseProgressKey(key string) (domain.RecordKey, bool) {
	rest, ok := strings.CutPrefix(key, ProgressPrefix)
	if !ok {
		return domain.RecordKey{}, false
	}
	c, q, ok := strings.Cut(rest, ":")
	if !ok || c == "" || q == "" {
		return domain.RecordKey{}, false
	}
	return domain.RecordKey{CollectionID: c, QuestionID: q}, true
}

// ParseDraftKey is the inverse of DraftKey.
func ParseDraftKey(key string) (domain.SlotKey, bool) {
	rest, ok := strings.CutPrefix(key, DraftPrefix)
	if !ok {
		return domain.SlotKey{}, false
	}
	i := strings.LastIndex(rest, ":")
	if i < 0 {
		return domain.SlotKey{}, false
	}
	n, err := strconv.Atoi(rest[i+1:])
	if err != nil || !domain.Level(n).Valid() {
		return domain.SlotKey{}, false
	}
	c, q, ok := strings.Cut(rest[:i], ":")
	if !ok || c == "" || q == "" {
		return domain.SlotKey{}, false
	}
	return domain.SlotKey{RecordKey: domain.RecordKey{CollectionID: c, QuestionID: q}, Level: domain.Level(n)}, true
}
