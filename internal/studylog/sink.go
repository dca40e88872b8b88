package studylog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/felixgeelhaar/filldrill/internal/queue"
	"github.com/felixgeelhaar/filldrill/internal/storage"
)

// Sink receives study-log entries.
type Sink interface {
	Emit(ctx context.Context, e Entry) error
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Emit(context.Context, Entry) error { return nil }

// QueueSink publishes entries to a RabbitMQ queue.
type QueueSink struct {
	producer *queue.Producer
	queue    string
}

// NewQueueSink publishes to queueName, or queue.StudyLogQueueName when empty.
func NewQueueSink(p *queue.Producer, queueName string) *QueueSink {
	if queueName == "" {
		queueName = queue.StudyLogQueueName
	}
	return &QueueSink{producer: p, queue: queueName}
}

func (s *QueueSink) Emit(ctx context.Context, e Entry) error {
	if _, err := s.producer.Publish(ctx, s.queue, MessageType, e); err != nil {
		return fmt.Errorf("emit study log: %w", err)
	}
	return nil
}

// LocalSink stores entries in the device-local store under
// studylog:{date}:{id}.
type LocalSink struct {
	kv storage.KV
}

func NewLocalSink(kv storage.KV) *LocalSink {
	return &LocalSink{kv: kv}
}

func entryKey(e Entry) string {
	return storage.StudyLogPrefix + e.Date + ":" + e.ID
}

func (s *LocalSink) Emit(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal study log entry: %w", err)
	}
	if err := s.kv.Set(entryKey(e), data); err != nil {
		return fmt.Errorf("store study log entry: %w", err)
	}
	return nil
}

// List returns the stored entries whose date starts with datePrefix (e.g.
// "2026-03" or "2026-03-14"; empty lists everything), oldest first.
func (s *LocalSink) List(datePrefix string) ([]Entry, error) {
	keys, err := s.kv.Keys(storage.StudyLogPrefix + datePrefix)
	if err != nil {
		return nil, fmt.Errorf("list study log: %w", err)
	}
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		data, err := s.kv.Get(k)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read study log %s: %w", strings.TrimPrefix(k, storage.StudyLogPrefix), err)
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// Archive is a queue.Handler that stores consumed entries in s.
func (s *LocalSink) Archive(ctx context.Context, env *queue.Envelope) error {
	if env.Type != MessageType {
		return nil
	}
	var e Entry
	if err := env.Decode(&e); err != nil {
		return err
	}
	return s.Emit(ctx, e)
}

// MultiSink emits to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
