// Package progress owns the canonical ProgressRecord of each active question
// and keeps it synchronized across the session, device-local and remote
// storage tiers.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/metrics"
	"github.com/felixgeelhaar/filldrill/internal/storage"
	"github.com/felixgeelhaar/filldrill/internal/template"
)

// Remote is the remote durable store.
type Remote interface {
	// Fetch returns questionId -> record for one collection.
	Fetch(ctx context.Context, collectionID string) (map[string]*domain.ProgressRecord, error)
	Put(ctx context.Context, key domain.RecordKey, r *domain.ProgressRecord) error
}

// ContentSync mirrors committed records into the content collaborator's own
// copy of the question.
type ContentSync interface {
	SyncProgress(key domain.RecordKey, r *domain.ProgressRecord) error
}

// Options configures a Coordinator. Zero values are valid.
type Options struct {
	Remote  Remote
	Content ContentSync
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	// RemoteTimeout bounds each remote write attempt (default 10s).
	RemoteTimeout time.Duration
	// RemoteAttempts is the number of tries per remote write (default 3).
	RemoteAttempts int
}

// Coordinator hydrates records by merging the storage tiers and persists
// every mutation to all of them.
type Coordinator struct {
	arena   *Arena
	local   storage.KV
	remote  Remote
	content ContentSync
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	timeout time.Duration

	snapMu    sync.Mutex
	snapshots map[string]map[string]*domain.ProgressRecord
	snapGroup singleflight.Group

	commitMu  sync.Mutex
	committed map[domain.RecordKey]uint64

	writer *remoteWriter
}

// NewCoordinator creates a coordinator over a device-local store.
func NewCoordinator(local storage.KV, opts Options) *Coordinator {
	c := &Coordinator{
		arena:     NewArena(),
		local:     local,
		remote:    opts.Remote,
		content:   opts.Content,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
		timeout:   opts.RemoteTimeout,
		snapshots: make(map[string]map[string]*domain.ProgressRecord),
		committed: make(map[domain.RecordKey]uint64),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.remote != nil {
		c.writer = newRemoteWriter(c.remote, opts.RemoteAttempts, c.timeout, c.logger, c.metrics)
	}
	return c
}

// Arena exposes the in-memory tier.
func (c *Coordinator) Arena() *Arena {
	return c.arena
}

// Hydrate merges the fresh in-memory copy, the device-local copy (seeded by
// an embedded payload's prior record, if any) and the remote copy, installs
// the result as the canonical record and returns a copy of it. Storage
// failures are logged; hydration itself only fails when ctx is done.
func (c *Coordinator) Hydrate(ctx context.Context, key domain.RecordKey, answerText string, seed *domain.ProgressRecord) (*domain.ProgressRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	local := c.readLocal(key, answerText)
	if seed != nil {
		local = Merge(local, seed, nil)
	}
	remote := c.readRemote(ctx, key, answerText)

	rec, fromRemote := c.arena.install(key, local, remote)
	if fromRemote {
		c.metrics.RemoteFill()
		c.logger.Debug("remote filled progress gaps", "collection_id", key.CollectionID, "question_id", key.QuestionID)
		c.writeLocal(key, rec)
	}
	return rec, nil
}

// Get returns the canonical record, hydrating it when it is not held yet.
func (c *Coordinator) Get(ctx context.Context, key domain.RecordKey, answerText string) (*domain.ProgressRecord, error) {
	if rec, ok := c.arena.Get(key); ok {
		return rec, nil
	}
	return c.Hydrate(ctx, key, answerText, nil)
}

// Mutate applies fn to a copy of the canonical record. When fn returns an
// error nothing changes. Otherwise the copy replaces the record, is marked
// fresh and is committed to every tier; the committed copy is returned.
func (c *Coordinator) Mutate(ctx context.Context, key domain.RecordKey, fn func(*domain.ProgressRecord) error) (*domain.ProgressRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, version, err := c.arena.mutate(key, func(r *domain.ProgressRecord) error {
		if err := fn(r); err != nil {
			return err
		}
		r.UpdatedAt = c.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.commit(key, rec, version)
	return rec, nil
}

// Import merges a record received from another device over the canonical
// one. The incoming record takes precedence per level; cleared levels are
// unioned. The merged record is committed like any mutation, unless it adds
// nothing to the canonical one; then nothing is written and the canonical
// record is returned, so devices echoing each other's writes settle.
func (c *Coordinator) Import(ctx context.Context, key domain.RecordKey, in *domain.ProgressRecord) (*domain.ProgressRecord, error) {
	if in == nil {
		return nil, fmt.Errorf("import %s: nil record", key)
	}
	cur, err := c.Get(ctx, key, "")
	if err != nil {
		return nil, err
	}
	if equivalent(Merge(in, cur, nil), cur) {
		return cur, nil
	}
	return c.Mutate(ctx, key, func(r *domain.ProgressRecord) error {
		*r = *Merge(in, r, nil)
		return nil
	})
}

// Snapshot returns the records of a collection held in the device-local
// store, hydrated through the arena, keyed by question id.
func (c *Coordinator) Snapshot(ctx context.Context, collectionID string) (map[string]*domain.ProgressRecord, error) {
	keys, err := c.StoredKeys(collectionID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*domain.ProgressRecord, len(keys))
	for _, k := range keys {
		rec, err := c.Get(ctx, k, "")
		if err != nil {
			return nil, err
		}
		out[k.QuestionID] = rec
	}
	return out, nil
}

// commit writes to the device-local store synchronously, then hands the
// record to the content collaborator and the remote writer. A commit that
// lost a race with a newer version of the same record is dropped. No failure
// here is returned to the caller.
func (c *Coordinator) commit(key domain.RecordKey, rec *domain.ProgressRecord, version uint64) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if version <= c.committed[key] {
		return
	}
	c.committed[key] = version

	c.writeLocal(key, rec)

	if c.content != nil {
		err := c.content.SyncProgress(key, rec.Clone())
		c.metrics.PersistWrite("content", err)
		if err != nil {
			c.logger.Warn("content sync failed", "collection_id", key.CollectionID, "question_id", key.QuestionID, "error", err)
		}
	}

	if c.writer != nil {
		c.writer.enqueue(key, rec.Clone(), version)
	}
}

func (c *Coordinator) writeLocal(key domain.RecordKey, rec *domain.ProgressRecord) {
	data, err := EncodeRecord(rec)
	if err == nil {
		err = c.local.Set(storage.ProgressKey(key), data)
	}
	c.metrics.PersistWrite("local", err)
	if err != nil {
		c.logger.Warn("local progress write failed", "collection_id", key.CollectionID, "question_id", key.QuestionID, "error", err)
	}
}

func (c *Coordinator) readLocal(key domain.RecordKey, answerText string) *domain.ProgressRecord {
	data, err := c.local.Get(storage.ProgressKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		c.logger.Warn("local progress read failed", "collection_id", key.CollectionID, "question_id", key.QuestionID, "error", err)
		return nil
	}
	rec, err := DecodeRecord(data, answerText)
	if err != nil {
		c.logger.Warn("discarding unreadable local progress", "collection_id", key.CollectionID, "question_id", key.QuestionID, "error", err)
		return nil
	}
	return rec
}

func (c *Coordinator) readRemote(ctx context.Context, key domain.RecordKey, answerText string) *domain.ProgressRecord {
	if c.remote == nil {
		return nil
	}
	snap, err := c.snapshot(ctx, key.CollectionID)
	if err != nil {
		c.logger.Warn("remote progress fetch failed", "collection_id", key.CollectionID, "error", err)
		return nil
	}
	rec, ok := snap[key.QuestionID]
	if !ok || rec == nil {
		return nil
	}
	out := rec.Clone()
	out.Normalize()
	for l, t := range out.Templates {
		out.Templates[l] = template.Renormalize(t, answerText)
	}
	return out
}

// snapshot loads a collection's remote records once and caches them until
// InvalidateRemote.
func (c *Coordinator) snapshot(ctx context.Context, collectionID string) (map[string]*domain.ProgressRecord, error) {
	c.snapMu.Lock()
	snap, ok := c.snapshots[collectionID]
	c.snapMu.Unlock()
	if ok {
		return snap, nil
	}

	v, err, _ := c.snapGroup.Do(collectionID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		snap, err := c.remote.Fetch(fetchCtx, collectionID)
		if err != nil {
			return nil, &domain.NetworkFailure{Op: "fetch remote progress", Err: err}
		}
		if snap == nil {
			snap = map[string]*domain.ProgressRecord{}
		}
		c.snapMu.Lock()
		c.snapshots[collectionID] = snap
		c.snapMu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]*domain.ProgressRecord), nil
}

// InvalidateRemote drops the cached remote snapshot of a collection, or of
// every collection when collectionID is empty.
func (c *Coordinator) InvalidateRemote(collectionID string) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	if collectionID == "" {
		clear(c.snapshots)
		return
	}
	delete(c.snapshots, collectionID)
}

// Evict drops a record from memory so the next access re-hydrates it.
func (c *Coordinator) Evict(key domain.RecordKey) {
	c.arena.Evict(key)
}

// StoredKeys lists the records of a collection found in the device-local store.
func (c *Coordinator) StoredKeys(collectionID string) ([]domain.RecordKey, error) {
	keys, err := c.local.Keys(storage.CollectionProgressPrefix(collectionID))
	if err != nil {
		return nil, fmt.Errorf("list stored progress: %w", err)
	}
	out := make([]domain.RecordKey, 0, len(keys))
	for _, k := range keys {
		if rk, ok := storage.ParseProgressKey(k); ok {
			out = append(out, rk)
		}
	}
	return out, nil
}

// Wait blocks until queued remote writes finish or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	if c.writer == nil {
		return nil
	}
	return c.writer.wait(ctx)
}
