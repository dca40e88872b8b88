package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/metrics"
)

type pendingWrite struct {
	record  *domain.ProgressRecord
	version uint64
}

// remoteWriter sends committed records to the remote store in the
// background. Writes for one key run one at a time in version order; a newer
// version queued behind a running write replaces any older queued one.
type remoteWriter struct {
	remote  Remote
	retrier retry.Retry[struct{}]
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending map[domain.RecordKey]pendingWrite
	active  map[domain.RecordKey]bool
	// latest is the highest version ever queued per key.
	latest map[domain.RecordKey]uint64
	wg     sync.WaitGroup
}

func newRemoteWriter(remote Remote, attempts int, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *remoteWriter {
	if attempts <= 0 {
		attempts = 3
	}
	return &remoteWriter{
		remote: remote,
		retrier: retry.New[struct{}](retry.Config{
			MaxAttempts:   attempts,
			InitialDelay:  200 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
		}),
		timeout: timeout,
		logger:  logger,
		metrics: m,
		pending: make(map[domain.RecordKey]pendingWrite),
		active:  make(map[domain.RecordKey]bool),
		latest:  make(map[domain.RecordKey]uint64),
	}
}

func (w *remoteWriter) enqueue(key domain.RecordKey, rec *domain.ProgressRecord, version uint64) {
	w.mu.Lock()
	if version <= w.latest[key] {
		w.mu.Unlock()
		return
	}
	w.latest[key] = version
	w.pending[key] = pendingWrite{record: rec, version: version}
	if w.active[key] {
		w.mu.Unlock()
		return
	}
	w.active[key] = true
	w.wg.Add(1)
	w.mu.Unlock()

	go w.drain(key)
}

func (w *remoteWriter) drain(key domain.RecordKey) {
	defer w.wg.Done()

	for {
		w.mu.Lock()
		p, ok := w.pending[key]
		if !ok {
			delete(w.active, key)
			w.mu.Unlock()
			return
		}
		delete(w.pending, key)
		w.mu.Unlock()

		w.write(key, p)
	}
}

func (w *remoteWriter) write(key domain.RecordKey, p pendingWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	_, err := w.retrier.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.remote.Put(ctx, key, p.record)
	})
	w.metrics.PersistWrite("remote", err)
	if err != nil {
		w.logger.Warn("remote progress write failed",
			"collection_id", key.CollectionID,
			"question_id", key.QuestionID,
			"version", p.version,
			"error", err)
	}
}

func (w *remoteWriter) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
