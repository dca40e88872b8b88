package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sqlc-dev/pqtype"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/progress"
)

// PostgresStore keeps one row per (collection, question) in
// fill_drill_progress.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres connects to databaseURL and applies pending migrations.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if err := Migrate(ctx, databaseURL); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(pool), nil
}

// Fetch returns every record of collectionID.
func (s *PostgresStore) Fetch(ctx context.Context, collectionID string) (map[string]*domain.ProgressRecord, error) {
	query := `
		SELECT question_id, record, cleared_levels, completed_at
		FROM fill_drill_progress WHERE collection_id = $1
	`
	rows, err := s.pool.Query(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	raw := make(map[string][]byte)
	cleared := make(map[string][]int32)
	completed := make(map[string]pqtype.NullRawMessage)
	for rows.Next() {
		var (
			qid    string
			record []byte
			levels []int32
			done   pqtype.NullRawMessage
		)
		if err := rows.Scan(&qid, &record, &levels, &done); err != nil {
			return nil, fmt.Errorf("scan progress row: %w", err)
		}
		raw[qid] = record
		cleared[qid] = levels
		completed[qid] = done
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress rows: %w", err)
	}

	out, err := decodeRows(raw)
	for qid, rec := range out {
		mergeClearedColumn(rec, cleared[qid])
		mergeCompletedColumn(rec, completed[qid])
	}
	return out, err
}

// Put upserts the record of key. Cleared levels and completion times are
// unioned with the stored row; the body is replaced.
func (s *PostgresStore) Put(ctx context.Context, key domain.RecordKey, r *domain.ProgressRecord) error {
	data, err := progress.EncodeRecord(r)
	if err != nil {
		return err
	}
	done, err := completedAt(r)
	if err != nil {
		return err
	}

	levels := make([]int32, 0, len(r.ClearedLevels))
	for _, l := range r.ClearedLevels {
		levels = append(levels, int32(l))
	}
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	query := `
		INSERT INTO fill_drill_progress (collection_id, question_id, record, cleared_levels, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (collection_id, question_id) DO UPDATE
		SET record = EXCLUDED.record,
		    cleared_levels = ARRAY(
		        SELECT DISTINCT l
		        FROM unnest(fill_drill_progress.cleared_levels || EXCLUDED.cleared_levels) AS l
		        ORDER BY l
		    ),
		    completed_at = CASE
		        WHEN fill_drill_progress.completed_at IS NULL THEN EXCLUDED.completed_at
		        WHEN EXCLUDED.completed_at IS NULL THEN fill_drill_progress.completed_at
		        ELSE fill_drill_progress.completed_at || EXCLUDED.completed_at
		    END,
		    updated_at = EXCLUDED.updated_at
	`
	_, err = s.pool.Exec(ctx, query,
		key.CollectionID, key.QuestionID, data, levels,
		pqtype.NullRawMessage{RawMessage: done, Valid: done != nil}, updated,
	)
	if err != nil {
		return fmt.Errorf("upsert progress %s: %w", key, err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// mergeClearedColumn adds the levels of the cleared_levels column to rec.
// The column accumulates every level any writer cleared, while the body
// holds only the last writer's view.
func mergeClearedColumn(rec *domain.ProgressRecord, col []int32) {
	if len(col) == 0 {
		return
	}
	for _, l := range col {
		rec.ClearedLevels = append(rec.ClearedLevels, domain.Level(l))
	}
	rec.Normalize()
}

// mergeCompletedColumn fills completion times missing from a record body
// from the completed_at column. Rows written before the body carried
// completion times only have the column.
func mergeCompletedColumn(rec *domain.ProgressRecord, col pqtype.NullRawMessage) {
	if !col.Valid || len(col.RawMessage) == 0 {
		return
	}
	var times map[domain.Level]time.Time
	if err := json.Unmarshal(col.RawMessage, &times); err != nil {
		return
	}
	for l, at := range times {
		if _, ok := rec.CompletedAt[l]; !ok && l.Valid() {
			rec.CompletedAt[l] = at
		}
	}
}
