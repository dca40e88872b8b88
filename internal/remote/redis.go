package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/filldrill/internal/domain"
	"github.com/felixgeelhaar/filldrill/internal/progress"
)

const redisKeyPrefix = "filldrill:progress:"

// RedisStore keeps one hash per collection: field = question id, value =
// encoded record.
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedisStore creates a store over an existing client.
func NewRedisStore(rdb *goredis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: redisKeyPrefix}
}

// OpenRedis connects to addr and pings it.
func OpenRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(rdb), nil
}

func (s *RedisStore) key(collectionID string) string {
	return s.prefix + collectionID
}

// Fetch returns every record of collectionID.
func (s *RedisStore) Fetch(ctx context.Context, collectionID string) (map[string]*domain.ProgressRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(collectionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	raw := make(map[string][]byte, len(fields))
	for qid, v := range fields {
		raw[qid] = []byte(v)
	}
	return decodeRows(raw)
}

// redisPutAttempts bounds optimistic retries when another writer touches the
// collection hash between read and write.
const redisPutAttempts = 5

// Put writes the record of key. Cleared levels already stored for key are
// kept.
func (s *RedisStore) Put(ctx context.Context, key domain.RecordKey, r *domain.ProgressRecord) error {
	hash := s.key(key.CollectionID)
	put := func(tx *goredis.Tx) error {
		var stored *domain.ProgressRecord
		prev, err := tx.HGet(ctx, hash, key.QuestionID).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return fmt.Errorf("redis hget %s: %w", key, err)
		default:
			// an unreadable stored copy is replaced
			stored, _ = progress.DecodeRecord(prev, "")
		}

		data, err := progress.EncodeRecord(keepCleared(stored, r))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, hash, key.QuestionID, data)
			return nil
		})
		return err
	}

	for range redisPutAttempts {
		err := s.rdb.Watch(ctx, put, hash)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis put %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("redis put %s: %w", key, goredis.TxFailedErr)
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
