package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix = "ipishield:audit:"
	indexKey        = "ipishield:audit:index"
)

// RedisStore is a Store backed by Redis, for deployments where audit
// records must outlive the process.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects a RedisStore to the given Redis instance.
func NewRedisStore(addr, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client}
}

// NewRedisStoreWithClient wraps an existing Redis client (useful for
// testing).
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func recordKey(id string) string {
	return recordKeyPrefix + id
}

// Append stores a record under its request id and pushes the id onto the
// chronological index. Write-once: an existing id is an error.
func (s *RedisStore) Append(ctx context.Context, rec Record) error {
	if rec.RequestID == "" {
		return fmt.Errorf("audit: empty request id")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, recordKey(rec.RequestID), payload, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicate
	}
	return s.client.RPush(ctx, indexKey, rec.RequestID).Err()
}

// Get retrieves one record by request id.
func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	raw, err := s.client.Get(ctx, recordKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal audit record %s: %w", id, err)
	}
	return rec, nil
}

// List returns the most recent records, oldest first, capped at limit.
// limit <= 0 returns everything.
func (s *RedisStore) List(ctx context.Context, limit int) ([]Record, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	ids, err := s.client.LRange(ctx, indexKey, start, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close shuts down the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
