package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	defaultRedisPrefix = "segflux"
	defaultRedisTTL    = 7 * 24 * time.Hour
)

// RedisHistory persists records in Redis: each record as JSON under its own
// key with a TTL, plus a capped list of IDs, newest first.
type RedisHistory struct {
	client *redis.Client
	prefix string
	max    int64
	ttl    time.Duration
}

// NewRedisHistory keeps up to max IDs in the index list. Empty prefix and
// zero ttl select defaults.
func NewRedisHistory(client *redis.Client, prefix string, max int, ttl time.Duration) *RedisHistory {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if max <= 0 {
		max = 100
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisHistory{client: client, prefix: prefix, max: int64(max), ttl: ttl}
}

func (h *RedisHistory) listKey() string {
	return h.prefix + ":sessions"
}

func (h *RedisHistory) recordKey(id string) string {
	return h.prefix + ":session:" + id
}

func encodeRecord(rec Record) ([]byte, error) {
	return json.Marshal(rec)
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode session record: %w", err)
	}
	return rec, nil
}

func (h *RedisHistory) Add(ctx context.Context, rec Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	pipe := h.client.TxPipeline()
	pipe.Set(ctx, h.recordKey(rec.ID), data, h.ttl)
	pipe.LPush(ctx, h.listKey(), rec.ID)
	pipe.LTrim(ctx, h.listKey(), 0, h.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session %s: %w", rec.ID, err)
	}
	return nil
}

func (h *RedisHistory) List(ctx context.Context, limit int) ([]Record, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	ids, err := h.client.LRange(ctx, h.listKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = h.recordKey(id)
	}
	vals, err := h.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	out := make([]Record, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			// expired
			continue
		}
		rec, err := decodeRecord([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (h *RedisHistory) Get(ctx context.Context, id string) (Record, bool, error) {
	data, err := h.client.Get(ctx, h.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Ping checks that the Redis server is reachable.
func (h *RedisHistory) Ping(ctx context.Context) error {
	if err := h.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (h *RedisHistory) Close() error {
	return h.client.Close()
}
