package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/observability/logging"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/prediction"
)

// RedisStore implements MetricsStore using Redis. Records are stored as
// JSON and indexed with sorted sets for newest-first queries.
//
// Key patterns:
//   - {prefix}{id}                          -> JSON record data
//   - {prefix}index:time                    -> all records by timestamp
//   - {prefix}index:kind:{kind}             -> records of one kind
//   - {prefix}index:source:{source}         -> records of one source
//   - {prefix}index:{source}:{kind}         -> records of one source+kind
//
// Index scores are unix nanoseconds, so ZREVRANGE yields newest first.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	enabled   bool
}

// NewRedisStore creates a Redis-backed performance store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "tabfusion:"
	}

	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if cfg.TTLSeconds <= 0 {
		ttl = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	store := &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		enabled:   true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.CheckConnection(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logging.Infof("RedisStore connected to %s with prefix %s, TTL %v",
		cfg.Address, keyPrefix, ttl)

	return store, nil
}

// IsEnabled returns whether the store is enabled.
func (r *RedisStore) IsEnabled() bool {
	return r.enabled
}

// CheckConnection verifies the Redis connection is healthy.
func (r *RedisStore) CheckConnection(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (r *RedisStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RedisStore) recordKey(id string) string {
	return r.keyPrefix + id
}

func (r *RedisStore) indexKey(source prediction.Source, kind RecordKind) string {
	switch {
	case source != "" && kind != "":
		return fmt.Sprintf("%sindex:%s:%s", r.keyPrefix, source, kind)
	case source != "":
		return fmt.Sprintf("%sindex:source:%s", r.keyPrefix, source)
	case kind != "":
		return fmt.Sprintf("%sindex:kind:%s", r.keyPrefix, kind)
	default:
		return r.keyPrefix + "index:time"
	}
}

// Append stores one record and updates every index it belongs to.
func (r *RedisStore) Append(ctx context.Context, rec MetricRecord) error {
	if rec.ID == "" || rec.Kind == "" {
		return ErrInvalidInput
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	member := redis.Z{
		Score:  float64(rec.Timestamp.UnixNano()),
		Member: rec.ID,
	}

	indexes := []string{
		r.indexKey("", ""),
		r.indexKey("", rec.Kind),
	}
	if rec.Source != "" {
		indexes = append(indexes,
			r.indexKey(rec.Source, ""),
			r.indexKey(rec.Source, rec.Kind))
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.recordKey(rec.ID), data, r.ttl)
	for _, key := range indexes {
		pipe.ZAdd(ctx, key, member)
		pipe.Expire(ctx, key, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store record: %w", err)
	}

	return nil
}

// Query returns records matching the filter, newest first. Records whose
// payload already expired are dropped from the result.
func (r *RedisStore) Query(ctx context.Context, filter QueryFilter) ([]MetricRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	ids, err := r.client.ZRevRange(ctx, r.indexKey(filter.Source, filter.Kind), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recordKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}

	records := make([]MetricRecord, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}

		var rec MetricRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			logging.Warnf("RedisStore: dropping undecodable record %s: %v", ids[i], err)
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}
