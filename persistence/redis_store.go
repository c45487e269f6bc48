package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/big3labs/waveflow/workflow"
)

// RedisResultStore is a Redis-based implementation of ResultStore.
// Each result is a JSON string with a TTL; a sorted set scored by finish time
// indexes them for List.
type RedisResultStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisResultStore connects to Redis and creates a result store
func NewRedisResultStore(config StoreConfig) (*RedisResultStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Redis.Addr,
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		PoolSize:     config.Redis.PoolSize,
		MinIdleConns: config.Redis.MinIdleConns,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisResultStoreWithClient(client, config), nil
}

// NewRedisResultStoreWithClient wraps an existing client
func NewRedisResultStoreWithClient(client *redis.Client, config StoreConfig) *RedisResultStore {
	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "waveflow:"
	}
	return &RedisResultStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       config.TTL,
	}
}

// resultKey returns the Redis key for a plan's result
func (s *RedisResultStore) resultKey(planID string) string {
	return s.keyPrefix + "result:" + planID
}

// indexKey returns the Redis key for the finish-time index
func (s *RedisResultStore) indexKey() string {
	return s.keyPrefix + "results"
}

// Save persists a result, replacing any earlier result of the plan
func (s *RedisResultStore) Save(ctx context.Context, result *workflow.WorkflowResult) error {
	if result == nil || result.PlanID == "" {
		return ErrInvalidInput
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.resultKey(result.PlanID), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(result.FinishedAt.UnixNano()),
		Member: result.PlanID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// Get retrieves the result of a plan
func (s *RedisResultStore) Get(ctx context.Context, planID string) (*workflow.WorkflowResult, error) {
	data, err := s.client.Get(ctx, s.resultKey(planID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return decodeResult(data)
}

// List returns results, most recently finished first. Index entries whose
// result has expired are pruned on the way.
func (s *RedisResultStore) List(ctx context.Context, limit int) ([]*workflow.WorkflowResult, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	var results []*workflow.WorkflowResult
	start := int64(0)
	for {
		ids, err := s.client.ZRevRange(ctx, s.indexKey(), start, stop).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list results: %w", err)
		}
		if len(ids) == 0 {
			return results, nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.resultKey(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load results: %w", err)
		}

		var stale []any
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				stale = append(stale, ids[i])
				continue
			}
			r, err := decodeResult([]byte(str))
			if err != nil {
				return nil, err
			}
			results = append(results, r)
		}

		if len(stale) > 0 {
			if err := s.client.ZRem(ctx, s.indexKey(), stale...).Err(); err != nil {
				return nil, fmt.Errorf("failed to prune index: %w", err)
			}
		}

		// 未限制数量，或已凑够 limit，或索引中已无更多条目
		if limit <= 0 || len(results) >= limit || len(stale) == 0 {
			return results, nil
		}
		// 清理过期条目后索引前移，从当前已取数量继续补齐
		start = int64(len(results))
		stop = int64(limit - 1)
	}
}

// Delete removes the result of a plan
func (s *RedisResultStore) Delete(ctx context.Context, planID string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.resultKey(planID))
	pipe.ZRem(ctx, s.indexKey(), planID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks if the store is healthy
func (s *RedisResultStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the store
func (s *RedisResultStore) Close() error {
	return s.client.Close()
}
