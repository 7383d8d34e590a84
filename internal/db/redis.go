package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/location"
	"github.com/Tempo-Platform/tempo-ironsource-sub000/internal/models"
)

// ProfileKey holds the cached location profile.
const ProfileKey = "tempo:location_profile"

// RedisStore wraps a redis client used as the location profile cache and as
// the sandbox's per-day metric counters.
type RedisStore struct {
	Client *redis.Client
}

var _ location.Cache = (*RedisStore)(nil)

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(ctx context.Context, addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	// Add OpenTelemetry instrumentation to Redis client
	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// Load returns the cached location profile or location.ErrCacheMiss.
func (r *RedisStore) Load(ctx context.Context) (models.LocationSnapshot, error) {
	data, err := r.Client.Get(ctx, ProfileKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.LocationSnapshot{}, location.ErrCacheMiss
	}
	if err != nil {
		return models.LocationSnapshot{}, fmt.Errorf("get location profile: %w", err)
	}
	var snap models.LocationSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.LocationSnapshot{}, fmt.Errorf("decode location profile: %w", err)
	}
	return snap, nil
}

// Save replaces the cached location profile.
func (r *RedisStore) Save(ctx context.Context, snap models.LocationSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode location profile: %w", err)
	}
	return r.Client.Set(ctx, ProfileKey, data, 0).Err()
}

func metricCountKey(metricType string, day time.Time) string {
	return fmt.Sprintf("metrics:%s:%s", metricType, day.UTC().Format("2006-01-02"))
}

// IncrementMetric increments the daily counter for a received metric type.
// A 24h TTL is applied on first set.
func (r *RedisStore) IncrementMetric(ctx context.Context, metricType string, day time.Time) (int64, error) {
	key := metricCountKey(metricType, day)
	val, err := r.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if val == 1 {
		r.Client.Expire(ctx, key, 24*time.Hour)
	}
	return val, nil
}

// MetricCount returns the daily counter for metricType, zero when unset.
func (r *RedisStore) MetricCount(ctx context.Context, metricType string, day time.Time) int64 {
	n, _ := r.Client.Get(ctx, metricCountKey(metricType, day)).Int64()
	return n
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
