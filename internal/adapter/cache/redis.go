package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"stockstream/internal/domain/model"
	"stockstream/internal/infrastructure/metrics"
)

const (
	latestKeyPrefix = "stock:"
	channelPrefix   = "prices."
)

// RedisRelay mirrors every update into Redis so other processes can tail the
// feed: SET stock:<SYM> with a TTL plus PUBLISH prices.<SYM>, in one pipeline.
// It attaches as a global subscriber. Redis failures are logged and counted
// but never reported to fanout, so a Redis outage does not evict the relay.
type RedisRelay struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRedisRelay(addr, password string, db int, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRelay{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  logger,
	}, nil
}

func (a *RedisRelay) ID() string { return "redis-relay" }

func (a *RedisRelay) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func (a *RedisRelay) Deliver(ctx context.Context, price model.PriceUpdate) error {
	if err := a.publish(ctx, price); err != nil {
		if a.metrics != nil {
			a.metrics.RelayErrors.Inc()
		}
		a.logger.Warn("redis relay write failed", zap.String("symbol", price.Symbol), zap.Error(err))
	}
	return nil
}

func (a *RedisRelay) publish(ctx context.Context, price model.PriceUpdate) error {
	data, err := json.Marshal(price)
	if err != nil {
		return fmt.Errorf("failed to marshal price: %w", err)
	}

	pipe := a.client.Pipeline()
	pipe.Set(ctx, latestKeyPrefix+price.Symbol, data, a.ttl)
	pipe.Publish(ctx, channelPrefix+price.Symbol, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to exec redis pipeline: %w", err)
	}
	return nil
}

func (a *RedisRelay) Close() error {
	return a.client.Close()
}
