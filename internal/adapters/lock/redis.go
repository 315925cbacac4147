package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	"github.com/kevin07696/subscription-service/pkg/resilience"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig tunes the distributed lock
type RedisConfig struct {
	Prefix string
	TTL    time.Duration // lease; must exceed the longest locked section
}

// DefaultRedisConfig returns the standard lease
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Prefix: "subscription-service:lock:",
		TTL:    30 * time.Second,
	}
}

// RedisLocker serializes keys across service instances using SET NX PX
// leases released by a compare-and-delete script
type RedisLocker struct {
	client  redis.UniversalClient
	backoff resilience.BackoffStrategy
	logger  *zap.Logger
	cfg     RedisConfig
}

var _ ports.Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a distributed locker
func NewRedisLocker(client redis.UniversalClient, cfg RedisConfig, logger *zap.Logger) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRedisConfig().TTL
	}
	return &RedisLocker{
		client:  client,
		backoff: resilience.LockBackoff(),
		logger:  logger,
		cfg:     cfg,
	}
}

// Lock polls until the lease is acquired or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.cfg.Prefix + key
	token := uuid.New().String()

	for attempt := 0; ; attempt++ {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.cfg.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		if err := resilience.Wait(ctx, l.backoff, attempt); err != nil {
			return nil, err
		}
	}

	return func() {
		// the caller's context may already be done
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("failed to release lock",
				zap.String("key", key),
				zap.Error(err))
		}
	}, nil
}

// Connect parses a redis:// URL and pings the server
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
