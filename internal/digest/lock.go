package digest

import (
	"context"
	"time"

	"voicedesk/pkg/logger"
	"voicedesk/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker keeps two concurrent ticks from both sending a tenant's digest.
// acquired is false when another run holds the key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), acquired bool, err error)
}

// RedisLocker is a SET NX lock. A successful send keeps the key until it
// expires, so the ttl should outlive the matching minute.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := utils.AcquireLock(ctx, l.rdb, key, token, l.ttl)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		if err := utils.ReleaseLock(context.WithoutCancel(ctx), l.rdb, key, token); err != nil {
			logger.From(ctx).Warn("digest lock release failed", "key", key, "error", err)
		}
	}, true, nil
}

func lockKey(tenantID string, localDate string) string {
	return "digest:" + tenantID + ":" + localDate
}
