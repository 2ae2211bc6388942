package transcripts

import (
	"context"
	"errors"
	"time"

	"voicedesk/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("transcripts: lock wait timed out")

// RedisSerializer holds a short Redis lock per call while a turn is appended.
type RedisSerializer struct {
	rdb  *redis.Client
	ttl  time.Duration
	wait time.Duration
	poll time.Duration
}

func NewRedisSerializer(rdb *redis.Client) *RedisSerializer {
	return &RedisSerializer{rdb: rdb, ttl: 5 * time.Second, wait: 2 * time.Second, poll: 15 * time.Millisecond}
}

func lockKey(callID string) string { return "transcript:lock:" + callID }

func (r *RedisSerializer) Lock(ctx context.Context, callID string) (func(), error) {
	key := lockKey(callID)
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := utils.AcquireLock(ctx, r.rdb, key, token, r.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// detached: the caller's ctx may already be done
				_ = utils.ReleaseLock(context.WithoutCancel(ctx), r.rdb, key, token)
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.poll):
		}
	}
}
