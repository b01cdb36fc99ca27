package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyNamespace = "escrow:lock:"

// releaseScript удаляет ключ, только если им всё ещё владеет этот экземпляр.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisStore — операции go-redis, которые использует RedisLocker.
type redisStore interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisLocker реализует Locker через SET NX PX с токеном владельца.
type RedisLocker struct {
	client redisStore
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisLocker(client redisStore, ttl, wait time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	return acquireLoop(ctx, l.wait, func() (Release, bool, error) {
		return l.TryAcquire(ctx, key)
	})
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (Release, bool, error) {
	redisKey := keyNamespace + key
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, redisKey, owner, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx %s: %w", redisKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	release := func(ctx context.Context) error {
		var relErr error
		once.Do(func() {
			if err := releaseScript.Run(ctx, l.client, []string{redisKey}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
				relErr = fmt.Errorf("release %s: %w", redisKey, err)
			}
		})
		return relErr
	}
	return release, true, nil
}
