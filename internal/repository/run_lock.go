package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock taken over by another run is left alone.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisRunLock is a best-effort named mutex with a TTL built on SET NX.
type RedisRunLock struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisRunLock returns nil when rdb is nil so callers can pass the
// result straight to consumers that accept a missing lock.
func NewRedisRunLock(rdb *redis.Client, prefix string) *RedisRunLock {
	if rdb == nil {
		return nil
	}
	return &RedisRunLock{rdb: rdb, prefix: prefix}
}

// TryLock takes the lock if it is free.  The returned release function is
// safe to call once the lock has expired.  A nil lock always succeeds.
func (l *RedisRunLock) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	if l == nil {
		return func() {}, true, nil
	}
	key := l.prefix + ":" + name
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return func() {}, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}
