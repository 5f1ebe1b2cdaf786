package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"paydesk/internal/core/apperror"
	"paydesk/internal/core/lock"
	"paydesk/pkg/logger"
)

// unlockScript deletes the key only while it still holds our token, so an
// expired lease never releases a lock taken over by another instance.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type lockClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisLocker implements lock.Locker across server instances with
// SET NX PX leases.
type RedisLocker struct {
	client       lockClient
	prefix       string
	ttl          time.Duration
	pollInterval time.Duration
}

// RedisLockerOption tunes a RedisLocker.
type RedisLockerOption func(*RedisLocker)

// WithLeaseTTL sets how long a lease survives a crashed holder.
func WithLeaseTTL(ttl time.Duration) RedisLockerOption {
	return func(l *RedisLocker) { l.ttl = ttl }
}

// WithPollInterval sets the delay between acquisition attempts.
func WithPollInterval(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) { l.pollInterval = d }
}

// NewRedisLocker creates a locker storing keys under "paydesk:lock:".
func NewRedisLocker(client lockClient, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{
		client:       client,
		prefix:       "paydesk:lock:",
		ttl:          30 * time.Second,
		pollInterval: 25 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ lock.Locker = (*RedisLocker)(nil)

// Acquire implements lock.Locker. It polls until the lease is granted or
// ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, l.timeout(ctx, key)
			}
			return nil, apperror.NewStoreUnavailable(err).WithDetail("key", key)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, l.timeout(ctx, key)
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) releaser(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err := l.client.Eval(ctx, unlockScript, []string{redisKey}, token).Err()
			if err != nil && !errors.Is(err, redis.Nil) {
				logger.Warn(ctx, "release redis lock failed; lease will expire",
					"key", redisKey, "error", err)
			}
		})
	}
}

func (l *RedisLocker) timeout(ctx context.Context, key string) error {
	return apperror.NewTimeout("acquire lock").
		WithDetail("key", key).
		WithCause(ctx.Err())
}
