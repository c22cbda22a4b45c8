package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infra/logging"
)

const KeyPrefix = "payment:lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another process is left alone.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// extendScript resets the expiry while the key still holds our token.
const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisLocker gives one writer per key across processes. Locks expire after
// TTL so a crashed holder cannot block a key forever; a live holder renews
// its lease every TTL/3 until it unlocks, so a slow plugin call keeps it.
type RedisLocker struct {
	Client Client
	TTL    time.Duration
	Logger logging.Logger
}

func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	redisKey := KeyPrefix + key
	token := uuid.NewString()

	ok, err := l.Client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "acquire lock on %s", key)
	}
	if !ok {
		return nil, apperrors.Conflict("an operation on %s is already in progress", key).
			WithContext("key", key)
	}

	stop := make(chan struct{})
	go l.renew(redisKey, token, ttl, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			err := l.Client.Eval(context.Background(), releaseScript, []string{redisKey}, token).Err()
			if err != nil && l.Logger != nil {
				l.Logger.Warn("failed to release lock", map[string]any{
					"key":   key,
					"error": err,
				})
			}
		})
	}, nil
}

func (l *RedisLocker) renew(redisKey, token string, ttl time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		held, err := l.Client.Eval(context.Background(), extendScript, []string{redisKey}, token, ttl.Milliseconds()).Int64()
		if err == nil && held == 1 {
			continue
		}
		if l.Logger != nil {
			l.Logger.Warn("lock lease lost", map[string]any{
				"key":   redisKey,
				"error": err,
			})
		}
		return
	}
}
