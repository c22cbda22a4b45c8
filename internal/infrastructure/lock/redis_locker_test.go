package lock_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/application/controller"
	apperrors "github.com/rcarvalho-pb/payment_orchestrator-go/internal/errors"
	"github.com/rcarvalho-pb/payment_orchestrator-go/internal/infrastructure/lock"
)

var _ controller.Locker = (*lock.RedisLocker)(nil)

// fakeRedis mimics SET NX and the token guarded scripts on a map.
type fakeRedis struct {
	mu       sync.Mutex
	values   map[string]string
	ttls     map[string]time.Duration
	renewals int
	failSet  bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return redis.NewBoolResult(false, errors.New("connection refused"))
	}
	if _, held := f.values[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}
	if strings.Contains(script, "PEXPIRE") {
		f.renewals++
		f.ttls[keys[0]] = time.Duration(args[1].(int64)) * time.Millisecond
		return redis.NewCmdResult(int64(1), nil)
	}
	delete(f.values, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func (f *fakeRedis) value(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[key]
}

func (f *fakeRedis) ttl(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[key]
}

func (f *fakeRedis) set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
}

func (f *fakeRedis) renewed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renewals
}

func TestRedisLocker_ShouldAllowSingleHolderPerKey(t *testing.T) {
	client := newFakeRedis()
	locker := &lock.RedisLocker{Client: client, TTL: time.Minute}
	ctx := context.Background()

	unlock, err := locker.TryLock(ctx, "instr-1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, client.ttl(lock.KeyPrefix+"instr-1"))

	_, err = locker.TryLock(ctx, "instr-1")
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))

	other, err := locker.TryLock(ctx, "instr-2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()

	again, err := locker.TryLock(ctx, "instr-1")
	require.NoError(t, err)
	again()
}

func TestRedisLocker_ShouldNotReleaseLockTakenOverAfterExpiry(t *testing.T) {
	client := newFakeRedis()
	locker := &lock.RedisLocker{Client: client}
	ctx := context.Background()

	unlock, err := locker.TryLock(ctx, "instr-1")
	require.NoError(t, err)

	client.set(lock.KeyPrefix+"instr-1", "someone-else")
	unlock()

	assert.Equal(t, "someone-else", client.value(lock.KeyPrefix+"instr-1"))
	assert.Equal(t, 30*time.Second, client.ttl(lock.KeyPrefix+"instr-1"))
}

func TestRedisLocker_WhenRedisFails_ShouldReturnInternalError(t *testing.T) {
	client := newFakeRedis()
	client.failSet = true
	locker := &lock.RedisLocker{Client: client}

	_, err := locker.TryLock(context.Background(), "instr-1")
	assert.True(t, apperrors.IsKind(err, apperrors.KindInternal))
}

func TestRedisLocker_WhileHeld_ShouldRenewLease(t *testing.T) {
	client := newFakeRedis()
	locker := &lock.RedisLocker{Client: client, TTL: 30 * time.Millisecond}

	unlock, err := locker.TryLock(context.Background(), "instr-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return client.renewed() >= 2 }, time.Second, time.Millisecond)
	assert.NotEmpty(t, client.value(lock.KeyPrefix+"instr-1"))

	unlock()
	after := client.renewed()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, client.renewed())
	assert.Empty(t, client.value(lock.KeyPrefix+"instr-1"))
}

func TestRedisLocker_WhenLeaseTakenOver_ShouldStopRenewing(t *testing.T) {
	client := newFakeRedis()
	locker := &lock.RedisLocker{Client: client, TTL: 30 * time.Millisecond}

	unlock, err := locker.TryLock(context.Background(), "instr-1")
	require.NoError(t, err)
	defer unlock()

	client.set(lock.KeyPrefix+"instr-1", "someone-else")
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, client.renewed())
	assert.Equal(t, "someone-else", client.value(lock.KeyPrefix+"instr-1"))
}
