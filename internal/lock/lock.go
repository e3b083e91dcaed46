// Package lock serializes gate recomputation per application.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hiregate/internal/logger"
)

// Locker grants an exclusive section per key. The returned release func must
// be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// MutexMap is an in-process keyed mutex. A key's entry lives only while
// someone holds or waits for it.
type MutexMap struct {
	mu      sync.Mutex
	mutexes map[string]*keyMutex
}

type keyMutex struct {
	ch   chan struct{}
	refs int
}

func NewMutexMap() *MutexMap {
	return &MutexMap{
		mutexes: make(map[string]*keyMutex),
	}
}

// Acquire blocks until key is free or ctx is done.
func (m *MutexMap) Acquire(ctx context.Context, key string) (func(), error) {
	km := m.ref(key)
	select {
	case km.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-km.ch
				m.unref(key, km)
			})
		}, nil
	case <-ctx.Done():
		m.unref(key, km)
		return nil, ctx.Err()
	}
}

func (m *MutexMap) ref(key string) *keyMutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	km, ok := m.mutexes[key]
	if !ok {
		km = &keyMutex{ch: make(chan struct{}, 1)}
		m.mutexes[key] = km
	}
	km.refs++
	return km
}

func (m *MutexMap) unref(key string, km *keyMutex) {
	m.mu.Lock()
	defer m.mu.Unlock()

	km.refs--
	if km.refs == 0 {
		delete(m.mutexes, key)
	}
}

func (m *MutexMap) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mutexes)
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock is a lease-based lock shared by every process pointing at the
// same Redis. A holder that outlives TTL loses the lease.
type RedisLock struct {
	Client *redis.Client
	TTL    time.Duration
	Retry  time.Duration
	Prefix string
	Log    logger.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisLock {
	return &RedisLock{Client: client, TTL: ttl, Retry: 25 * time.Millisecond, Prefix: "hiregate:lock:", Log: log}
}

func (l *RedisLock) log() logger.Logger {
	if l.Log != nil {
		return l.Log
	}
	return logger.NewNoOpLogger()
}

// release deletes the lease if token still owns it. A failed delete leaves
// the key to expire on its own after TTL.
func (l *RedisLock) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	fields := map[string]interface{}{"lock_key": redisKey, "ttl": l.TTL.String()}
	n, err := releaseScript.Run(ctx, l.Client, []string{redisKey}, token).Int()
	if err != nil {
		l.log().WithError(err).Warn("redis lock release failed; lease held until ttl", fields)
		return
	}
	if n == 0 {
		l.log().Warn("redis lock lease expired before release", fields)
	}
}

func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	if l.Client == nil {
		return nil, errors.New("redis lock: client not configured")
	}
	redisKey := l.Prefix + key
	token := uuid.NewString()
	retry := l.Retry
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	for {
		ok, err := l.Client.SetNX(ctx, redisKey, token, l.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			var once sync.Once
			return func() { once.Do(func() { l.release(redisKey, token) }) }, nil
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Ping checks connectivity at startup.
func (l *RedisLock) Ping(ctx context.Context) error {
	if err := l.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (l *RedisLock) Close() error {
	if l.Client != nil {
		return l.Client.Close()
	}
	return nil
}
