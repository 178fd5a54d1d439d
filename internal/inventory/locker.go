package inventory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serialises mutations per key. Keys are always acquired in sorted order
// so multi-warehouse movements cannot deadlock against each other.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker constructs a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*lockSlot)}
}

// Lock acquires every key or none.
func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedCopy(dedupe(keys))
	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}
	for _, key := range keys {
		slot := l.acquireSlot(key)
		select {
		case slot.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			l.dropRef(key)
			release()
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *LocalLocker) acquireSlot(key string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	slot := l.slots[key]
	l.mu.Unlock()
	<-slot.ch
	l.dropRef(key)
}

func (l *LocalLocker) dropRef(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot := l.slots[key]
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// ErrLockTimeout indicates the lock could not be acquired before the deadline.
var ErrLockTimeout = errors.New("inventory: lock acquisition timed out")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a lease-based lock shared by every API and worker instance.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker constructs a RedisLocker. The ttl bounds how long a crashed
// holder can block a key.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, retry: 20 * time.Millisecond}
}

// Lock acquires every key or none.
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedCopy(dedupe(keys))
	token := uuid.NewString()
	held := make([]string, 0, len(keys))
	release := func() {
		// Release must run even when the caller's context is already done.
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = releaseScript.Run(bg, l.client, []string{held[i]}, token).Err()
		}
	}
	for _, key := range keys {
		if err := l.acquire(ctx, key, token); err != nil {
			release()
			return nil, err
		}
		held = append(held, key)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ErrLockTimeout
			}
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrLockTimeout
		case <-time.After(l.retry):
		}
	}
}

func dedupe(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}
