package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// StockLockKey builds the lock key serialising writes to one stock position.
func StockLockKey(warehouseID, productID int64) string {
	return fmt.Sprintf("inventory:stock:%d:%d:lock", warehouseID, productID)
}

// KeyLocker grants exclusive access to a named key. The returned function
// releases the lock and is safe to call once.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// LocalLocker serialises callers inside one process.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

// NewLocalLocker constructs an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*localEntry)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry, false)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockNotObtained, key, ctx.Err())
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, entry, true) })
	}, nil
}

func (l *LocalLocker) release(key string, entry *localEntry, held bool) {
	if held {
		<-entry.sem
	}
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

// RedisLocker serialises callers across processes with a redis lease. The
// lease is refreshed every half ttl while held.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewRedisLocker wraps a redis client. A zero ttl defaults to 30s.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, retry: 50 * time.Millisecond, logger: slog.Default()}
}

// WithLogger sets the logger used for lease refresh and release failures.
func (l *RedisLocker) WithLogger(logger *slog.Logger) *RedisLocker {
	if logger != nil {
		l.logger = logger
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	opts := &redislock.Options{RetryStrategy: redislock.LinearBackoff(l.retry)}
	if _, ok := ctx.Deadline(); !ok {
		// Without a deadline the linear backoff would spin forever.
		opts.RetryStrategy = redislock.LimitRetry(redislock.LinearBackoff(l.retry), int(l.ttl/l.retry))
	}
	lock, err := l.client.Obtain(ctx, key, l.ttl, opts)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
		}
		return nil, err
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lock, key, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				l.logger.Warn("redis lock release failed", slog.String("key", key), slog.Any("error", err))
			}
		})
	}, nil
}

// keepAlive extends the lease until stop is closed. A failed refresh means
// the lease may pass to another process; the database advisory lock still
// serialises the write itself.
func (l *RedisLocker) keepAlive(lock *redislock.Lock, key string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			err := lock.Refresh(ctx, l.ttl, nil)
			cancel()
			if err != nil {
				l.logger.Warn("redis lock refresh failed", slog.String("key", key), slog.Any("error", err))
				return
			}
		}
	}
}

// ChainLocker acquires every locker in order and releases in reverse.
type ChainLocker []KeyLocker

func (c ChainLocker) Lock(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(c))
	unlockAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, locker := range c {
		if locker == nil {
			continue
		}
		release, err := locker.Lock(ctx, key)
		if err != nil {
			unlockAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return unlockAll, nil
}
