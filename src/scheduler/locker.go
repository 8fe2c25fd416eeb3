package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Locker grants at most one holder per job name across every process sharing it
type Locker interface {
	// TryLock returns ok=false without blocking when the name is held elsewhere.
	// The returned release func is nil unless ok.
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// LocalLocker serializes jobs inside one process
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[name]; busy {
		return nil, false, nil
	}
	l.held[name] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, true, nil
}

// RedisLocker coordinates replicas through a redsync mutex per job
type RedisLocker struct {
	rs     *redsync.Redsync
	prefix string
}

// NewRedisLocker connects to redisURL (redis://host:port/db)
func NewRedisLocker(redisURL string) (*RedisLocker, *redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: "pcn-tracker:job:",
	}, client, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	mutex := l.rs.NewMutex(l.prefix+name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isTaken(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire job lock %s: %w", name, err)
	}

	return func() {
		// expiry frees the lock if this fails
		_, _ = mutex.UnlockContext(context.Background())
	}, true, nil
}

func isTaken(err error) bool {
	var taken *redsync.ErrTaken
	return errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken)
}
