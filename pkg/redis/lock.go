package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	// ErrLockNotAcquired is returned when another worker holds the lock
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing or extending a lock that expired or changed owner
	ErrLockNotHeld = errors.New("lock not held")
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Lock is a held distributed lock
type Lock struct {
	client *Client
	key    string
	value  string
	ttl    time.Duration
}

// Locker hands out named locks so that at most one worker runs a job at a time.
type Locker struct {
	client    *Client
	keyPrefix string
}

func NewLocker(client *Client, keyPrefix string) *Locker {
	if keyPrefix == "" {
		keyPrefix = "fern:lock:"
	}
	return &Locker{client: client, keyPrefix: keyPrefix}
}

// Acquire takes the lock or fails fast with ErrLockNotAcquired
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	ctx, span := tracing.StartSpan(ctx, "redis.Locker.Acquire")
	defer span.End()

	key := l.keyPrefix + name
	value := uuid.New().String()

	ok, err := l.client.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", name)

	return &Lock{client: l.client, key: key, value: value, ttl: ttl}, nil
}

// Lease is a held lock that can be kept alive and given back.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Guard acquires the lock as a Lease.
func (l *Locker) Guard(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	lock, err := l.Acquire(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// Release deletes the lock if this holder still owns it
func (lock *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}

// Extend resets the lock's TTL if this holder still owns it
func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.ttl = ttl
	return nil
}
