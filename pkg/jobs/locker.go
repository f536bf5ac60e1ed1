package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/Ramsey-B/fern/pkg/redis"
)

// Locker hands out named locks. A held lock makes Guard fail with redis.ErrLockNotAcquired.
type Locker interface {
	Guard(ctx context.Context, name string, ttl time.Duration) (redis.Lease, error)
}

// LocalLocker is a Locker for a single process, used when no Redis is configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocker) Guard(_ context.Context, name string, ttl time.Duration) (redis.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expires, ok := l.held[name]; ok && now.Before(expires) {
		return nil, redis.ErrLockNotAcquired
	}
	expires := now.Add(ttl)
	l.held[name] = expires

	return &localLease{locker: l, name: name, expires: expires}, nil
}

// localLease owns the lock while the stored expiry is still the one it set.
type localLease struct {
	locker  *LocalLocker
	name    string
	expires time.Time
}

func (lease *localLease) Extend(_ context.Context, ttl time.Duration) error {
	l := lease.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if current, ok := l.held[lease.name]; !ok || !current.Equal(lease.expires) || !now.Before(current) {
		return redis.ErrLockNotHeld
	}
	lease.expires = now.Add(ttl)
	l.held[lease.name] = lease.expires
	return nil
}

func (lease *localLease) Release(context.Context) error {
	l := lease.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.held[lease.name]; !ok || !current.Equal(lease.expires) {
		return redis.ErrLockNotHeld
	}
	delete(l.held, lease.name)
	return nil
}
