package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/redis"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// instantTimer fires immediately and records every wait it was asked for.
type instantTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	hook  func()
}

func (t *instantTimer) after(d time.Duration) <-chan time.Time {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	hook := t.hook
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func TestRunner_RunHoldsLock(t *testing.T) {
	locker := NewLocalLocker()
	runner := NewRunner(locker, testLogger(), DefaultConfig())

	err := runner.Run(context.Background(), Job{
		Class: ClassIngest,
		ID:    "batch-1",
		Run: func(ctx context.Context) error {
			_, err := locker.Guard(ctx, ClassIngest, time.Minute)
			assert.ErrorIs(t, err, redis.ErrLockNotAcquired)
			return nil
		},
	})
	require.NoError(t, err)

	lease, err := locker.Guard(context.Background(), ClassIngest, time.Minute)
	require.NoError(t, err, "lock is released after the job")
	require.NoError(t, lease.Release(context.Background()))
}

func TestRunner_ReschedulesWhileLocked(t *testing.T) {
	locker := NewLocalLocker()
	lease, err := locker.Guard(context.Background(), ClassEntityMerge, time.Minute)
	require.NoError(t, err)

	timer := &instantTimer{}
	waits := 0
	timer.hook = func() {
		waits++
		if waits == 2 {
			require.NoError(t, lease.Release(context.Background()))
		}
	}

	config := DefaultConfig()
	config.RescheduleBackoff = 5 * time.Second
	runner := NewRunner(locker, testLogger(), config, WithTimer(timer.after))

	ran := false
	err = runner.Run(context.Background(), Job{
		Class: ClassEntityMerge,
		ID:    "merge-1",
		Run: func(context.Context) error {
			ran = true
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, timer.waits)
}

func TestRunner_GivesUpAfterMaxReschedules(t *testing.T) {
	locker := NewLocalLocker()
	_, err := locker.Guard(context.Background(), ClassIngest, time.Minute)
	require.NoError(t, err)

	timer := &instantTimer{}
	config := DefaultConfig()
	config.MaxReschedules = 3
	runner := NewRunner(locker, testLogger(), config, WithTimer(timer.after))

	err = runner.Run(context.Background(), Job{
		Class: ClassIngest,
		ID:    "batch-2",
		Run: func(context.Context) error {
			t.Fatal("job must not run while its class is locked")
			return nil
		},
	})
	assert.ErrorIs(t, err, ErrStillBusy)
	assert.Len(t, timer.waits, 3)
}

func TestRunner_DifferentClassesDoNotBlock(t *testing.T) {
	locker := NewLocalLocker()
	_, err := locker.Guard(context.Background(), ClassIngest, time.Minute)
	require.NoError(t, err)

	runner := NewRunner(locker, testLogger(), DefaultConfig())
	ran := false
	err = runner.Run(context.Background(), Job{
		Class: ClassIdentifierRefresh,
		Run: func(context.Context) error {
			ran = true
			return nil
		},
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRunner_FailureReleasesLock(t *testing.T) {
	locker := NewLocalLocker()
	runner := NewRunner(locker, testLogger(), DefaultConfig())
	boom := errors.New("boom")

	err := runner.Run(context.Background(), Job{
		Class: ClassIngest,
		Run:   func(context.Context) error { return boom },
	})
	assert.ErrorIs(t, err, boom)

	_, err = locker.Guard(context.Background(), ClassIngest, time.Minute)
	assert.NoError(t, err)
}

type failingLocker struct{ err error }

func (l failingLocker) Guard(context.Context, string, time.Duration) (redis.Lease, error) {
	return nil, l.err
}

func TestRunner_LockErrorIsNotRescheduled(t *testing.T) {
	timer := &instantTimer{}
	down := errors.New("connection refused")
	runner := NewRunner(failingLocker{err: down}, testLogger(), DefaultConfig(), WithTimer(timer.after))

	err := runner.Run(context.Background(), Job{Class: ClassIngest, Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, down)
	assert.Empty(t, timer.waits)
}

func TestRunner_PoolSerializesOneClass(t *testing.T) {
	locker := NewLocalLocker()
	config := DefaultConfig()
	config.Workers = 4
	config.RescheduleBackoff = time.Millisecond
	config.MaxReschedules = 10000
	runner := NewRunner(locker, testLogger(), config)

	var running, peak, done atomic.Int32
	for i := 0; i < 8; i++ {
		runner.Submit(context.Background(), Job{
			Class: ClassIngest,
			Run: func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				running.Add(-1)
				done.Add(1)
				return nil
			},
		})
	}
	require.NoError(t, runner.Wait())
	assert.Equal(t, int32(8), done.Load())
	assert.Equal(t, int32(1), peak.Load())
}

func TestLocalLocker_ExpiredLockCanBeTaken(t *testing.T) {
	locker := NewLocalLocker()
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }

	stale, err := locker.Guard(context.Background(), ClassIngest, time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	lease, err := locker.Guard(context.Background(), ClassIngest, time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, stale.Release(context.Background()), redis.ErrLockNotHeld)
	assert.ErrorIs(t, stale.Extend(context.Background(), time.Minute), redis.ErrLockNotHeld)
	assert.NoError(t, lease.Release(context.Background()))
}

func TestLocalLocker_ExtendKeepsLockAlive(t *testing.T) {
	locker := NewLocalLocker()
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }

	lease, err := locker.Guard(context.Background(), ClassIngest, time.Minute)
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	require.NoError(t, lease.Extend(context.Background(), time.Minute))

	now = now.Add(50 * time.Second)
	_, err = locker.Guard(context.Background(), ClassIngest, time.Minute)
	assert.ErrorIs(t, err, redis.ErrLockNotAcquired, "extended lock is still held")

	now = now.Add(time.Minute)
	assert.ErrorIs(t, lease.Extend(context.Background(), time.Minute), redis.ErrLockNotHeld, "expired lock cannot be extended")
}

func TestRunner_HeartbeatOutlivesLockTTL(t *testing.T) {
	locker := NewLocalLocker()
	config := DefaultConfig()
	config.LockTTL = 50 * time.Millisecond
	config.RescheduleBackoff = 5 * time.Millisecond
	config.MaxReschedules = 1000
	runner := NewRunner(locker, testLogger(), config)

	var running, peak atomic.Int32
	for i := 0; i < 2; i++ {
		runner.Submit(context.Background(), Job{
			Class: ClassIngest,
			Run: func(ctx context.Context) error {
				n := running.Add(1)
				defer running.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(200 * time.Millisecond):
					return nil
				}
			},
		})
	}
	require.NoError(t, runner.Wait())
	assert.Equal(t, int32(1), peak.Load(), "one ingest job at a time even past the lock TTL")
}

// brokenLease can be released but never extended.
type brokenLease struct{ released atomic.Bool }

func (l *brokenLease) Extend(context.Context, time.Duration) error { return redis.ErrLockNotHeld }
func (l *brokenLease) Release(context.Context) error {
	l.released.Store(true)
	return nil
}

type brokenLocker struct{ lease *brokenLease }

func (l brokenLocker) Guard(context.Context, string, time.Duration) (redis.Lease, error) {
	return l.lease, nil
}

func TestRunner_LostLockCancelsJob(t *testing.T) {
	lease := &brokenLease{}
	config := DefaultConfig()
	config.LockTTL = 30 * time.Millisecond
	runner := NewRunner(brokenLocker{lease: lease}, testLogger(), config)

	err := runner.Run(context.Background(), Job{
		Class: ClassIngest,
		ID:    "batch-3",
		Run: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		},
	})
	assert.ErrorIs(t, err, ErrLockLost)
	assert.ErrorIs(t, err, redis.ErrLockNotHeld)
	assert.True(t, lease.released.Load())
}
