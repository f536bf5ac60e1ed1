// Package jobs runs ingestion, merge and refresh work on a bounded pool, at most one instance per job class.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Job classes. Each one holds its own lock.
const (
	ClassIngest            = "ingest"
	ClassEntityMerge       = "entity-merge"
	ClassIdentifierRefresh = "identifier-refresh"
)

const (
	DefaultLockTTL           = 10 * time.Minute
	DefaultRescheduleBackoff = 30 * time.Second
	DefaultMaxReschedules    = 20
	DefaultWorkers           = 4
)

var (
	// ErrStillBusy is returned when a job could not get its lock after every reschedule.
	ErrStillBusy = errors.New("job class still locked after rescheduling")
	// ErrLockLost cancels a running job whose lock could not be extended.
	ErrLockLost = errors.New("job lock lost")
)

type Job struct {
	// Class names the lock. Two jobs of one class never run at the same time.
	Class string
	// ID identifies this invocation in logs.
	ID  string
	Run func(ctx context.Context) error
}

type Config struct {
	LockTTL           time.Duration
	RescheduleBackoff time.Duration
	MaxReschedules    int
	Workers           int
}

func DefaultConfig() Config {
	return Config{
		LockTTL:           DefaultLockTTL,
		RescheduleBackoff: DefaultRescheduleBackoff,
		MaxReschedules:    DefaultMaxReschedules,
		Workers:           DefaultWorkers,
	}
}

type Runner struct {
	locker Locker
	config Config
	logger ectologger.Logger
	after  func(time.Duration) <-chan time.Time
	group  *errgroup.Group
}

type Option func(*Runner)

// WithTimer replaces time.After for the reschedule wait.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(r *Runner) { r.after = after }
}

func NewRunner(locker Locker, logger ectologger.Logger, config Config, opts ...Option) *Runner {
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.RescheduleBackoff <= 0 {
		config.RescheduleBackoff = DefaultRescheduleBackoff
	}
	if config.MaxReschedules < 0 {
		config.MaxReschedules = 0
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}

	group := &errgroup.Group{}
	group.SetLimit(config.Workers)

	r := &Runner{
		locker: locker,
		config: config,
		logger: logger,
		after:  time.After,
		group:  group,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit queues the job on the pool, blocking while every worker is busy.
// Failures are logged and surface from Wait.
func (r *Runner) Submit(ctx context.Context, job Job) {
	r.group.Go(func() error {
		return r.Run(ctx, job)
	})
}

// Wait blocks until every submitted job has finished and returns the first failure.
func (r *Runner) Wait() error {
	return r.group.Wait()
}

// Run executes the job on the calling goroutine once its class lock is held.
// A held lock reschedules the attempt after the fixed backoff.
func (r *Runner) Run(ctx context.Context, job Job) error {
	ctx, span := tracing.StartSpan(ctx, "jobs.Runner.Run")
	defer span.End()
	ctx = fernctx.SetJob(ctx, job.Class)

	log := r.logger.WithContext(ctx).WithFields(jobFields(job))

	for attempt := 0; ; attempt++ {
		lease, err := r.locker.Guard(ctx, job.Class, r.config.LockTTL)
		if err == nil {
			return r.execute(ctx, job, lease)
		}
		if !errors.Is(err, redis.ErrLockNotAcquired) {
			metrics.RecordJob(job.Class, "lock_error")
			return fmt.Errorf("acquire %s lock: %w", job.Class, err)
		}
		if attempt >= r.config.MaxReschedules {
			metrics.RecordJob(job.Class, "busy")
			log.Warnf("Job class still locked after %d reschedules", attempt)
			return fmt.Errorf("%s %s: %w", job.Class, job.ID, ErrStillBusy)
		}

		metrics.RecordJob(job.Class, "rescheduled")
		log.Debugf("Job class locked, rescheduling in %s", r.config.RescheduleBackoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.after(r.config.RescheduleBackoff):
		}
	}
}

// execute runs the job while a heartbeat extends its lease every third of the TTL.
// A failed extend cancels the job's context.
func (r *Runner) execute(ctx context.Context, job Job, lease redis.Lease) (err error) {
	log := r.logger.WithContext(ctx).WithFields(jobFields(job))
	metrics.JobsInFlight.Inc()
	start := time.Now()

	jobCtx, cancel := context.WithCancelCause(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		r.heartbeat(jobCtx, cancel, lease)
	}()

	defer func() {
		cancel(nil)
		<-stopped
		metrics.JobsInFlight.Dec()
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			log.WithError(releaseErr).Warn("Failed to release job lock")
		}
	}()

	err = job.Run(jobCtx)
	if cause := context.Cause(jobCtx); errors.Is(cause, ErrLockLost) {
		metrics.RecordJob(job.Class, "lock_lost")
		log.WithError(cause).Errorf("Job lost its lock after %s", time.Since(start))
		if err == nil {
			return cause
		}
		return fmt.Errorf("%w: %w", cause, err)
	}
	if err != nil {
		metrics.RecordJob(job.Class, "failed")
		log.WithError(err).Errorf("Job failed after %s", time.Since(start))
		return err
	}

	metrics.RecordJob(job.Class, "succeeded")
	log.Infof("Job finished in %s", time.Since(start))
	return nil
}

func (r *Runner) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, lease redis.Lease) {
	ticker := time.NewTicker(max(r.config.LockTTL/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Extend(ctx, r.config.LockTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				cancel(fmt.Errorf("%w: %w", ErrLockLost, err))
				return
			}
		}
	}
}

func jobFields(job Job) map[string]any {
	return map[string]any{
		"job_class": job.Class,
		"job_id":    job.ID,
	}
}
