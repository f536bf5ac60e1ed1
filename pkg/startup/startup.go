package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

// Dependency is an external resource the service needs before it can take work
// (database, redis, kafka, graph).
type Dependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Status int

const (
	StatusPending Status = iota
	StatusStarted
	StatusStopped
	StatusFailed
)

type Startup struct {
	order        []string
	dependencies map[string]Dependency
	statuses     map[string]Status
	logger       ectologger.Logger
	maxAttempts  int
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Startup{
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]Status),
		logger:       logger,
		maxAttempts:  maxAttempts,
		sleep:        sleepContext,
	}
}

func (s *Startup) AddDependency(dependency Dependency) {
	if _, ok := s.dependencies[dependency.GetName()]; !ok {
		s.order = append(s.order, dependency.GetName())
	}
	s.dependencies[dependency.GetName()] = dependency
}

// Start brings every dependency up, retrying the whole set with a fibonacci backoff in seconds.
func (s *Startup) Start(ctx context.Context) error {
	var lastErr error
	a, b := 1, 1

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		s.logger.WithContext(ctx).WithField("attempt", attempt).Infof("beginning startup attempt %d", attempt)

		lastErr = nil
		for _, name := range s.order {
			if err := s.startDependency(ctx, name, map[string]bool{}); err != nil {
				s.logger.WithContext(ctx).WithError(err).Errorf("startup dependency '%s' attempt %d failed", name, attempt)
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}

		if attempt == s.maxAttempts {
			break
		}

		s.logger.WithContext(ctx).Infof("retrying in %d seconds (attempt %d/%d)", a, attempt, s.maxAttempts)
		if err := s.sleep(ctx, time.Duration(a)*time.Second); err != nil {
			return err
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *Startup) startDependency(ctx context.Context, name string, visiting map[string]bool) error {
	if s.statuses[name] == StatusStarted {
		return nil
	}
	dependency, ok := s.dependencies[name]
	if !ok {
		return fmt.Errorf("unknown startup dependency '%s'", name)
	}
	if visiting[name] {
		return fmt.Errorf("startup dependency cycle at '%s'", name)
	}
	visiting[name] = true

	for _, upstream := range dependency.DependsOn() {
		if err := s.startDependency(ctx, upstream, visiting); err != nil {
			return err
		}
	}

	log := s.logger.WithContext(ctx).WithField("dependency", name)
	log.Infof("starting dependency '%s'", name)
	s.statuses[name] = StatusPending
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = StatusFailed
		return err
	}
	s.statuses[name] = StatusStarted
	return nil
}

// Stop shuts dependencies down in reverse registration order.
func (s *Startup) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(s.order) - 1; i >= 0; i-- {
		name := s.order[i]
		if s.statuses[name] != StatusStarted {
			continue
		}
		log := s.logger.WithContext(ctx).WithField("dependency", name)
		if err := s.dependencies[name].Stop(ctx); err != nil {
			log.WithError(err).Errorf("failed to stop dependency '%s'", name)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.statuses[name] = StatusStopped
		log.Infof("dependency '%s' stopped", name)
	}
	return firstErr
}

func (s *Startup) Status(name string) Status {
	return s.statuses[name]
}

// Func adapts plain start/stop functions to Dependency.
type Func struct {
	Name      string
	Upstream  []string
	StartFunc func(ctx context.Context) error
	StopFunc  func(ctx context.Context) error
}

func (f Func) GetName() string     { return f.Name }
func (f Func) DependsOn() []string { return f.Upstream }

func (f Func) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
