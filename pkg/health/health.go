// Package health serves liveness, readiness and Prometheus metrics for the fern worker.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Response struct {
	Status     Status                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
	ReportedAt time.Time              `json:"reported_at"`
}

// CheckFunc pings one dependency.
type CheckFunc func(ctx context.Context) error

type check struct {
	fn       CheckFunc
	critical bool
}

type Checker struct {
	checks    map[string]check
	startTime time.Time
	version   string
	timeout   time.Duration
	mu        sync.RWMutex
	ready     bool
}

func NewChecker(version string) *Checker {
	return &Checker{
		checks:    make(map[string]check),
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// Register adds a dependency whose failure makes the service unhealthy.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check{fn: fn, critical: true}
}

// RegisterOptional adds a dependency whose failure only degrades the service.
func (c *Checker) RegisterOptional(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check{fn: fn}
}

func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// LivenessHandler: is the process running?
func (c *Checker) LivenessHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, Response{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		ReportedAt: time.Now(),
	})
}

// ReadinessHandler: has startup finished and are the critical dependencies reachable?
func (c *Checker) ReadinessHandler(ctx echo.Context) error {
	if !c.IsReady() {
		return ctx.JSON(http.StatusServiceUnavailable, Response{
			Status:     StatusUnhealthy,
			Version:    c.version,
			ReportedAt: time.Now(),
			Checks: map[string]CheckResult{
				"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
			},
		})
	}
	return c.HealthHandler(ctx)
}

func (c *Checker) HealthHandler(ctx echo.Context) error {
	checks := c.RunChecks(ctx.Request().Context())
	overall := calculateOverallStatus(checks)

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	return ctx.JSON(statusCode, Response{
		Status:     overall,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     checks,
		ReportedAt: time.Now(),
	})
}

// RunChecks pings every registered dependency.
func (c *Checker) RunChecks(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]check, len(c.checks))
	for name, ch := range c.checks {
		checks[name] = ch
	}
	c.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]CheckResult, len(names))
	for _, name := range names {
		ch := checks[name]
		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := ch.fn(cctx)
		cancel()

		if err != nil {
			status := StatusDegraded
			if ch.critical {
				status = StatusUnhealthy
			}
			results[name] = CheckResult{Status: status, Message: err.Error(), Latency: time.Since(start).String()}
			continue
		}
		results[name] = CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
	}
	return results
}

func calculateOverallStatus(checks map[string]CheckResult) Status {
	hasDegraded := false
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			hasDegraded = true
		}
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// RegisterRoutes registers health check routes under /api/v1
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	health := e.Group("/api/v1/health")
	health.GET("", c.HealthHandler)
	health.GET("/live", c.LivenessHandler)
	health.GET("/ready", c.ReadinessHandler)
}
