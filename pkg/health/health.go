// Package health tracks the result of named checks, one per database alias.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the outcome of a check or of all checks together.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckFunc is a function that performs a health check
type CheckFunc func(ctx context.Context) error

// Check represents a single health check result
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message"`
	Latency     time.Duration `json:"latency"`
	LastChecked time.Time     `json:"lastChecked"`
}

// Report is a snapshot of every check.
type Report struct {
	Status      Status    `json:"status"`
	Checks      []Check   `json:"checks"`
	LastHealthy time.Time `json:"lastHealthy"`
}

// Checker manages health checks
type Checker struct {
	mu          sync.RWMutex
	checks      map[string]*Check
	lastHealthy time.Time
	timeout     time.Duration
}

// NewChecker creates a checker that bounds each check by timeout; zero
// means no bound beyond the caller's context.
func NewChecker(timeout time.Duration) *Checker {
	return &Checker{
		checks:      make(map[string]*Check),
		lastHealthy: time.Now(),
		timeout:     timeout,
	}
}

// RunCheck executes a health check and updates the status
func (c *Checker) RunCheck(ctx context.Context, name string, check CheckFunc) Check {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	result := Check{Name: name, Status: StatusHealthy, Message: "OK"}
	if err := check(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	result.LastChecked = time.Now()
	result.Latency = result.LastChecked.Sub(start)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = &result
	if c.isHealthy() {
		c.lastHealthy = result.LastChecked
	}
	return result
}

// RunAll runs every check concurrently and returns the resulting report.
// Checks that are no longer present are forgotten.
func (c *Checker) RunAll(ctx context.Context, checks map[string]CheckFunc) Report {
	c.mu.Lock()
	for name := range c.checks {
		if _, ok := checks[name]; !ok {
			delete(c.checks, name)
		}
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		g.Go(func() error {
			c.RunCheck(gctx, name, check)
			return nil
		})
	}
	_ = g.Wait()
	return c.Report()
}

// Remove forgets a check.
func (c *Checker) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// OverallStatus is healthy when every check passes, unhealthy when none
// does and degraded in between.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.overall()
}

func (c *Checker) overall() Status {
	if len(c.checks) == 0 {
		return StatusHealthy
	}

	unhealthy := 0
	for _, check := range c.checks {
		if check.Status == StatusUnhealthy {
			unhealthy++
		}
	}

	switch {
	case unhealthy == 0:
		return StatusHealthy
	case unhealthy < len(c.checks):
		return StatusDegraded
	}
	return StatusUnhealthy
}

// Report returns every check sorted by name.
func (c *Checker) Report() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	checks := make([]Check, 0, len(c.checks))
	for _, check := range c.checks {
		checks = append(checks, *check)
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	return Report{
		Status:      c.overall(),
		Checks:      checks,
		LastHealthy: c.lastHealthy,
	}
}

// LastHealthy returns the last time all checks were healthy
func (c *Checker) LastHealthy() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHealthy
}

func (c *Checker) isHealthy() bool {
	for _, check := range c.checks {
		if check.Status != StatusHealthy {
			return false
		}
	}
	return true
}
