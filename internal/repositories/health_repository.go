package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/quickcart/commerce/internal/domain"
)

// DefaultCheckTimeout applies to checks that set no Timeout.
const DefaultCheckTimeout = 1500 * time.Millisecond

// DependencyCheck is one backend /readyz reports on. Check returning an error marks the backend
// degraded; running out of time or being cancelled marks it down.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// HealthChecker runs every DependencyCheck in parallel.
type HealthChecker struct {
	checks []DependencyCheck
	now    func() time.Time
}

var _ HealthRepository = (*HealthChecker)(nil)

func NewHealthChecker(checks ...DependencyCheck) (*HealthChecker, error) {
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks")
	}
	checks = append([]DependencyCheck(nil), checks...)
	names := make(map[string]bool, len(checks))
	for i, check := range checks {
		name := strings.TrimSpace(check.Name)
		switch {
		case name == "":
			return nil, fmt.Errorf("health: check %d has no name", i)
		case check.Check == nil:
			return nil, fmt.Errorf("health: check %s has no function", name)
		case names[name]:
			return nil, fmt.Errorf("health: check %s registered twice", name)
		}
		names[name] = true
		checks[i].Name = name
	}
	return &HealthChecker{checks: checks, now: time.Now}, nil
}

// WithClock replaces the clock used for latency and timestamps.
func (h *HealthChecker) WithClock(now func() time.Time) *HealthChecker {
	h.now = now
	return h
}

func (h *HealthChecker) Collect(ctx context.Context) (domain.HealthReport, error) {
	results := make([]domain.DependencyHealth, len(h.checks))
	var wg sync.WaitGroup
	for i := range h.checks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.run(ctx, h.checks[i])
		}(i)
	}
	wg.Wait()

	report := domain.HealthReport{
		Dependencies: make(map[string]domain.DependencyHealth, len(results)),
		GeneratedAt:  h.now(),
	}
	for i, result := range results {
		report.Dependencies[h.checks[i].Name] = result
	}
	report.Status = report.Overall()
	return report, nil
}

func (h *HealthChecker) run(ctx context.Context, check DependencyCheck) domain.DependencyHealth {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := h.now()
	err := check.Check(ctx)
	if err == nil {
		// A check that ignores its context can return nil after the deadline.
		err = ctx.Err()
	}
	result := domain.DependencyHealth{Status: domain.HealthOK, CheckedAt: h.now()}
	result.Latency = result.CheckedAt.Sub(start)

	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status, result.Error = domain.HealthDown, fmt.Sprintf("no answer within %s", timeout)
	case errors.Is(err, context.Canceled):
		result.Status, result.Error = domain.HealthDown, "check cancelled"
	default:
		result.Status, result.Error = domain.HealthDegraded, err.Error()
	}
	return result
}
