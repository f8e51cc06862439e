package domain

import (
	"sort"
	"time"
)

// HealthStatus orders from best to worst: ok, degraded, error.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "error"
)

func (s HealthStatus) rank() int {
	switch s {
	case HealthOK, "":
		return 0
	case HealthDegraded:
		return 1
	default:
		return 2
	}
}

// Worse returns whichever of s and other is more severe.
func (s HealthStatus) Worse(other HealthStatus) HealthStatus {
	if other.rank() > s.rank() {
		return other
	}
	if s == "" {
		return HealthOK
	}
	return s
}

// DependencyHealth is the result of checking one backend.
type DependencyHealth struct {
	Status    HealthStatus
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport is what /readyz renders.
type HealthReport struct {
	Status       HealthStatus
	Dependencies map[string]DependencyHealth
	Version      string
	Environment  string
	Uptime       time.Duration
	GeneratedAt  time.Time
}

// Overall folds the dependency statuses into one; no dependencies means ok.
func (r HealthReport) Overall() HealthStatus {
	status := HealthOK
	for _, dep := range r.Dependencies {
		status = status.Worse(dep.Status)
	}
	return status
}

// Failures lists "name: reason" for every dependency that is not ok, sorted by name.
func (r HealthReport) Failures() []string {
	var out []string
	for name, dep := range r.Dependencies {
		if dep.Status.rank() == 0 {
			continue
		}
		reason := dep.Error
		if reason == "" {
			reason = string(dep.Status)
		}
		out = append(out, name+": "+reason)
	}
	sort.Strings(out)
	return out
}
