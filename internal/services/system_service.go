package services

import (
	"context"
	"errors"
	"time"

	"github.com/quickcart/commerce/internal/repositories"
)

// BuildInfo describes the running binary for /healthz and /readyz.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
}

// NewSystemService stamps build details and uptime onto the dependency report. StartedAt
// defaults to construction time.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	s := &systemService{health: deps.HealthRepository, now: deps.Clock, build: deps.Build}
	if s.now == nil {
		s.now = time.Now
	}
	if s.build.StartedAt.IsZero() {
		s.build.StartedAt = s.now()
	}
	return s, nil
}

func (s *systemService) Readiness(ctx context.Context) (HealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return HealthReport{}, err
	}
	now := s.now().UTC()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if report.Version == "" {
		report.Version = s.build.Version
	}
	if report.Environment == "" {
		report.Environment = s.build.Environment
	}
	report.Uptime = now.Sub(s.build.StartedAt)
	if report.Status == "" {
		report.Status = report.Overall()
	}
	return report, nil
}
