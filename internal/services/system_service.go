package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	domain "github.com/alegny-health/api/internal/domain"
	"github.com/alegny-health/api/internal/repositories"
)

// DefaultCriticalDependencies names the checks whose failure takes the engine out of rotation.
// Firestore carries the Ledger; everything else only affects propagation.
var DefaultCriticalDependencies = []string{"firestore"}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// Critical overrides DefaultCriticalDependencies.
	Critical []string
}

type systemService struct {
	probes   repositories.HealthRepository
	now      func() time.Time
	build    BuildInfo
	critical map[string]struct{}
}

var _ SystemService = (*systemService)(nil)

// NewSystemService wires the readiness policy over the dependency probes.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	now := time.Now
	if deps.Clock != nil {
		now = deps.Clock
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = now()
	}
	build.StartedAt = build.StartedAt.UTC()

	names := deps.Critical
	if len(names) == 0 {
		names = DefaultCriticalDependencies
	}
	critical := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			critical[name] = struct{}{}
		}
	}

	return &systemService{
		probes:   deps.HealthRepository,
		now:      func() time.Time { return now().UTC() },
		build:    build,
		critical: critical,
	}, nil
}

// HealthReport collects the probes, stamps build metadata and applies the readiness policy:
// a failing critical check is an error, any other failing check only degrades the report.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	collected, err := s.probes.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.now()
	report := SystemHealthReport{
		Status:      s.readiness(collected.Checks),
		Checks:      collected.Checks,
		Version:     s.build.Version,
		CommitSHA:   s.build.CommitSHA,
		Environment: s.build.Environment,
		Uptime:      now.Sub(s.build.StartedAt),
		GeneratedAt: now,
	}
	if !collected.GeneratedAt.IsZero() {
		report.GeneratedAt = collected.GeneratedAt.UTC()
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	return report, nil
}

// BuildInfo returns the metadata served by the liveness endpoint.
func (s *systemService) BuildInfo() BuildInfo {
	return s.build
}

func (s *systemService) readiness(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, name := range failingChecks(checks) {
		if _, ok := s.critical[name]; ok {
			return domain.HealthStatusError
		}
		status = domain.HealthStatusDegraded
	}
	return status
}

func failingChecks(checks map[string]domain.SystemHealthCheck) []string {
	var names []string
	for name, check := range checks {
		if check.Status != "" && check.Status != domain.HealthStatusOK {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
