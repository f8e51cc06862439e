package handlers

import (
	"net/http"
	"time"

	domain "github.com/quickcart/commerce/internal/domain"
	"github.com/quickcart/commerce/internal/platform/httpx"
	"github.com/quickcart/commerce/internal/services"
)

// HealthHandlers serves /healthz for liveness and /readyz for readiness. Without a system
// service /readyz always reports ok.
type HealthHandlers struct {
	build  services.BuildInfo
	system services.SystemService
	now    func() time.Time
}

func NewHealthHandlers(build services.BuildInfo, system services.SystemService) *HealthHandlers {
	h := &HealthHandlers{build: build, system: system, now: time.Now}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

type livenessBody struct {
	Status      domain.HealthStatus `json:"status"`
	Version     string              `json:"version,omitempty"`
	Environment string              `json:"environment,omitempty"`
	Uptime      string              `json:"uptime"`
	Timestamp   string              `json:"timestamp"`
}

type readinessBody struct {
	Status      domain.HealthStatus       `json:"status"`
	Version     string                    `json:"version,omitempty"`
	Environment string                    `json:"environment,omitempty"`
	Uptime      string                    `json:"uptime,omitempty"`
	GeneratedAt string                    `json:"generated_at"`
	Checks      map[string]dependencyBody `json:"checks"`
	Details     []string                  `json:"details,omitempty"`
}

type dependencyBody struct {
	Status    domain.HealthStatus `json:"status"`
	Error     string              `json:"error,omitempty"`
	LatencyMS int64               `json:"latency_ms"`
	CheckedAt string              `json:"checked_at,omitempty"`
}

func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	httpx.WriteJSON(w, http.StatusOK, livenessBody{
		Status:      domain.HealthOK,
		Version:     h.build.Version,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now.UTC().Format(time.RFC3339),
	})
}

// Readyz answers 503 unless every dependency is ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	report := domain.HealthReport{Status: domain.HealthOK, GeneratedAt: h.now()}
	if h.system != nil {
		var err error
		if report, err = h.system.Readiness(r.Context()); err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("health_unavailable", "health report unavailable", http.StatusServiceUnavailable))
			return
		}
	}

	body := readinessBody{
		Status:      report.Status,
		Version:     report.Version,
		Environment: report.Environment,
		GeneratedAt: formatTime(report.GeneratedAt),
		Checks:      make(map[string]dependencyBody, len(report.Dependencies)),
		Details:     report.Failures(),
	}
	if report.Uptime > 0 {
		body.Uptime = report.Uptime.Round(time.Second).String()
	}
	for name, dep := range report.Dependencies {
		body.Checks[name] = dependencyBody{
			Status:    dep.Status,
			Error:     dep.Error,
			LatencyMS: dep.Latency.Milliseconds(),
			CheckedAt: formatTime(dep.CheckedAt),
		}
	}

	status := http.StatusOK
	if report.Status != domain.HealthOK {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, body)
}
