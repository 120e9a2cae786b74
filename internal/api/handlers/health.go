package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HealthChecker is a dependency that can report whether it is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

func (f HealthCheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Dependency is one named health check. Critical dependencies turn /health into a 503 and make
// the service unready.
type Dependency struct {
	Name     string
	Checker  HealthChecker
	Critical bool
}

// HealthHandler manages health check endpoints.
type HealthHandler struct {
	deps      []Dependency
	version   string
	startTime time.Time
	hostStats func(ctx context.Context) *HostStats
}

// HealthResponse represents the health status response.
type HealthResponse struct {
	// Status is "healthy", "degraded" or "unhealthy".
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Host      *HostStats        `json:"host,omitempty"`
}

// HostStats describes the machine and the process. Fields the platform cannot report stay zero.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryTotal   uint64  `json:"memory_total"`
	Load1         float64 `json:"load_1"`
	ProcessRSS    uint64  `json:"process_rss"`
	Goroutines    int     `json:"goroutines"`
}

func NewHealthHandler(version string, deps ...Dependency) *HealthHandler {
	if version == "" {
		version = os.Getenv("APP_VERSION")
	}
	return &HealthHandler{
		deps:      deps,
		version:   version,
		startTime: time.Now(),
		hostStats: collectHostStats,
	}
}

// collectHostStats samples CPU without waiting, so the first call after start may read zero.
func collectHostStats(ctx context.Context) *HostStats {
	stats := &HostStats{Goroutines: runtime.NumGoroutine()}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryTotal = vm.Total
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.Load1 = avg.Load1
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			stats.ProcessRSS = mi.RSS
		}
	}
	return stats
}

func (h *HealthHandler) check(ctx context.Context, span *sentry.Span) (map[string]string, bool, bool) {
	status := make(map[string]string, len(h.deps))
	degraded, critical := false, false
	for _, d := range h.deps {
		if d.Checker == nil {
			status[d.Name] = "not configured"
			span.SetTag(d.Name+".status", "not_configured")
			continue
		}
		if err := d.Checker.HealthCheck(ctx); err != nil {
			status[d.Name] = "unhealthy: " + err.Error()
			span.SetTag(d.Name+".status", "unhealthy")
			sentry.CaptureException(err)
			degraded = true
			if d.Critical {
				critical = true
			}
			continue
		}
		status[d.Name] = "healthy"
		span.SetTag(d.Name+".status", "healthy")
	}
	return status, degraded, critical
}

// HealthCheck reports every dependency plus host stats. Only critical failures return 503.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	span := sentry.StartSpan(ctx, "health_check")
	defer span.Finish()
	ctx = span.Context()
	span.SetTag("http.method", r.Method)
	span.SetTag("handler.name", "HealthCheck")

	services, degraded, critical := h.check(ctx, span)
	status := "healthy"
	switch {
	case critical:
		status = "unhealthy"
	case degraded:
		status = "degraded"
	}
	span.SetTag("overall.status", status)

	resp := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.hostStats != nil {
		resp.Host = h.hostStats(ctx)
	}

	code := http.StatusOK
	span.Status = sentry.SpanStatusOK
	if critical {
		code = http.StatusServiceUnavailable
		span.Status = sentry.SpanStatusUnavailable
	}
	writeJSON(w, code, resp, span)
}

// ReadinessCheck is ready when every critical dependency is healthy.
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	span := sentry.StartSpan(r.Context(), "readiness_check")
	defer span.Finish()
	ctx := span.Context()

	services, _, critical := h.check(ctx, span)
	for name, s := range services {
		switch s {
		case "healthy":
			services[name] = "ready"
		case "not configured":
		default:
			services[name] = "not ready"
		}
	}

	code := http.StatusOK
	span.Status = sentry.SpanStatusOK
	if critical {
		code = http.StatusServiceUnavailable
		span.Status = sentry.SpanStatusUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ready":    !critical,
		"services": services,
	}, span)
}

// LivenessCheck only proves the process answers.
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	span := sentry.StartSpan(r.Context(), "liveness_check")
	defer span.Finish()
	span.Status = sentry.SpanStatusOK
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	}, span)
}

// Dependencies lists the configured check names, sorted.
func (h *HealthHandler) Dependencies() []string {
	names := make([]string, len(h.deps))
	for i, d := range h.deps {
		names[i] = d.Name
	}
	sort.Strings(names)
	return names
}

func writeJSON(w http.ResponseWriter, code int, body any, span *sentry.Span) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		sentry.CaptureException(err)
		span.Status = sentry.SpanStatusInternalError
	}
}
