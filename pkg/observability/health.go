package observability

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/plugstack/pkg/httputil"
)

// CheckFunc reports the health of one component
type CheckFunc func(ctx context.Context) DependencyStatus

// HealthChecker aggregates named component checks
type HealthChecker struct {
	version string

	mu     sync.RWMutex
	checks map[string]healthCheck
}

type healthCheck struct {
	fn CheckFunc
	// critical components make the whole service unhealthy; others only
	// degrade it
	critical bool
}

// NewHealthChecker creates a health checker reporting version
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version: version,
		checks:  make(map[string]healthCheck),
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single component
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// AddCheck registers a component check, replacing any check of the same name
func (h *HealthChecker) AddCheck(name string, critical bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = healthCheck{fn: fn, critical: critical}
}

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns a readiness probe (checks all components)
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	// Return 503 if unhealthy, 200 if healthy or degraded
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	_ = httputil.WriteJSON(w, code, status)
}

// Check runs every registered check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]healthCheck, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		c := checks[name]
		start := time.Now()
		dep := c.fn(ctx)
		dep.Latency = time.Since(start)
		if dep.Timestamp.IsZero() {
			dep.Timestamp = time.Now()
		}
		status.Dependencies[name] = dep

		switch {
		case dep.Status == StatusUnhealthy && c.critical:
			status.Status = StatusUnhealthy
		case dep.Status != StatusHealthy && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}

	return status
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
