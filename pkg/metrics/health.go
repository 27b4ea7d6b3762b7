package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Probe checks one readiness dependency on demand. Probes must be safe
// for concurrent use and honor the context deadline.
type Probe func(ctx context.Context) error

const probeTimeout = 2 * time.Second

// HealthStatus is the JSON body served on the health endpoints.
type HealthStatus struct {
	Status     string            `json:"status"` // alive, degraded, ready, unready
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// HealthChecker backs the daemon's /healthz and /readyz endpoints.
// Liveness is push-based: components report degradation as they run.
// Readiness is pull-based: registered probes execute on every request,
// so a lost store connection flips /readyz without any component
// noticing first.
type HealthChecker struct {
	mu        sync.RWMutex
	version   string
	startTime time.Time
	probes    map[string]Probe
	degraded  map[string]string
	now       func() time.Time
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		probes:    make(map[string]Probe),
		degraded:  make(map[string]string),
		now:       time.Now,
	}
}

// RegisterProbe adds a readiness dependency checked on every /readyz hit.
func (h *HealthChecker) RegisterProbe(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// SetComponent records a component's liveness state. An unhealthy report
// marks the process degraded until the same component reports healthy
// again; it never fails liveness outright, so orchestrators do not
// restart a daemon that is still serving.
func (h *HealthChecker) SetComponent(name string, healthy bool, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if healthy {
		delete(h.degraded, name)
		return
	}
	if reason == "" {
		reason = "unhealthy"
	}
	h.degraded[name] = reason
}

// Liveness reports process state with any degraded components listed.
func (h *HealthChecker) Liveness() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "alive"
	components := make(map[string]string, len(h.degraded))
	for name, reason := range h.degraded {
		status = "degraded"
		components[name] = reason
	}
	return h.status(status, components)
}

// Readiness runs every registered probe and reports unready on the
// first failure. Probe results are never cached.
func (h *HealthChecker) Readiness(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := make(map[string]Probe, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.RUnlock()

	status := "ready"
	components := make(map[string]string, len(probes))
	for name, probe := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := probe(probeCtx)
		cancel()
		if err != nil {
			status = "unready"
			components[name] = err.Error()
		} else {
			components[name] = "ok"
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status(status, components)
}

// status assembles the response body; callers hold at least a read lock.
func (h *HealthChecker) status(status string, components map[string]string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  h.now().UTC(),
		Components: components,
		Version:    h.version,
		Uptime:     h.now().Sub(h.startTime).Round(time.Second).String(),
	}
}

// LiveHandler serves liveness: always 200 while the process runs, with
// degraded components listed in the body.
func (h *HealthChecker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, h.Liveness(), http.StatusOK)
	}
}

// ReadyHandler serves readiness: 503 until every probe passes.
func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := h.Readiness(r.Context())
		code := http.StatusOK
		if status.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeHealth(w, status, code)
	}
}

func writeHealth(w http.ResponseWriter, status HealthStatus, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
