package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/kvasirlabs/waitline/pkg/logging"
)

// HealthCheck is one named readiness probe, typically a store or Redis
// ping.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandler serves liveness and readiness. Liveness always
// succeeds while the process runs; readiness runs the registered
// probes.
type HealthHandler struct {
	checks []HealthCheck
	logger *logging.Logger
}

func NewHealthHandler(logger *logging.Logger, checks ...HealthCheck) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{checks: checks, logger: logger.Component("http.health")}
}

// Live handles GET /healthz.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "ok", map[string]string{"status": "up"})
}

const readyProbeTimeout = 2 * time.Second

// Ready handles GET /readyz.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	healthy := true
	for _, check := range h.checks {
		if err := check.Probe(ctx); err != nil {
			h.logger.Warn("readiness probe failed", "check", check.Name, "error", err)
			results[check.Name] = err.Error()
			healthy = false
			continue
		}
		results[check.Name] = "ok"
	}
	status := http.StatusOK
	msg := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		msg = "not ready"
	}
	respond(w, status, msg, results)
}
