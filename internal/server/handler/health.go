package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// Pinger is a dependency whose liveness is reported by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks map[string]Pinger
	node   domain.NodeStatusCache
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. node may be nil.
func NewHealthHandler(checks map[string]Pinger, node domain.NodeStatusCache, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, node: node, logger: logger}
}

// HealthCheck reports dependency status and the last observed Lightning node
// state. It answers 503 when a dependency is down.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "health: dependency down",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = "down"
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
	if h.node != nil {
		info, err := h.node.GetNodeInfo(ctx)
		switch {
		case err == nil:
			body["node"] = info
		case errors.Is(err, domain.ErrNotFound):
			body["node"] = nil
		default:
			h.logger.WarnContext(ctx, "health: node status unavailable", slog.String("error", err.Error()))
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}
