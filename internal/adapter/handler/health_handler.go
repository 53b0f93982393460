package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"stockstream/internal/domain/port"
)

const pingTimeout = 2 * time.Second

// HealthHandler checks only the dependencies that were configured.
type HealthHandler struct {
	checks map[string]port.Pinger
	logger *zap.Logger
}

func NewHealthHandler(checks map[string]port.Pinger, logger *zap.Logger) *HealthHandler {
	if checks == nil {
		checks = map[string]port.Pinger{}
	}
	return &HealthHandler{
		checks: checks,
		logger: logger,
	}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	overallStatus := "healthy"
	statuses := make(map[string]string, len(names))
	for _, name := range names {
		statuses[name] = "healthy"
		if err := h.checks[name].Ping(ctx); err != nil {
			statuses[name] = "unhealthy"
			overallStatus = "degraded"
			h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
		}
	}

	statusCode := http.StatusOK
	if overallStatus == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, h.logger, statusCode, map[string]any{
		"status": overallStatus,
		"checks": statuses,
	})
}
