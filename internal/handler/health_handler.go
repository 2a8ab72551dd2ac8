package handler

import (
	"context"
	"net/http"

	"mailcampaign/internal/service"
)

// HealthService reports dependency health
type HealthService interface {
	CheckHealth(ctx context.Context) *service.HealthStatus
}

// HealthHandler handles health check requests
type HealthHandler struct {
	healthService HealthService
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(healthService HealthService) *HealthHandler {
	return &HealthHandler{
		healthService: healthService,
	}
}

// HandleHealth handles GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthStatus := h.healthService.CheckHealth(r.Context())

	status := http.StatusInternalServerError
	switch healthStatus.Status {
	case service.StatusHealthy:
		status = http.StatusOK
	case service.StatusDegraded, service.StatusUnhealthy:
		status = http.StatusServiceUnavailable
	}

	WriteJSON(w, status, healthStatus)
}
