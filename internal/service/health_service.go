package service

import (
	"context"
	"time"
)

// Health status constants
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusDisabled     = "disabled"
)

// HealthStatus represents the overall health status of the application
type HealthStatus struct {
	Status       string            `json:"status"`
	Services     map[string]string `json:"services"`
	DispatchMode string            `json:"dispatch_mode"`
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version,omitempty"`
}

// Pinger is satisfied by *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// QueueProbe checks broker connectivity
type QueueProbe interface {
	Ping(ctx context.Context) error
}

// HealthChecker handles health check operations
type HealthChecker struct {
	db           Pinger
	queue        QueueProbe
	dispatchMode string
	version      string
	timeout      time.Duration
}

// NewHealthService creates a new HealthChecker instance.
// A nil queue probe reports the queue as disabled.
func NewHealthService(db Pinger, queue QueueProbe, dispatchMode, version string) *HealthChecker {
	return &HealthChecker{
		db:           db,
		queue:        queue,
		dispatchMode: dispatchMode,
		version:      version,
		timeout:      2 * time.Second,
	}
}

// checkDatabase verifies PostgreSQL connectivity with a timeout
func (h *HealthChecker) checkDatabase(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// checkQueue verifies RabbitMQ connectivity
func (h *HealthChecker) checkQueue(ctx context.Context) string {
	if h.queue == nil {
		return StatusDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.queue.Ping(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// determineOverallStatus calculates the overall health status based on service statuses
func (h *HealthChecker) determineOverallStatus(services map[string]string) string {
	if services["database"] == StatusDisconnected {
		return StatusUnhealthy
	}

	// Dispatch requests cannot be queued without the broker
	if services["queue"] == StatusDisconnected {
		return StatusDegraded
	}

	return StatusHealthy
}

// CheckHealth performs health checks on all dependencies and returns the overall status
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	services := map[string]string{
		"database": h.checkDatabase(ctx),
		"queue":    h.checkQueue(ctx),
	}

	return &HealthStatus{
		Status:       h.determineOverallStatus(services),
		Services:     services,
		DispatchMode: h.dispatchMode,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
	}
}
