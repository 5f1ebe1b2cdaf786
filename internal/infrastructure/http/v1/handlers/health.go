package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"paydesk/internal/infrastructure/storage/postgres"
)

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	version string
	pool    *postgres.Pool
	checks  map[string]Pinger
}

// NewHealthHandler creates a new health handler. pool is nil when the
// service runs on the in-memory store.
func NewHealthHandler(version string, pool *postgres.Pool, checks map[string]Pinger) *HealthHandler {
	if checks == nil {
		checks = map[string]Pinger{}
	}
	if pool != nil {
		checks["database"] = pool
	}
	return &HealthHandler{version: version, pool: pool, checks: checks}
}

// Live handles liveness probe (is the process alive?).
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready handles readiness probe (is the service ready to accept traffic?).
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	status := http.StatusOK
	result := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			result[name] = "unhealthy: " + err.Error()
			continue
		}
		result[name] = "healthy"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "error"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": result,
	})
}

// Info returns application information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	body := gin.H{
		"app":     "paydesk",
		"version": h.version,
		"storage": "memory",
	}
	if h.pool != nil {
		stat := h.pool.Stats()
		body["storage"] = "postgres"
		body["database"] = map[string]any{
			"total_conns":    stat.TotalConns,
			"acquired_conns": stat.AcquiredConns,
			"idle_conns":     stat.IdleConns,
			"max_conns":      stat.MaxConns,
		}
	}
	c.JSON(http.StatusOK, body)
}
