package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"eventpipe/internal/infrastructure/database"
)

// HealthHandler exposes liveness and readiness checks against the
// Postgres and Redis connections the ingest path depends on.
type HealthHandler struct {
	postgres *database.PostgresDB
	redis    *database.RedisDB
}

func NewHealthHandler(postgres *database.PostgresDB, redis *database.RedisDB) *HealthHandler {
	return &HealthHandler{postgres: postgres, redis: redis}
}

// Live handles GET /healthz: process is up, no downstream checks.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles GET /readyz: the process can actually serve ingest traffic.
func (h *HealthHandler) Ready(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := h.postgres.Health(); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	} else {
		checks["postgres"] = "ok"
	}

	if err := h.redis.Health(); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": map[bool]string{true: "ready", false: "not ready"}[healthy], "checks": checks})
}
