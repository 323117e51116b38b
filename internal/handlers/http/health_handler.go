package http

import (
	"net/http"
	"time"

	"streamguard/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checker   *monitoring.HealthChecker
	startTime time.Time
}

func NewHealthHandler(checker *monitoring.HealthChecker, startTime time.Time) *HealthHandler {
	return &HealthHandler{checker: checker, startTime: startTime}
}

func (h *HealthHandler) SetupRoutes(router gin.IRoutes) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

// Health reports liveness only.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
	})
}

// Ready runs the dependency checks.
func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())
	if !status.Healthy() {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}
