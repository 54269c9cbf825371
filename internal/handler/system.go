package handler

import (
	"net/http"
	"strings"

	"github.com/aman-churiwal/chain-gateway/internal/proxy"
	"github.com/gin-gonic/gin"
)

// SystemHandler exposes backend health and circuit breaker controls.
type SystemHandler struct {
	backends *proxy.Router
}

func NewSystemHandler(backends *proxy.Router) *SystemHandler {
	return &SystemHandler{backends: backends}
}

// Handles GET /admin/backends
func (h *SystemHandler) Backends(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"health":   h.backends.OverallHealth(),
		"backends": h.backends.Statuses(),
	})
}

// Handles POST /admin/backends/reset/*service
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	// wildcard param carries the leading slash
	name := strings.Trim(c.Param("service"), "/")

	backend, exists := h.backends.Backend(name)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Service not found",
		})
		return
	}

	backend.ResetCircuitBreaker()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"service": name,
	})
}
