package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/tenantauth/internal/monitoring"
)

// Health reports liveness, or a fixed "up" payload when no manager is wired.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			c.JSON(http.StatusOK, gin.H{"success": true, "status": monitoring.StatusUp})
			return
		}
		writeHealthReport(c, manager.EvaluateLiveness(requestContext(c)))
	}
}

// Ready reports readiness of the database and cache.
func Ready(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			c.JSON(http.StatusOK, gin.H{"success": true, "status": monitoring.StatusUp})
			return
		}
		writeHealthReport(c, manager.EvaluateReadiness(requestContext(c)))
	}
}

func writeHealthReport(c *gin.Context, report monitoring.HealthReport) {
	status := http.StatusOK
	if report.Status == monitoring.StatusDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
