package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health handles GET /health, a liveness check with no auth requirement
// (§6). It reports 200 unconditionally once the process is serving
// traffic — deeper readiness (credential availability, storage
// connectivity) is surfaced through the admin surface instead, matching
// the teacher's shallow /health contract.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
