package v1

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/timeout-logs?limit=100&exceeded=true
func (router *APIRouter) handleListTimeoutLogs(c *gin.Context) {
	limit := queryInt(c, "limit", 100, 1000)
	exceededOnly, _ := strconv.ParseBool(c.Query("exceeded"))
	logs, err := router.deps.TimeoutLogs.ListRecent(c.Request.Context(), limit, exceededOnly)
	if err != nil {
		router.sendServiceError(c, err)
		return
	}
	sendSuccess(c, gin.H{"count": len(logs), "logs": logs})
}

// GET /api/v1/timeout-logs/stats?days=7
func (router *APIRouter) handleTimeoutStats(c *gin.Context) {
	days := queryInt(c, "days", 7, 365)
	stats, err := router.deps.TimeoutLogs.Statistics(c.Request.Context(), days)
	if err != nil {
		router.sendServiceError(c, err)
		return
	}
	sendSuccess(c, stats)
}

// GET /api/v1/runner/tasks
func (router *APIRouter) handleRunnerStatus(c *gin.Context) {
	statuses, err := router.deps.Runner.Statuses(c.Request.Context())
	if err != nil {
		router.sendServiceError(c, err)
		return
	}
	sendSuccess(c, gin.H{"tasks": statuses})
}
