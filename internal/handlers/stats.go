package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CleanupRequest represents the body for retention cleanup
type CleanupRequest struct {
	RetentionDays int `json:"retentionDays" binding:"required,min=1" jsonschema:"required,minimum=1"`
}

// CleanupResponse reports how many tasks were deleted
type CleanupResponse struct {
	Deleted int `json:"deleted" jsonschema:"required"`
}

// GetQueueStats returns aggregate queue statistics
// @Summary Queue statistics
// @Tags stats
// @Produce json
// @Success 200 {object} taskqueue.Stats
// @Router /internal/stats [get]
func GetQueueStats(c *gin.Context) {
	stats, err := queue.GetStats(c.Request.Context())
	if err != nil {
		respondQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// CleanupTasks deletes old terminal tasks
// @Summary Retention cleanup
// @Tags stats
// @Accept json
// @Produce json
// @Success 200 {object} CleanupResponse
// @Router /internal/maintenance/cleanup [post]
func CleanupTasks(c *gin.Context) {
	var req CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deleted, err := queue.CleanupOldTasks(c.Request.Context(), req.RetentionDays)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	c.JSON(http.StatusOK, CleanupResponse{Deleted: deleted})
}
