package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagesignal/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// Reports queue utilisation and degrades status when > 80% of the queue is used.
func Health(q *Queue, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		queued, capacity, active := q.Stats()

		status := "healthy"
		if capacity > 0 && queued > int(float64(capacity)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:     status,
			Uptime:     time.Since(startTime).Round(time.Second).String(),
			QueuedJobs: queued,
			ActiveJob:  active,
			Version:    Version,
		})
	}
}
