package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/pagesignal/models"
)

// PostScan returns a handler for POST /api/v1/scans.
// The batch is queued and scanned in the background.
func PostScan(q *Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScanResponse{
				Status: models.JobFailed,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		job := &models.ScanJob{
			ID:         "scan-" + uuid.NewString(),
			Targets:    req.Targets,
			WebhookURL: req.WebhookURL,
			CreatedAt:  time.Now().Unix(),
		}
		if err := q.Submit(job); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrQueueFull) {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, models.ScanResponse{
				Status: models.JobFailed,
				Total:  len(req.Targets),
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeRateLimited,
					Message: err.Error(),
				},
			})
			return
		}

		c.JSON(http.StatusAccepted, models.ScanResponse{
			ID:     job.ID,
			Status: models.JobQueued,
			Total:  len(req.Targets),
		})
	}
}

// GetScan returns a handler for GET /api/v1/scans/:id.
func GetScan(q *Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, ok := q.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeNotFound,
					Message: "scan job not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}
