package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagesignal/dataset"
	"github.com/use-agent/pagesignal/models"
)

const (
	defaultBatchLimit = 20
	maxBatchLimit     = 100
)

// BatchStore is the persisted batch history. *dataset.Store implements it.
type BatchStore interface {
	Batches(ctx context.Context, limit int) ([]dataset.BatchSummary, error)
	Results(ctx context.Context, batchID string) (map[string]*models.ScanResult, error)
}

// BatchesResponse is the body of GET /api/v1/batches.
type BatchesResponse struct {
	Batches []dataset.BatchSummary `json:"batches"`
}

// BatchResultsResponse is the body of GET /api/v1/batches/:id/results.
type BatchResultsResponse struct {
	ID      string                        `json:"id"`
	Results map[string]*models.ScanResult `json:"results"`
}

// ListBatches returns a handler for GET /api/v1/batches?limit=N.
func ListBatches(store BatchStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultBatchLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, models.ErrorResponse{
					Error: &models.ErrorDetail{
						Code:    models.ErrCodeInvalidInput,
						Message: "limit must be a positive integer",
					},
				})
				return
			}
			limit = min(n, maxBatchLimit)
		}

		batches, err := store.Batches(c.Request.Context(), limit)
		if err != nil {
			internalError(c, err)
			return
		}
		if batches == nil {
			batches = []dataset.BatchSummary{}
		}
		c.JSON(http.StatusOK, BatchesResponse{Batches: batches})
	}
}

// GetBatchResults returns a handler for GET /api/v1/batches/:id/results.
func GetBatchResults(store BatchStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		results, err := store.Results(c.Request.Context(), id)
		if err != nil {
			internalError(c, err)
			return
		}
		if len(results) == 0 {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeNotFound,
					Message: "batch not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, BatchResultsResponse{ID: id, Results: results})
	}
}

func internalError(c *gin.Context, err error) {
	slog.Error("batch store query failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error: &models.ErrorDetail{
			Code:    models.ErrCodeInternal,
			Message: "batch store unavailable",
		},
	})
}
