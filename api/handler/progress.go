package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/crawler"
)

// ProgressResponse is the body of GET /api/v1/progress.
type ProgressResponse struct {
	crawler.RunState
	Remaining   int     `json:"remaining"`
	SuccessRate float64 `json:"success_rate"`
}

// GetProgress returns a handler for GET /api/v1/progress.
func GetProgress(p Progress) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := p.Snapshot()
		c.JSON(http.StatusOK, ProgressResponse{
			RunState:    snap,
			Remaining:   snap.Total - snap.Processed,
			SuccessRate: snap.SuccessRate(),
		})
	}
}
