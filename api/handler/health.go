package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/crawler"
	"github.com/use-agent/harvest/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Progress publishes run snapshots. *crawler.Orchestrator implements it.
type Progress interface {
	Snapshot() crawler.RunState
}

// Health returns a handler for GET /api/v1/health.
//
// Reports "degraded" while the current failure streak is non-zero and
// "finished" once the run has stopped.
func Health(p Progress, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := p.Snapshot()

		status := "healthy"
		switch {
		case snap.Phase == crawler.Completed || snap.Phase == crawler.Interrupted || snap.Phase == crawler.Failed:
			status = "finished"
		case snap.ConsecutiveFailures > 0:
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Phase:   snap.Phase.String(),
			RunID:   snap.RunID,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: Version,
		})
	}
}
