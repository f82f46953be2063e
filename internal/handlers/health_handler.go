package handlers

import (
	"net/http"
	"time"

	"github.com/dairylink/dairylink-api/internal/jobs"
	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	worker  *jobs.Worker
	started time.Time
}

func NewHealthHandler(worker *jobs.Worker) *HealthHandler {
	return &HealthHandler{worker: worker, started: time.Now()}
}

// @Summary Health Check
// @Description Get service health and background worker statistics
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).String(),
		"worker": h.worker.GetStats(),
	})
}
