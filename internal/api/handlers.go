package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/wager-engine/internal/artifacts"
	"github.com/rawblock/wager-engine/internal/db"
	"github.com/rawblock/wager-engine/internal/pipeline"
	"github.com/rawblock/wager-engine/pkg/models"
)

// handleHealth returns engine status for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"engine":      "wager-engine",
		"service":     h.service,
		"dbConnected": h.results != nil,
		"graphExport": h.graphEnabled,
		"progress":    h.pipeline.Progress(),
	})
}

// serveArtifact writes the artifact at rel as-is.
func (h *APIHandler) serveArtifact(c *gin.Context, rel string) {
	data, err := os.ReadFile(h.pipeline.Manifest().Path(rel))
	switch {
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": "Artifact not found", "artifact": rel})
		return
	case err != nil:
		h.log.Error("failed to read artifact", "artifact", rel, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read artifact"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// windowLabel rejects anything that is not a window file stem, which also
// keeps the parameter from escaping the artifact root.
func windowLabel(c *gin.Context) (string, bool) {
	label := c.Param("label")
	if _, err := models.ParseWindowLabel(label); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid window label", "details": err.Error()})
		return "", false
	}
	return label, true
}

// GET /api/v1/chunks/:interval
func (h *APIHandler) handleInventory(c *gin.Context) {
	interval, err := strconv.Atoi(c.Param("interval"))
	if err != nil || interval < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Interval must be a positive number of months"})
		return
	}
	h.serveArtifact(c, artifacts.InventoryFile(interval))
}

// GET /api/v1/metrics/:label
func (h *APIHandler) handleWindowMetrics(c *gin.Context) {
	if label, ok := windowLabel(c); ok {
		h.serveArtifact(c, artifacts.MetricsFile(label))
	}
}

// GET /api/v1/logs/:label
func (h *APIHandler) handleRollingLog(c *gin.Context) {
	if label, ok := windowLabel(c); ok {
		h.serveArtifact(c, artifacts.LogFile(label))
	}
}

// GET /api/v1/results/:label
func (h *APIHandler) handleStrategyResults(c *gin.Context) {
	if label, ok := windowLabel(c); ok {
		h.serveArtifact(c, artifacts.ResultFile(label))
	}
}

// handleFlagged returns flagged counterparties across windows from the
// result store.
func (h *APIHandler) handleFlagged(c *gin.Context) {
	if h.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	page, limit, _ = db.PageBounds(page, limit)

	flagged, totalCount, err := h.results.FlaggedResults(c.Request.Context(), page, limit)
	if err != nil {
		h.log.Error("failed to fetch flagged results", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch flagged results", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       flagged,
		"totalCount": totalCount,
		"page":       page,
		"limit":      limit,
	})
}

// handleStartRun launches a pipeline run in the background.
// POST /api/v1/pipeline/run { "upTo": "strategy" }
func (h *APIHandler) handleStartRun(c *gin.Context) {
	var req struct {
		UpTo string `json:"upTo"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {upTo}"})
			return
		}
	}

	upTo := pipeline.StageStrategyClassified
	if req.UpTo != "" {
		s, err := pipeline.ParseStage(req.UpTo)
		if err != nil || s == pipeline.StageRaw {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown stage", "stage": req.UpTo})
			return
		}
		upTo = s
	}

	if h.pipeline.Progress().IsRunning {
		c.JSON(http.StatusConflict, gin.H{"error": pipeline.ErrAlreadyRunning.Error()})
		return
	}

	go func() {
		rep, err := h.pipeline.Run(h.baseCtx, upTo)
		if err != nil {
			h.log.Error("pipeline run failed", "up_to", upTo, "error", err)
			return
		}
		h.log.Info("pipeline run finished", "run_id", rep.RunID, "flagged", rep.Flagged, "empty_windows", len(rep.EmptyWindows))
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status": "run_started",
		"upTo":   upTo,
	})
}

// handleProgress returns the live state of the runner.
func (h *APIHandler) handleProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.pipeline.Progress())
}
