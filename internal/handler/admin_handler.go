package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/scheduler"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub002/internal/service"
)

// AdminHandler exposes the internal maintenance surface: manual cleanup,
// scheduler health, recovery statistics and runtime configuration.
type AdminHandler struct {
	cleanup   *service.CleanupService
	recovery  *service.RecoveryService
	scheduler *scheduler.Scheduler
	configs   *config.Manager
	logger    *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	cleanup *service.CleanupService,
	recovery *service.RecoveryService,
	sched *scheduler.Scheduler,
	configs *config.Manager,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		cleanup:   cleanup,
		recovery:  recovery,
		scheduler: sched,
		configs:   configs,
		logger:    logger,
	}
}

// TriggerCleanup runs one retention cleanup pass on demand
// POST /internal/cleanup
func (h *AdminHandler) TriggerCleanup(c *gin.Context) {
	report, err := h.cleanup.ExecuteCleanup(c.Request.Context())
	if err != nil {
		h.logger.Error("Manual cleanup failed", zap.Error(err))
		// The report still carries partial statistics and the elapsed time.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "Cleanup failed",
			"report": report,
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// SchedulerStatus reports scheduler health
// GET /internal/scheduler/status
func (h *AdminHandler) SchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.GetStatus())
}

// RecoveryStats returns the process-lifetime error counters
// GET /internal/recovery/stats
func (h *AdminHandler) RecoveryStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.recovery.Stats())
}

// ResetRecovery clears error counters and breakers
// POST /internal/recovery/reset
func (h *AdminHandler) ResetRecovery(c *gin.Context) {
	h.recovery.Reset()
	c.Status(http.StatusNoContent)
}

// GetConfig returns the current engine configuration snapshot
// GET /internal/config
func (h *AdminHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.configs.Engine())
}

// configUpdateRequest is the body for a runtime configuration change
type configUpdateRequest struct {
	Path   string      `json:"path" binding:"required"`
	Value  interface{} `json:"value" binding:"required"`
	Reason string      `json:"reason" binding:"required"`
}

// UpdateConfig applies one validated runtime configuration change
// PATCH /internal/config
func (h *AdminHandler) UpdateConfig(c *gin.Context) {
	var req configUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.configs.UpdateConfig(req.Path, req.Value, req.Reason) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "Update rejected",
			"path":  req.Path,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true, "path": req.Path})
}

// ValidateConfig checks the whole engine configuration tree
// GET /internal/config/validate
func (h *AdminHandler) ValidateConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.configs.ValidateConfig())
}

// ConfigHistory returns the audit log of accepted updates
// GET /internal/config/history
func (h *AdminHandler) ConfigHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": h.configs.History()})
}
