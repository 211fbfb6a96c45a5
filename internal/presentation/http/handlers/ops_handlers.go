package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/livedesk-go/internal/application/container"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/livedesk-go/internal/infrastructure/workers"
)

const defaultFailedLimit = 50

// HealthSource reports the health of every backend.
type HealthSource interface {
	Health(ctx context.Context) container.HealthReport
}

// JobInspector lists and replays failed jobs.
type JobInspector interface {
	Failed(ctx context.Context, limit int) ([]workers.Record, error)
	Replay(ctx context.Context, id string) (string, error)
}

type LogLevelRequest struct {
	Channel string `json:"channel" binding:"required"`
	Level   string `json:"level" binding:"required"`
}

// OpsHandlers serves the health probe and the admin job and log tools.
type OpsHandlers struct {
	base
	health HealthSource
	jobs   JobInspector
}

func NewOpsHandlers(health HealthSource, jobs JobInspector, logger *logging.ChanneledLogger) *OpsHandlers {
	return &OpsHandlers{base: base{logger: logger}, health: health, jobs: jobs}
}

// Health answers 503 when any backend or worker is unhealthy.
func (h *OpsHandlers) Health(c *gin.Context) {
	report := h.health.Health(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (h *OpsHandlers) ListFailedJobs(c *gin.Context) {
	limit := defaultFailedLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	records, err := h.jobs.Failed(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger.Worker(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": records, "count": len(records)})
}

func (h *OpsHandlers) ReplayJob(c *gin.Context) {
	id := c.Param("id")
	newID, err := h.jobs.Replay(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger.Worker(), err)
		return
	}
	h.logger.Worker().Info().Str("jobId", id).Str("replayId", newID).Msg("Failed job replayed")
	c.JSON(http.StatusAccepted, gin.H{"jobId": id, "replayId": newID})
}

// RecentLogs returns buffered entries, optionally for one ?channel.
func (h *OpsHandlers) RecentLogs(c *gin.Context) {
	recent := h.logger.Recent()
	if recent == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []logging.LogEntry{}, "count": 0})
		return
	}
	entries := recent.Entries(c.Query("channel"))
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (h *OpsHandlers) GetLogLevels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"levels": h.logger.GetChannelLevels()})
}

func (h *OpsHandlers) SetLogLevel(c *gin.Context) {
	var req LogLevelRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.logger.SetChannelLevel(logging.Channel(req.Channel), logging.ParseLevel(req.Level)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"levels": h.logger.GetChannelLevels()})
}
