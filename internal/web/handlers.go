package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/engagement-edge/internal/fallback"
	"github.com/vzahanych/engagement-edge/internal/health"
	"github.com/vzahanych/engagement-edge/internal/inference"
	"github.com/vzahanych/engagement-edge/internal/landmarks"
	"github.com/vzahanych/engagement-edge/internal/models"
	"github.com/vzahanych/engagement-edge/internal/service"
	"github.com/vzahanych/engagement-edge/internal/state"
	"github.com/vzahanych/engagement-edge/internal/storage"
)

// PredictRequest carries a frame window for a one-off prediction
type PredictRequest struct {
	Frames []landmarks.Frame `json:"frames" binding:"required"`
}

// FrameRequest carries one frame. A null frame means no face was detected.
type FrameRequest struct {
	Frame landmarks.Frame `json:"frame"`
}

// SwitchModelRequest selects a model
type SwitchModelRequest struct {
	ID string `json:"id" binding:"required"`
}

// InitializeRequest optionally selects a model before loading it
type InitializeRequest struct {
	ModelID string `json:"modelId"`
}

// VideoRequest sets the video attached to predictions
type VideoRequest struct {
	VideoID     string  `json:"videoId" binding:"required"`
	CurrentTime float64 `json:"currentTime"`
	Playing     bool    `json:"playing"`
}

// errorStatus maps pipeline errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrUnknownModel):
		return http.StatusNotFound
	case errors.Is(err, landmarks.ErrEmptySequence):
		return http.StatusBadRequest
	case inference.IsUnavailable(err), errors.Is(err, fallback.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requireMonitor(c *gin.Context) bool {
	if s.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Engagement monitor not available",
		})
		return false
	}
	return true
}

// handleHealth handles the /health endpoint
func (s *Server) handleHealth(c *gin.Context) {
	if s.healthMgr == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy, "service": "web-server"})
		return
	}

	report := s.healthMgr.Check(c.Request.Context())
	statusCode := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, report)
}

// handleLiveness handles the /health/live endpoint
func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// handleReadiness handles the /health/ready endpoint
func (s *Server) handleReadiness(c *gin.Context) {
	status := health.StatusHealthy
	if s.healthMgr != nil {
		status = s.healthMgr.Check(c.Request.Context()).Status
	}

	statusCode := http.StatusOK
	if status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"status":    status,
		"timestamp": time.Now(),
		"ready":     status != health.StatusUnhealthy,
	})
}

// handleServices handles the /health/services endpoint
func (s *Server) handleServices(c *gin.Context) {
	services := map[string]interface{}{}
	if s.healthMgr != nil {
		services = s.healthMgr.Services()
	}
	c.JSON(http.StatusOK, gin.H{
		"services":  services,
		"timestamp": time.Now(),
	})
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	overall := "healthy"
	if s.GetStatus().GetStatus() != service.StatusRunning {
		overall = "unhealthy"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         overall,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// handleGetConfig returns the running configuration
func (s *Server) handleGetConfig(c *gin.Context) {
	if s.configSvc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Configuration service not available",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": s.configSvc.Get()})
}

// handleTelemetry returns the last telemetry sample, taking one if none exists yet
func (s *Server) handleTelemetry(c *gin.Context) {
	if s.telemetry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Telemetry collector not available",
		})
		return
	}

	snap := s.telemetry.GetLastMetrics()
	if snap == nil {
		snap = s.telemetry.Collect(c.Request.Context())
	}
	c.JSON(http.StatusOK, snap)
}

// handleEnforceRetention runs a prediction log retention pass
func (s *Server) handleEnforceRetention(c *gin.Context) {
	if s.retention == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Retention policy not available",
		})
		return
	}

	deleted, err := s.retention.Enforce(c.Request.Context())
	if errors.Is(err, storage.ErrAlreadyEnforcing) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.LogError("Retention pass failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Retention pass failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// handleEngagementStatus returns mode, model and scheduler state
func (s *Server) handleEngagementStatus(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}
	c.JSON(http.StatusOK, s.monitor.Status())
}

// handleInitialize loads the active model, or the requested one
func (s *Server) handleInitialize(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}

	var req InitializeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
	}

	if err := s.monitor.Initialize(c.Request.Context(), req.ModelID); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error(), "loaded": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": true, "model": s.monitor.CurrentModelInfo()})
}

// handlePredict runs one prediction over the posted frames
func (s *Server) handlePredict(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}

	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	pred, err := s.monitor.Predict(c.Request.Context(), req.Frames)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error(), "mode": s.monitor.Mode()})
		return
	}
	c.JSON(http.StatusOK, pred)
}

// handleListModels lists every known model and marks the active one
func (s *Server) handleListModels(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}
	available := s.monitor.AvailableModels()
	c.JSON(http.StatusOK, gin.H{
		"models": available,
		"count":  len(available),
		"active": s.monitor.CurrentModelInfo().Model.ID,
	})
}

// handleCurrentModel describes the active model
func (s *Server) handleCurrentModel(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}
	c.JSON(http.StatusOK, s.monitor.CurrentModelInfo())
}

// handleSwitchModel makes another model active
func (s *Server) handleSwitchModel(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}

	var req SwitchModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := s.monitor.SwitchModel(c.Request.Context(), req.ID); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.monitor.CurrentModelInfo())
}

// handleReloadModel reloads the active model's session
func (s *Server) handleReloadModel(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}
	if err := s.monitor.ReloadCurrentModel(c.Request.Context()); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error(), "loaded": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": true, "model": s.monitor.CurrentModelInfo()})
}

// handleStartCollection starts frame collection
func (s *Server) handleStartCollection(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}
	s.monitor.StartCollection()
	c.JSON(http.StatusOK, gin.H{"collecting": true})
}

// handleStopCollection stops frame collection
func (s *Server) handleStopCollection(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}
	s.monitor.StopCollection()
	c.JSON(http.StatusOK, gin.H{"collecting": false})
}

// handlePushFrame appends a frame to the buffer
func (s *Server) handlePushFrame(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}

	var req FrameRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Frame) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Frame is required"})
		return
	}

	s.monitor.PushFrame(req.Frame)
	c.Status(http.StatusAccepted)
}

// handleOfferFrame hands the latest detector output to the collector
func (s *Server) handleOfferFrame(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}

	var req FrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	s.monitor.Offer(req.Frame)
	c.Status(http.StatusAccepted)
}

// handleSetVideo sets the video context. While playing, the video clock
// advances from currentTime.
func (s *Server) handleSetVideo(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}

	var req VideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	base := req.CurrentTime
	clock := func() float64 { return base }
	if req.Playing {
		setAt := time.Now()
		clock = func() float64 { return base + time.Since(setAt).Seconds() }
	}

	s.monitor.SetVideo(req.VideoID, clock)
	c.JSON(http.StatusOK, gin.H{"videoId": req.VideoID, "currentTime": req.CurrentTime})
}

// handleRetry resets failure counters and reloads the local model
func (s *Server) handleRetry(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}
	if err := s.monitor.Retry(c.Request.Context()); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error(), "status": s.monitor.Status().Fallback})
		return
	}
	c.JSON(http.StatusOK, s.monitor.Status().Fallback)
}

// handleForceLocal returns to local inference
func (s *Server) handleForceLocal(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}
	if err := s.monitor.ForceLocal(c.Request.Context()); err != nil {
		c.JSON(errorStatus(err), gin.H{"error": err.Error(), "mode": s.monitor.Mode()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": s.monitor.Mode()})
}

// handleForceRemote switches to the remote service
func (s *Server) handleForceRemote(c *gin.Context) {
	if !s.requireMonitor(c) {
		return
	}
	s.monitor.ForceRemote()
	c.JSON(http.StatusOK, gin.H{"mode": s.monitor.Mode()})
}

// handleListPredictions lists logged predictions, newest first
func (s *Server) handleListPredictions(c *gin.Context) {
	if s.stateMgr == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "State manager not available",
		})
		return
	}

	opts := state.ListPredictionsOptions{
		VideoID: c.Query("video_id"),
		ModelID: c.Query("model_id"),
	}

	if startTimeStr := c.Query("start_time"); startTimeStr != "" {
		if startTime, err := time.Parse(time.RFC3339, startTimeStr); err == nil {
			opts.StartTime = startTime
		}
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			opts.Limit = limit
		}
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			opts.Offset = offset
		}
	}

	records, total, err := s.stateMgr.ListPredictions(c.Request.Context(), opts)
	if err != nil {
		s.LogError("Failed to list predictions", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list predictions",
		})
		return
	}

	out := make([]gin.H, 0, len(records))
	for _, rec := range records {
		out = append(out, predictionToAPIResponse(rec))
	}

	c.JSON(http.StatusOK, gin.H{
		"predictions": out,
		"count":       len(out),
		"total":       total,
	})
}

func predictionToAPIResponse(rec state.PredictionRecord) gin.H {
	return gin.H{
		"id":          rec.ID,
		"modelId":     rec.ModelID,
		"mode":        rec.Mode,
		"score":       rec.Score,
		"className":   rec.ClassName,
		"classIndex":  rec.ClassIndex,
		"videoId":     rec.VideoID,
		"videoTime":   rec.VideoTime,
		"createdAt":   rec.CreatedAt,
		"transmitted": rec.Transmitted,
		"metadata":    rec.Metadata,
	}
}

// handleResultStats returns prediction upload statistics
func (s *Server) handleResultStats(c *gin.Context) {
	if s.transmitter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Result transmitter not available",
		})
		return
	}

	stats, err := s.transmitter.GetTransmissionStats(c.Request.Context())
	if err != nil {
		s.LogError("Failed to get transmission stats", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get transmission stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
