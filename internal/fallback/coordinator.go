// Package fallback switches inference to a remote service after repeated local
// failures and back again on request.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/engagement-edge/internal/inference"
	"github.com/vzahanych/engagement-edge/internal/landmarks"
	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/service"
)

// UnavailableMessage is shown when neither local nor remote inference works
const UnavailableMessage = "Engagement measurement is unavailable: local and remote inference keep failing. Retry to reload the model."

// LocalEngine is the on-device inference engine
type LocalEngine interface {
	Predict(ctx context.Context, frames []landmarks.Frame) (*inference.Prediction, error)
	Initialize(ctx context.Context, modelID string) error
	Info() inference.ModelInfo
}

// RemoteProcessor sends a landmark window to the remote service
type RemoteProcessor interface {
	InferWithRetry(ctx context.Context, req *ProcessRequest) (*ProcessResponse, error)
}

// Config contains coordinator settings
type Config struct {
	MaxLocalErrors  int
	FPS             int
	IntervalSeconds float64
}

// Status describes the processing mode and failure counters
type Status struct {
	Mode            inference.Mode `json:"mode"`
	LocalErrorCount int            `json:"localErrorCount"`
	RemoteFailures  int            `json:"remoteFailures"`
	LastError       string         `json:"lastError,omitempty"`
	Message         string         `json:"message,omitempty"`
}

// Coordinator routes predictions to the local engine or the remote service
type Coordinator struct {
	*service.ServiceBase

	cfg    Config
	local  LocalEngine
	remote RemoteProcessor

	mu             sync.RWMutex
	mode           inference.Mode
	localErrors    int
	remoteFailures int
	lastErr        error
	videoID        string
	clock          func() float64
}

// NewCoordinator creates a coordinator in local mode. remote may be nil, in
// which case remote mode always fails.
func NewCoordinator(cfg Config, local LocalEngine, remote RemoteProcessor, log *logger.Logger) *Coordinator {
	if cfg.MaxLocalErrors <= 0 {
		cfg.MaxLocalErrors = 3
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}

	return &Coordinator{
		ServiceBase: service.NewServiceBase("fallback-coordinator", log),
		cfg:         cfg,
		local:       local,
		remote:      remote,
		mode:        inference.ModeLocal,
	}
}

// Start marks the coordinator running
func (c *Coordinator) Start(ctx context.Context) error {
	c.GetStatus().SetStatus(service.StatusRunning)
	c.LogInfo("Fallback coordinator started", "max_local_errors", c.cfg.MaxLocalErrors)
	return nil
}

// Stop marks the coordinator stopped
func (c *Coordinator) Stop(ctx context.Context) error {
	c.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// SetVideoContext sets the video id and playback clock sent with remote requests
func (c *Coordinator) SetVideoContext(videoID string, clock func() float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoID = videoID
	c.clock = clock
}

// Predict satisfies the scheduler's predictor
func (c *Coordinator) Predict(ctx context.Context, frames []landmarks.Frame) (*inference.Prediction, error) {
	return c.Process(ctx, frames)
}

// Process runs one prediction in the current mode
func (c *Coordinator) Process(ctx context.Context, frames []landmarks.Frame) (*inference.Prediction, error) {
	if c.Mode() == inference.ModeRemote {
		return c.processRemote(ctx, frames)
	}

	pred, err := c.local.Predict(ctx, frames)
	if err == nil {
		c.mu.Lock()
		c.localErrors = 0
		c.remoteFailures = 0
		c.lastErr = nil
		c.mu.Unlock()
		return pred, nil
	}

	// a stopped collection or an empty window is not a local failure
	if ctx.Err() != nil || errors.Is(err, landmarks.ErrEmptySequence) {
		return nil, err
	}

	c.mu.Lock()
	c.localErrors++
	c.lastErr = err
	count := c.localErrors
	engaged := false
	if count >= c.cfg.MaxLocalErrors && c.mode == inference.ModeLocal {
		c.mode = inference.ModeRemote
		engaged = true
	}
	c.mu.Unlock()

	c.LogWarn("Local inference failed", "error_count", count, "max_local_errors", c.cfg.MaxLocalErrors, "error", err)
	if engaged {
		c.LogWarn("Switching to remote inference", "error_count", count)
		c.PublishEvent(service.EventTypeFallbackEngaged, map[string]interface{}{
			"error_count": count,
			"error":       err.Error(),
		})
	}
	return nil, err
}

func (c *Coordinator) processRemote(ctx context.Context, frames []landmarks.Frame) (*inference.Prediction, error) {
	if c.remote == nil {
		return nil, c.remoteFailed(ctx, fmt.Errorf("%w: no remote service configured", ErrRemoteUnavailable))
	}

	req := c.buildRequest(frames)
	start := time.Now()

	resp, err := c.remote.InferWithRetry(ctx, req)
	if err != nil {
		return nil, c.remoteFailed(ctx, err)
	}

	if resp == nil || resp.ModelResult == nil || resp.ModelResult.Score == nil {
		return nil, c.remoteFailed(ctx, fmt.Errorf("%w: response has no engagement score", ErrRemoteUnavailable))
	}
	raw := *resp.ModelResult.Score
	score := inference.Clamp01(raw)
	idx, name, err := inference.Classify(score)
	if err != nil {
		return nil, c.remoteFailed(ctx, err)
	}

	c.mu.Lock()
	c.remoteFailures = 0
	c.mu.Unlock()

	latency := time.Since(start)
	return &inference.Prediction{
		ID:         uuid.NewString(),
		Score:      score,
		ClassIndex: idx,
		ClassName:  name,
		RawOutputs: map[string][]float32{"score": {float32(raw)}},
		ModelID:    req.ModelVariant,
		Mode:       inference.ModeRemote,
		CreatedAt:  time.Now(),
		LatencyMS:  float64(latency.Microseconds()) / 1000,
	}, nil
}

func (c *Coordinator) remoteFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if !errors.Is(err, ErrRemoteUnavailable) {
		err = fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}

	c.mu.Lock()
	c.remoteFailures++
	c.lastErr = err
	failures := c.remoteFailures
	c.mu.Unlock()

	c.LogWarn("Remote inference failed", "failures", failures, "error", err)
	return err
}

func (c *Coordinator) buildRequest(frames []landmarks.Frame) *ProcessRequest {
	desc := c.local.Info().Model

	c.mu.RLock()
	videoID := c.videoID
	clock := c.clock
	c.mu.RUnlock()

	var videoTime float64
	if clock != nil {
		videoTime = clock()
	}

	count := desc.Input.NumLandmarks
	if count == 0 && len(frames) > 0 {
		count = len(frames[len(frames)-1])
	}

	return &ProcessRequest{
		VideoID:          videoID,
		CurrentVideoTime: videoTime,
		ExtractionMethod: ExtractionLandmarks,
		Payload: LandmarkPayload{
			FPS:             c.cfg.FPS,
			IntervalSeconds: c.cfg.IntervalSeconds,
			LandmarkCount:   count,
			Landmarks:       frames,
		},
		ModelVariant: desc.ID,
	}
}

// ForceLocal returns to local mode if a local session can be initialized.
// On failure the mode is left unchanged.
func (c *Coordinator) ForceLocal(ctx context.Context) error {
	if err := c.local.Initialize(ctx, ""); err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.LogWarn("Cannot force local inference", "error", err)
		return err
	}

	c.backToLocal("forced")
	return nil
}

// ForceRemote switches to remote mode until reset
func (c *Coordinator) ForceRemote() {
	c.mu.Lock()
	changed := c.mode != inference.ModeRemote
	c.mode = inference.ModeRemote
	c.mu.Unlock()

	if changed {
		c.LogInfo("Remote inference forced")
		c.PublishEvent(service.EventTypeFallbackEngaged, map[string]interface{}{
			"forced": true,
		})
	}
}

// Reset clears the failure counters and re-initializes the local engine,
// returning to local mode on success
func (c *Coordinator) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.localErrors = 0
	c.remoteFailures = 0
	c.lastErr = nil
	c.mu.Unlock()

	if err := c.local.Initialize(ctx, ""); err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.LogWarn("Retry failed to initialize local inference", "error", err)
		return err
	}

	c.backToLocal("retry")
	return nil
}

func (c *Coordinator) backToLocal(reason string) {
	c.mu.Lock()
	wasRemote := c.mode == inference.ModeRemote
	c.mode = inference.ModeLocal
	c.localErrors = 0
	c.remoteFailures = 0
	c.lastErr = nil
	c.mu.Unlock()

	if wasRemote {
		c.LogInfo("Back to local inference", "reason", reason)
		c.PublishEvent(service.EventTypeFallbackRecovered, map[string]interface{}{
			"reason": reason,
		})
	}
}

// Mode returns the current processing mode
func (c *Coordinator) Mode() inference.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// ErrorCount returns the consecutive local failure count
func (c *Coordinator) ErrorCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localErrors
}

// Status returns the mode and counters, with a user-visible message once
// remote inference has also failed repeatedly
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		Mode:            c.mode,
		LocalErrorCount: c.localErrors,
		RemoteFailures:  c.remoteFailures,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.mode == inference.ModeRemote && c.remoteFailures >= c.cfg.MaxLocalErrors {
		st.Message = UnavailableMessage
	}
	return st
}
