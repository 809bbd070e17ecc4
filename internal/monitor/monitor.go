// Package monitor is the caller-facing entry point of the engagement pipeline.
package monitor

import (
	"context"

	"github.com/vzahanych/engagement-edge/internal/fallback"
	"github.com/vzahanych/engagement-edge/internal/inference"
	"github.com/vzahanych/engagement-edge/internal/landmarks"
	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/models"
	"github.com/vzahanych/engagement-edge/internal/results"
	"github.com/vzahanych/engagement-edge/internal/scheduler"
	"github.com/vzahanych/engagement-edge/internal/service"
)

// Components are the pipeline parts the monitor drives. Queue may be nil.
type Components struct {
	Engine      *inference.Engine
	Scheduler   *scheduler.Scheduler
	Coordinator *fallback.Coordinator
	Queue       *results.Queue
}

// Status is the combined pipeline status
type Status struct {
	Model      inference.ModelInfo `json:"model"`
	Fallback   fallback.Status     `json:"fallback"`
	Scheduler  scheduler.Stats     `json:"scheduler"`
	Inference  inference.Stats     `json:"inference"`
	Collecting bool                `json:"collecting"`
	Message    string              `json:"message,omitempty"`
}

// Monitor ties the registry, engine, scheduler and fallback coordinator together
type Monitor struct {
	*service.ServiceBase

	engine      *inference.Engine
	registry    *models.Registry
	scheduler   *scheduler.Scheduler
	coordinator *fallback.Coordinator
	queue       *results.Queue
}

// New creates a monitor
func New(c Components, log *logger.Logger) *Monitor {
	return &Monitor{
		ServiceBase: service.NewServiceBase("engagement-monitor", log),
		engine:      c.Engine,
		registry:    c.Engine.Registry(),
		scheduler:   c.Scheduler,
		coordinator: c.Coordinator,
		queue:       c.Queue,
	}
}

// Start sizes the frame buffer for the model restored by the engine.
// Register it after the engine.
func (m *Monitor) Start(ctx context.Context) error {
	m.syncBuffer()
	m.GetStatus().SetStatus(service.StatusRunning)
	m.LogInfo("Engagement monitor started", "model_id", m.registry.Active().ID)
	return nil
}

// Stop stops collection
func (m *Monitor) Stop(ctx context.Context) error {
	m.scheduler.StopCollection()
	m.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (m *Monitor) syncBuffer() {
	desc := m.registry.Active()
	m.scheduler.SetSequenceLength(desc.Input.SequenceLength)
	m.scheduler.SetNumLandmarks(desc.Input.NumLandmarks)
}

// Initialize loads the active model, or modelID when given
func (m *Monitor) Initialize(ctx context.Context, modelID string) error {
	err := m.engine.Initialize(ctx, modelID)
	m.syncBuffer()
	return err
}

// Predict runs one prediction through the fallback coordinator
func (m *Monitor) Predict(ctx context.Context, frames []landmarks.Frame) (*inference.Prediction, error) {
	return m.coordinator.Process(ctx, frames)
}

// CurrentModelInfo describes the active model
func (m *Monitor) CurrentModelInfo() inference.ModelInfo {
	return m.engine.Info()
}

// SwitchModel makes id active. The session reloads on the next prediction and
// the frame buffer is resized to the new sequence length.
func (m *Monitor) SwitchModel(ctx context.Context, id string) error {
	if err := m.engine.SwitchModel(ctx, id); err != nil {
		return err
	}
	m.syncBuffer()
	m.LogInfo("Model switched", "model_id", id)
	return nil
}

// AvailableModels lists every known model
func (m *Monitor) AvailableModels() map[string]models.Descriptor {
	return m.registry.List()
}

// IsModelLoaded reports whether the active model has a session
func (m *Monitor) IsModelLoaded() bool {
	return m.engine.IsReady()
}

// ReloadCurrentModel drops and reloads the active model's session
func (m *Monitor) ReloadCurrentModel(ctx context.Context) error {
	return m.engine.Reload(ctx)
}

// Status returns the combined pipeline status
func (m *Monitor) Status() Status {
	fb := m.coordinator.Status()
	stats := m.scheduler.GetStats()
	return Status{
		Model:      m.engine.Info(),
		Fallback:   fb,
		Scheduler:  stats,
		Inference:  m.engine.GetStats(),
		Collecting: stats.Collecting,
		Message:    fb.Message,
	}
}

// Retry resets the failure counters and reloads the local model
func (m *Monitor) Retry(ctx context.Context) error {
	err := m.coordinator.Reset(ctx)
	m.syncBuffer()
	return err
}

// ForceLocal returns to local inference if the model loads
func (m *Monitor) ForceLocal(ctx context.Context) error {
	return m.coordinator.ForceLocal(ctx)
}

// ForceRemote switches to the remote service
func (m *Monitor) ForceRemote() {
	m.coordinator.ForceRemote()
}

// Mode returns the current processing mode
func (m *Monitor) Mode() inference.Mode {
	return m.coordinator.Mode()
}

// StartCollection starts frame collection and periodic inference
func (m *Monitor) StartCollection() {
	m.syncBuffer()
	m.scheduler.StartCollection()
}

// StopCollection stops collection and discards pending results
func (m *Monitor) StopCollection() {
	m.scheduler.StopCollection()
}

// PushFrame appends a frame to the buffer
func (m *Monitor) PushFrame(frame landmarks.Frame) {
	m.scheduler.PushFrame(frame)
}

// Offer hands the latest detector output to the collector. nil means no face.
func (m *Monitor) Offer(frame landmarks.Frame) {
	m.scheduler.Offer(frame)
}

// SetVideo sets the video id and playback clock attached to predictions
func (m *Monitor) SetVideo(videoID string, clock func() float64) {
	m.coordinator.SetVideoContext(videoID, clock)
	if m.queue != nil {
		m.queue.SetVideoContext(videoID, clock)
	}
}

// OnResult registers a prediction observer
func (m *Monitor) OnResult(fn scheduler.ResultObserver) {
	m.scheduler.OnResult(fn)
}

// OnError registers an inference failure observer
func (m *Monitor) OnError(fn scheduler.ErrorObserver) {
	m.scheduler.OnError(fn)
}
