package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vzahanych/engagement-edge/internal/landmarks"
	"github.com/vzahanych/engagement-edge/internal/loader"
	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/models"
	"github.com/vzahanych/engagement-edge/internal/service"
	"github.com/vzahanych/engagement-edge/internal/session"
)

// ModelLoader opens a session for a model artifact
type ModelLoader interface {
	Load(ctx context.Context, filename string, opts session.Options) (*loader.Result, error)
}

// Config contains engine settings
type Config struct {
	IntraOpThreads           int
	DisableGraphOptimization bool
	Profiling                bool
	WarmUp                   bool          // Load the active model when the service starts
	LoadTimeout              time.Duration // Bound for the warm-up load
}

// ModelInfo describes the active model and its session
type ModelInfo struct {
	Model     models.Descriptor `json:"model"`
	State     State             `json:"state"`
	Loaded    bool              `json:"loaded"`
	Source    loader.Source     `json:"source,omitempty"`
	Location  string            `json:"location,omitempty"`
	LoadedAt  *time.Time        `json:"loadedAt,omitempty"`
	LastError string            `json:"lastError,omitempty"`
}

// handle is one loaded session. It is closed only after the runs started on it finish.
type handle struct {
	session    session.Session
	descriptor models.Descriptor
	generation uint64
	source     loader.Source
	location   string
	loadedAt   time.Time
	inflight   sync.WaitGroup
}

// Engine owns the loaded model session and runs predictions on it
type Engine struct {
	*service.ServiceBase

	cfg      Config
	registry *models.Registry
	loader   ModelLoader
	pre      *landmarks.Preprocessor

	group singleflight.Group

	mu      sync.RWMutex
	state   State
	current *handle
	lastErr error

	totalPredictions  int64
	failedPredictions int64
	totalLatencyNanos int64
	loads             int64
	loadFailures      int64
}

// NewEngine creates an inference engine
func NewEngine(cfg Config, registry *models.Registry, ml ModelLoader, pre *landmarks.Preprocessor, log *logger.Logger) *Engine {
	if pre == nil {
		pre = landmarks.NewPreprocessor(log)
	}
	if cfg.LoadTimeout == 0 {
		cfg.LoadTimeout = time.Minute
	}
	return &Engine{
		ServiceBase: service.NewServiceBase("inference-engine", log),
		cfg:         cfg,
		registry:    registry,
		loader:      ml,
		pre:         pre,
		state:       StateUnloaded,
	}
}

// Start restores the persisted model choice and optionally warms up the session.
// A failed warm-up leaves the engine unloaded; predictions retry lazily.
func (e *Engine) Start(ctx context.Context) error {
	e.GetStatus().SetStatus(service.StatusStarting)
	e.registry.Restore(ctx)

	if e.cfg.WarmUp {
		loadCtx, cancel := context.WithTimeout(ctx, e.cfg.LoadTimeout)
		defer cancel()
		if err := e.Initialize(loadCtx, ""); err != nil {
			e.LogWarn("Model warm-up failed, will retry on first prediction", "error", err)
		}
	}

	e.GetStatus().SetStatus(service.StatusRunning)
	e.LogInfo("Inference engine started", "model_id", e.registry.Active().ID, "state", e.State())
	return nil
}

// Stop releases the session
func (e *Engine) Stop(ctx context.Context) error {
	err := e.Close()
	e.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// Registry returns the model registry the engine reads from
func (e *Engine) Registry() *models.Registry {
	return e.registry
}

// Initialize loads a session for the active model. A non-empty modelID is made
// active first. Concurrent calls share a single load.
func (e *Engine) Initialize(ctx context.Context, modelID string) error {
	if modelID != "" {
		if err := e.registry.SetActive(ctx, modelID); err != nil {
			return err
		}
	}
	return e.load(ctx)
}

func (e *Engine) load(ctx context.Context) error {
	_, err, _ := e.group.Do("load", func() (interface{}, error) {
		desc, gen := e.registry.Snapshot()

		e.mu.Lock()
		if e.current != nil && e.current.generation == gen {
			e.mu.Unlock()
			return nil, nil
		}
		old := e.current
		e.current = nil
		e.state = StateLoading
		e.mu.Unlock()
		e.retire(old)

		e.LogInfo("Loading model", "model_id", desc.ID, "filename", desc.Filename)

		res, err := e.loader.Load(ctx, desc.Filename, e.sessionOptions(desc))
		if err != nil {
			atomic.AddInt64(&e.loadFailures, 1)
			e.mu.Lock()
			e.state = StateUnloaded
			e.lastErr = err
			e.mu.Unlock()

			e.LogError("Model load failed", err, "model_id", desc.ID)
			e.PublishEvent(service.EventTypeModelFailed, map[string]interface{}{
				"model_id": desc.ID,
				"error":    err.Error(),
			})
			return nil, err
		}

		h := &handle{
			session:    res.Session,
			descriptor: desc,
			generation: gen,
			source:     res.Source,
			location:   res.Location,
			loadedAt:   time.Now(),
		}

		atomic.AddInt64(&e.loads, 1)
		e.mu.Lock()
		e.current = h
		e.state = StateReady
		e.lastErr = nil
		e.mu.Unlock()

		e.LogInfo("Model ready", "model_id", desc.ID, "source", res.Source, "location", res.Location)
		e.PublishEvent(service.EventTypeModelLoaded, map[string]interface{}{
			"model_id": desc.ID,
			"source":   string(res.Source),
			"location": res.Location,
		})
		return nil, nil
	})
	return err
}

func (e *Engine) sessionOptions(desc models.Descriptor) session.Options {
	return session.Options{
		InputName:         desc.Input.TensorName,
		OutputNames:       desc.Output.Names(),
		GraphOptimization: !e.cfg.DisableGraphOptimization,
		Profiling:         e.cfg.Profiling,
		IntraOpThreads:    e.cfg.IntraOpThreads,
	}
}

// IsReady reports whether a session for the active model is loaded
func (e *Engine) IsReady() bool {
	gen := e.registry.Generation()
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current != nil && e.current.generation == gen
}

// State returns the lifecycle state
func (e *Engine) State() State {
	gen := e.registry.Generation()
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == StateReady && (e.current == nil || e.current.generation != gen) {
		return StateUnloaded
	}
	return e.state
}

// Info describes the active model and the loaded session, if any
func (e *Engine) Info() ModelInfo {
	desc, gen := e.registry.Snapshot()

	e.mu.RLock()
	defer e.mu.RUnlock()

	info := ModelInfo{Model: desc, State: e.state}
	if h := e.current; h != nil && h.generation == gen {
		loadedAt := h.loadedAt
		info.Loaded = true
		info.Source = h.source
		info.Location = h.location
		info.LoadedAt = &loadedAt
	} else if info.State == StateReady {
		info.State = StateUnloaded
	}
	if e.lastErr != nil {
		info.LastError = e.lastErr.Error()
	}
	return info
}

// Predict runs one inference over frames with the active model. When no session
// is loaded, or the loaded one belongs to a previously active model, a load is
// attempted first. The result carries the id of the model that produced it.
func (e *Engine) Predict(ctx context.Context, frames []landmarks.Frame) (*Prediction, error) {
	start := time.Now()

	h, err := e.acquire(ctx)
	if err != nil {
		atomic.AddInt64(&e.failedPredictions, 1)
		return nil, err
	}
	defer h.inflight.Done()

	pred, err := e.run(h, frames)
	if err != nil {
		atomic.AddInt64(&e.failedPredictions, 1)
		e.LogWarn("Prediction failed", "model_id", h.descriptor.ID, "error", err)
		return nil, err
	}

	latency := time.Since(start)
	pred.ID = uuid.NewString()
	pred.ModelID = h.descriptor.ID
	pred.Mode = ModeLocal
	pred.CreatedAt = time.Now()
	pred.LatencyMS = float64(latency.Microseconds()) / 1000

	atomic.AddInt64(&e.totalPredictions, 1)
	atomic.AddInt64(&e.totalLatencyNanos, int64(latency))

	e.LogDebug("Prediction", "model_id", pred.ModelID, "score", pred.Score, "class", pred.ClassName, "latency", latency)
	return pred, nil
}

// acquire returns the current handle with its in-flight counter raised
func (e *Engine) acquire(ctx context.Context) (*handle, error) {
	gen := e.registry.Generation()

	e.mu.RLock()
	h := e.current
	if h != nil && h.generation == gen {
		h.inflight.Add(1)
		e.mu.RUnlock()
		return h, nil
	}
	e.mu.RUnlock()

	if h != nil {
		e.LogInfo("Discarding stale session", "model_id", h.descriptor.ID)
		e.discard(h)
	}

	if err := e.load(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return nil, ErrNotReady
	}
	e.current.inflight.Add(1)
	return e.current, nil
}

func (e *Engine) run(h *handle, frames []landmarks.Frame) (pred *Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			pred = nil
			err = fmt.Errorf("inference panicked: %v", r)
		}
	}()

	in := h.descriptor.Input
	data, err := e.pre.Build(frames, in)
	if err != nil {
		return nil, fmt.Errorf("preprocessing failed: %w", err)
	}

	tensor, err := session.NewTensor(in.TensorName, in.TensorShape, data)
	if err != nil {
		return nil, err
	}

	outputs, err := h.session.Run(tensor)
	if err != nil {
		return nil, err
	}

	return Decode(h.descriptor.Output, outputs)
}

// SwitchModel makes id active and drops the loaded session. An unknown id
// leaves both the active model and the session untouched.
func (e *Engine) SwitchModel(ctx context.Context, id string) error {
	previous := e.registry.Active().ID
	if err := e.registry.SetActive(ctx, id); err != nil {
		return err
	}

	e.mu.RLock()
	h := e.current
	e.mu.RUnlock()
	e.discard(h)

	e.PublishEvent(service.EventTypeModelSwitched, map[string]interface{}{
		"model_id": id,
		"previous": previous,
	})
	return nil
}

// Reload drops the session and loads the active model again
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.RLock()
	h := e.current
	e.mu.RUnlock()
	e.discard(h)

	return e.load(ctx)
}

// Close drops the session
func (e *Engine) Close() error {
	e.mu.RLock()
	h := e.current
	e.mu.RUnlock()
	e.discard(h)
	return nil
}

// discard detaches h if it is still current and closes it once idle
func (e *Engine) discard(h *handle) {
	if h == nil {
		return
	}
	e.mu.Lock()
	if e.current != h {
		e.mu.Unlock()
		return
	}
	e.current = nil
	if e.state == StateReady {
		e.state = StateUnloaded
	}
	e.mu.Unlock()
	e.retire(h)
}

// retire closes a detached session after its in-flight runs complete
func (e *Engine) retire(h *handle) {
	if h == nil {
		return
	}
	go func() {
		h.inflight.Wait()
		if err := h.session.Close(); err != nil {
			e.LogWarn("Failed to close session", "model_id", h.descriptor.ID, "error", err)
		}
	}()
}

// GetStats returns inference statistics
func (e *Engine) GetStats() Stats {
	total := atomic.LoadInt64(&e.totalPredictions)
	stats := Stats{
		TotalPredictions:  total,
		FailedPredictions: atomic.LoadInt64(&e.failedPredictions),
		Loads:             atomic.LoadInt64(&e.loads),
		LoadFailures:      atomic.LoadInt64(&e.loadFailures),
	}
	if total > 0 {
		stats.AverageLatencyMS = float64(atomic.LoadInt64(&e.totalLatencyNanos)) / float64(total) / float64(time.Millisecond)
	}
	return stats
}

// IsUnavailable reports whether err means no model could be loaded
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrNotReady) || errors.Is(err, loader.ErrModelUnavailable)
}
