// Package scheduler collects landmark frames at a fixed cadence and triggers
// inference on a separate one.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzahanych/engagement-edge/internal/inference"
	"github.com/vzahanych/engagement-edge/internal/landmarks"
	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/service"
)

// Predictor runs inference over a frame window
type Predictor interface {
	Predict(ctx context.Context, frames []landmarks.Frame) (*inference.Prediction, error)
}

// ResultSink receives every successful prediction for batched logging
type ResultSink interface {
	Enqueue(ctx context.Context, pred *inference.Prediction) error
}

// ResultObserver is notified of each prediction
type ResultObserver func(pred *inference.Prediction)

// ErrorObserver is notified of each failed inference tick
type ErrorObserver func(err error)

// Config contains scheduler settings
type Config struct {
	CollectionInterval time.Duration
	InferenceInterval  time.Duration
	SequenceLength     int           // Initial buffer capacity
	NumLandmarks       int           // Size of placeholder frames
	FrameTTL           time.Duration // Offered frames older than this are treated as "no face"
	AutoStart          bool          // Start collecting when the service starts
}

// Stats represents scheduler statistics
type Stats struct {
	Collecting        bool   `json:"collecting"`
	Buffered          int    `json:"buffered"`
	Required          int    `json:"required"`
	Ticks             uint64 `json:"ticks"`
	SkippedShort      uint64 `json:"skipped_short"`
	SkippedBusy       uint64 `json:"skipped_busy"`
	Runs              uint64 `json:"runs"`
	Failures          uint64 `json:"failures"`
	Discarded         uint64 `json:"discarded"`
	InboxDrops        uint64 `json:"inbox_drops"`
	PlaceholderFrames uint64 `json:"placeholder_frames"`
}

// Scheduler owns the frame buffer and the two tickers
type Scheduler struct {
	*service.ServiceBase

	cfg       Config
	buffer    *Buffer
	predictor Predictor
	sink      ResultSink

	mu         sync.RWMutex
	collecting bool
	epoch      uint64
	runCancel  context.CancelFunc

	obsMu    sync.RWMutex
	onResult []ResultObserver
	onError  []ErrorObserver

	// detector inbox, latest frame wins
	inboxMu    sync.Mutex
	inbox      landmarks.Frame
	inboxAt    time.Time
	inboxFresh bool

	inflight atomic.Bool
	wg       sync.WaitGroup

	ticks, skippedShort, skippedBusy, runs, failures, discarded, inboxDrops, placeholders atomic.Uint64
}

// New creates a scheduler. sink may be nil.
func New(cfg Config, predictor Predictor, sink ResultSink, log *logger.Logger) *Scheduler {
	if cfg.CollectionInterval <= 0 {
		cfg.CollectionInterval = time.Second / 15
	}
	if cfg.InferenceInterval <= 0 {
		cfg.InferenceInterval = 2 * time.Second
	}
	if cfg.SequenceLength <= 0 {
		cfg.SequenceLength = 100
	}
	if cfg.NumLandmarks <= 0 {
		cfg.NumLandmarks = 478
	}
	if cfg.FrameTTL <= 0 {
		cfg.FrameTTL = time.Second
	}

	return &Scheduler{
		ServiceBase: service.NewServiceBase("engagement-scheduler", log),
		cfg:         cfg,
		buffer:      NewBuffer(cfg.SequenceLength),
		predictor:   predictor,
		sink:        sink,
	}
}

// Start starts the service; collection begins only if configured to
func (s *Scheduler) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Scheduler started",
		"collection_interval", s.cfg.CollectionInterval,
		"inference_interval", s.cfg.InferenceInterval,
		"sequence_length", s.buffer.Cap(),
	)
	if s.cfg.AutoStart {
		s.StartCollection()
	}
	return nil
}

// Stop stops collection and waits for an in-flight tick to finish
func (s *Scheduler) Stop(ctx context.Context) error {
	s.StopCollection()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.LogWarn("Timed out waiting for in-flight inference")
	}

	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// OnResult registers a prediction observer
func (s *Scheduler) OnResult(fn ResultObserver) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.onResult = append(s.onResult, fn)
}

// OnError registers a failure observer
func (s *Scheduler) OnError(fn ErrorObserver) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.onError = append(s.onError, fn)
}

// StartCollection enables frame acceptance and both tickers. Calling it while
// collecting does nothing.
func (s *Scheduler) StartCollection() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collecting {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.collecting = true
	s.runCancel = cancel
	epoch := s.epoch

	s.wg.Add(2)
	go s.collectLoop(ctx)
	go s.inferenceLoop(ctx, epoch)

	s.LogInfo("Collection started", "sequence_length", s.buffer.Cap())
	s.PublishEvent(service.EventTypeCollectionStarted, map[string]interface{}{
		"sequence_length": s.buffer.Cap(),
	})
}

// StopCollection cancels both tickers and any in-flight remote request, clears
// the buffer, and makes results of a still-running tick be discarded.
func (s *Scheduler) StopCollection() {
	s.mu.Lock()
	if !s.collecting {
		s.mu.Unlock()
		return
	}
	s.collecting = false
	s.epoch++
	cancel := s.runCancel
	s.runCancel = nil
	s.buffer.Clear()
	s.mu.Unlock()

	cancel()
	s.resetInbox()

	s.LogInfo("Collection stopped")
	s.PublishEvent(service.EventTypeCollectionStopped, nil)
}

// Collecting reports whether frames are being accepted
func (s *Scheduler) Collecting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collecting
}

// PushFrame appends a frame directly to the buffer. Ignored while collection is stopped.
func (s *Scheduler) PushFrame(frame landmarks.Frame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.collecting {
		return
	}
	s.buffer.Push(frame)
}

// Offer hands the latest detector output to the collection ticker. A nil frame
// means no face was detected. Never blocks.
func (s *Scheduler) Offer(frame landmarks.Frame) {
	s.inboxMu.Lock()
	defer s.inboxMu.Unlock()

	if s.inboxFresh {
		s.inboxDrops.Add(1)
	}
	s.inbox = frame
	s.inboxAt = time.Now()
	s.inboxFresh = true
}

func (s *Scheduler) resetInbox() {
	s.inboxMu.Lock()
	defer s.inboxMu.Unlock()
	s.inbox = nil
	s.inboxAt = time.Time{}
	s.inboxFresh = false
}

// SetSequenceLength resizes the buffer to a model's sequence length
func (s *Scheduler) SetSequenceLength(n int) {
	s.buffer.SetCapacity(n)
	s.LogDebug("Buffer resized", "sequence_length", n)
}

// SetNumLandmarks changes the size of placeholder frames
func (s *Scheduler) SetNumLandmarks(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.NumLandmarks = n
}

// Buffer exposes the frame buffer for inspection
func (s *Scheduler) Buffer() *Buffer {
	return s.buffer
}

func (s *Scheduler) collectLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CollectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectTick()
		}
	}
}

// collectTick moves the latest offered frame into the buffer, or a placeholder
// when the detector reported no face or has gone quiet.
func (s *Scheduler) collectTick() {
	s.inboxMu.Lock()
	frame := s.inbox
	stale := s.inboxAt.IsZero() || time.Since(s.inboxAt) > s.cfg.FrameTTL
	s.inboxFresh = false
	s.inboxMu.Unlock()

	if len(frame) == 0 || stale {
		s.mu.RLock()
		n := s.cfg.NumLandmarks
		s.mu.RUnlock()
		frame = landmarks.PlaceholderFrame(n)
		s.placeholders.Add(1)
	}

	s.PushFrame(frame)
}

func (s *Scheduler) inferenceLoop(ctx context.Context, epoch uint64) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.InferenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.InferenceTick(ctx, epoch)
		}
	}
}

// InferenceTick runs one inference over the latest window if the buffer is full
// and no earlier tick is still running. The prediction runs in its own goroutine.
func (s *Scheduler) InferenceTick(ctx context.Context, epoch uint64) {
	s.ticks.Add(1)

	if !s.inflight.CompareAndSwap(false, true) {
		s.skippedBusy.Add(1)
		s.LogDebug("Skipping inference tick, previous tick still running")
		return
	}

	required := s.buffer.Cap()
	have := s.buffer.Len()
	if have < required {
		s.inflight.Store(false)
		s.skippedShort.Add(1)
		s.LogDebug("Waiting for frames", "have", have, "required", required)
		return
	}

	frames := s.buffer.Snapshot(required)
	s.runs.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inflight.Store(false)
		s.runPrediction(ctx, epoch, frames)
	}()
}

// Epoch identifies the current collection run
func (s *Scheduler) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

func (s *Scheduler) current(epoch uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collecting && s.epoch == epoch
}

func (s *Scheduler) runPrediction(ctx context.Context, epoch uint64, frames []landmarks.Frame) {
	pred, err := s.predictor.Predict(ctx, frames)

	if !s.current(epoch) {
		s.discarded.Add(1)
		s.LogDebug("Discarding result of stopped collection")
		return
	}

	if err != nil {
		s.failures.Add(1)
		s.PublishEvent(service.EventTypeInferenceError, map[string]interface{}{
			"error": err.Error(),
		})
		s.obsMu.RLock()
		observers := append([]ErrorObserver(nil), s.onError...)
		s.obsMu.RUnlock()
		for _, fn := range observers {
			fn(err)
		}
		return
	}
	if pred == nil {
		return
	}

	s.obsMu.RLock()
	observers := append([]ResultObserver(nil), s.onResult...)
	s.obsMu.RUnlock()
	for _, fn := range observers {
		fn(pred)
	}

	if s.sink != nil {
		if err := s.sink.Enqueue(ctx, pred); err != nil {
			s.LogWarn("Failed to queue prediction", "prediction_id", pred.ID, "error", err)
		}
	}

	s.PublishEvent(service.EventTypeInference, map[string]interface{}{
		"prediction_id": pred.ID,
		"model_id":      pred.ModelID,
		"mode":          string(pred.Mode),
		"score":         pred.Score,
		"class":         pred.ClassName,
	})
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	return Stats{
		Collecting:        s.Collecting(),
		Buffered:          s.buffer.Len(),
		Required:          s.buffer.Cap(),
		Ticks:             s.ticks.Load(),
		SkippedShort:      s.skippedShort.Load(),
		SkippedBusy:       s.skippedBusy.Load(),
		Runs:              s.runs.Load(),
		Failures:          s.failures.Load(),
		Discarded:         s.discarded.Load(),
		InboxDrops:        s.inboxDrops.Load(),
		PlaceholderFrames: s.placeholders.Load(),
	}
}
