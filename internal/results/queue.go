// Package results persists predictions and uploads them to the backend in batches.
package results

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/engagement-edge/internal/inference"
	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/state"
)

// Queue stores predictions in the prediction log until they are uploaded
type Queue struct {
	stateManager *state.Manager
	logger       *logger.Logger
	maxSize      int

	mu      sync.RWMutex
	videoID string
	clock   func() float64
}

// QueueConfig contains configuration for the prediction queue
type QueueConfig struct {
	StateManager *state.Manager
	MaxSize      int // Maximum pending predictions (0 = unlimited)
}

// NewQueue creates a new prediction queue
func NewQueue(config QueueConfig, log *logger.Logger) *Queue {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Queue{
		stateManager: config.StateManager,
		logger:       log,
		maxSize:      config.MaxSize,
	}
}

// SetVideoContext sets the video id and playback clock recorded with each prediction
func (q *Queue) SetVideoContext(videoID string, clock func() float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.videoID = videoID
	q.clock = clock
}

// Enqueue stores a prediction for upload
func (q *Queue) Enqueue(ctx context.Context, pred *inference.Prediction) error {
	if pred == nil {
		return fmt.Errorf("prediction is nil")
	}

	if q.maxSize > 0 {
		count, err := q.stateManager.CountPendingPredictions(ctx)
		if err != nil {
			return fmt.Errorf("failed to check queue size: %w", err)
		}
		if count >= q.maxSize {
			return fmt.Errorf("queue is full: %d/%d", count, q.maxSize)
		}
	}

	rec := q.toRecord(pred)
	if err := q.stateManager.SavePrediction(ctx, rec); err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}

	q.logger.Debug("Prediction enqueued", "prediction_id", rec.ID, "model_id", rec.ModelID)
	return nil
}

func (q *Queue) toRecord(pred *inference.Prediction) state.PredictionRecord {
	q.mu.RLock()
	videoID := q.videoID
	clock := q.clock
	q.mu.RUnlock()

	var videoTime float64
	if clock != nil {
		videoTime = clock()
	}

	metadata := map[string]interface{}{
		"latency_ms": pred.LatencyMS,
	}
	if head := pred.Classification; head != nil {
		metadata["head_class_index"] = head.ClassIndex
		metadata["head_class_name"] = head.ClassName
	}

	createdAt := pred.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return state.PredictionRecord{
		ID:         pred.ID,
		ModelID:    pred.ModelID,
		Mode:       string(pred.Mode),
		Score:      pred.Score,
		ClassName:  pred.ClassName,
		ClassIndex: pred.ClassIndex,
		VideoID:    videoID,
		VideoTime:  videoTime,
		Metadata:   metadata,
		CreatedAt:  createdAt,
	}
}

// BatchDequeue returns up to batchSize pending predictions that still have retries left
func (q *Queue) BatchDequeue(ctx context.Context, batchSize, maxRetries int) ([]state.PredictionRecord, error) {
	if batchSize <= 0 {
		batchSize = 20
	}
	pending, err := q.stateManager.GetPendingPredictions(ctx, batchSize, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending predictions: %w", err)
	}
	return pending, nil
}

// Size returns the number of predictions not yet uploaded
func (q *Queue) Size(ctx context.Context) (int, error) {
	return q.stateManager.CountPendingPredictions(ctx)
}

// MaxSize returns the configured limit
func (q *Queue) MaxSize() int {
	return q.maxSize
}
