package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/service"
	"github.com/vzahanych/engagement-edge/internal/state"
)

// Transmitter uploads pending predictions with retry logic
type Transmitter struct {
	*service.ServiceBase
	queue        *Queue
	stateManager *state.Manager
	httpClient   *http.Client
	config       TransmitterConfig

	mu           sync.RWMutex
	transmitting bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// TransmitterConfig contains configuration for the transmitter
type TransmitterConfig struct {
	Endpoint             string // Empty disables upload
	BatchSize            int
	TransmissionInterval time.Duration
	MaxRetries           int
	Timeout              time.Duration
}

// ResultItem is one prediction in an upload batch
type ResultItem struct {
	ID         string                 `json:"id"`
	ModelID    string                 `json:"modelId"`
	Mode       string                 `json:"mode"`
	Score      float64                `json:"score"`
	ClassName  string                 `json:"className"`
	ClassIndex int                    `json:"classIndex"`
	VideoID    string                 `json:"videoId,omitempty"`
	VideoTime  float64                `json:"videoTime"`
	CreatedAt  time.Time              `json:"createdAt"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ResultBatch is the upload request body
type ResultBatch struct {
	Predictions []ResultItem `json:"predictions"`
}

// TransmissionStats contains transmission statistics
type TransmissionStats struct {
	Pending              int           `json:"pending"`
	MaxSize              int           `json:"max_size"`
	Transmitting         bool          `json:"transmitting"`
	Enabled              bool          `json:"enabled"`
	BatchSize            int           `json:"batch_size"`
	TransmissionInterval time.Duration `json:"transmission_interval"`
	MaxRetries           int           `json:"max_retries"`
}

// NewTransmitter creates a new prediction transmitter
func NewTransmitter(config TransmitterConfig, queue *Queue, stateManager *state.Manager, log *logger.Logger) *Transmitter {
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.TransmissionInterval == 0 {
		config.TransmissionInterval = 10 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &Transmitter{
		ServiceBase:  service.NewServiceBase("results-transmitter", log),
		queue:        queue,
		stateManager: stateManager,
		httpClient:   &http.Client{Timeout: config.Timeout},
		config:       config,
	}
}

// Start starts the transmission loop. Without an endpoint predictions stay in the local log.
func (t *Transmitter) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.transmitting {
		return nil
	}

	t.GetStatus().SetStatus(service.StatusRunning)

	if pending, err := t.queue.Size(ctx); err == nil {
		t.LogInfo("Recovered prediction queue", "pending_predictions", pending)
	}

	if t.config.Endpoint == "" {
		t.LogInfo("Result upload disabled, predictions are kept in the local log")
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.transmitting = true

	t.wg.Add(1)
	go t.transmissionLoop(loopCtx)

	t.LogInfo("Result transmitter started", "endpoint", t.config.Endpoint, "interval", t.config.TransmissionInterval)
	return nil
}

// Stop stops the transmission loop
func (t *Transmitter) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.transmitting {
		t.cancel()
		t.transmitting = false
	}
	t.mu.Unlock()

	t.wg.Wait()
	t.GetStatus().SetStatus(service.StatusStopped)
	t.LogInfo("Result transmitter stopped")
	return nil
}

func (t *Transmitter) transmissionLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.TransmissionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.processQueue(ctx); err != nil {
				t.LogError("Failed to process prediction queue", err)
			}
		}
	}
}

// processQueue uploads one batch of pending predictions
func (t *Transmitter) processQueue(ctx context.Context) error {
	records, err := t.queue.BatchDequeue(ctx, t.config.BatchSize, t.config.MaxRetries)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	t.LogDebug("Processing prediction batch", "count", len(records))

	if err := t.transmit(ctx, records); err != nil {
		t.LogError("Transmission failed, will retry", err, "prediction_count", len(records))

		for _, rec := range records {
			retries, retryErr := t.stateManager.IncrementPredictionRetry(ctx, rec.ID)
			if retryErr != nil {
				t.LogError("Failed to increment retry count", retryErr, "prediction_id", rec.ID)
				continue
			}
			if retries >= t.config.MaxRetries {
				t.LogError(
					"Prediction exceeded max retries, keeping it local only",
					fmt.Errorf("max retries exceeded: %d", retries),
					"prediction_id", rec.ID,
				)
			}
		}
		return err
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if err := t.stateManager.MarkPredictionsTransmitted(ctx, ids...); err != nil {
		return fmt.Errorf("failed to mark predictions transmitted: %w", err)
	}

	t.LogDebug("Prediction batch transmitted", "count", len(records))
	return nil
}

func (t *Transmitter) transmit(ctx context.Context, records []state.PredictionRecord) error {
	batch := ResultBatch{Predictions: make([]ResultItem, len(records))}
	for i, rec := range records {
		batch.Predictions[i] = ResultItem{
			ID:         rec.ID,
			ModelID:    rec.ModelID,
			Mode:       rec.Mode,
			Score:      rec.Score,
			ClassName:  rec.ClassName,
			ClassIndex: rec.ClassIndex,
			VideoID:    rec.VideoID,
			VideoTime:  rec.VideoTime,
			CreatedAt:  rec.CreatedAt,
			Metadata:   rec.Metadata,
		}
	}

	jsonData, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("results endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// TransmitNow forces immediate transmission of one batch
func (t *Transmitter) TransmitNow(ctx context.Context) error {
	if t.config.Endpoint == "" {
		return nil
	}
	return t.processQueue(ctx)
}

// GetTransmissionStats returns transmission statistics
func (t *Transmitter) GetTransmissionStats(ctx context.Context) (*TransmissionStats, error) {
	pending, err := t.queue.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue size: %w", err)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	return &TransmissionStats{
		Pending:              pending,
		MaxSize:              t.queue.MaxSize(),
		Transmitting:         t.transmitting,
		Enabled:              t.config.Endpoint != "",
		BatchSize:            t.config.BatchSize,
		TransmissionInterval: t.config.TransmissionInterval,
		MaxRetries:           t.config.MaxRetries,
	}, nil
}
