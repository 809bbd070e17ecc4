package telemetry

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/engagement-edge/internal/config"
	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/monitor"
	"github.com/vzahanych/engagement-edge/internal/service"
	"github.com/vzahanych/engagement-edge/internal/storage"
)

// DeviceIDKey is the system_state key holding the device identifier
const DeviceIDKey = "telemetry.device_id"

// StatusSource reports the engagement pipeline status
type StatusSource interface {
	Status() monitor.Status
}

// QueueSizer reports how many predictions await upload
type QueueSizer interface {
	Size(ctx context.Context) (int, error)
}

// DiskUsageSource reports data volume usage
type DiskUsageSource interface {
	GetUsage(ctx context.Context) (*storage.DiskUsage, error)
}

// StateStore persists the device identifier
type StateStore interface {
	GetSystemState(ctx context.Context, key string) (string, error)
	SaveSystemState(ctx context.Context, key, value string) error
}

// Snapshot is one telemetry sample
type Snapshot struct {
	Timestamp time.Time       `json:"timestamp"`
	DeviceID  string          `json:"device_id"`
	System    SystemMetrics   `json:"system"`
	Pipeline  PipelineMetrics `json:"pipeline"`
}

// SystemMetrics describes the process and its data volume
type SystemMetrics struct {
	Goroutines     int                `json:"goroutines"`
	HeapAllocBytes uint64             `json:"heap_alloc_bytes"`
	SysBytes       uint64             `json:"sys_bytes"`
	NumGC          uint32             `json:"num_gc"`
	Disk           *storage.DiskUsage `json:"disk,omitempty"`
}

// PipelineMetrics describes the inference pipeline
type PipelineMetrics struct {
	ModelID           string  `json:"model_id"`
	ModelLoaded       bool    `json:"model_loaded"`
	Mode              string  `json:"mode"`
	LocalErrorCount   int     `json:"local_error_count"`
	RemoteFailures    int     `json:"remote_failures"`
	Collecting        bool    `json:"collecting"`
	Buffered          int     `json:"buffered"`
	Required          int     `json:"required"`
	Predictions       int64   `json:"predictions"`
	FailedPredictions int64   `json:"failed_predictions"`
	AverageLatencyMS  float64 `json:"average_latency_ms"`
	ScheduledRuns     uint64  `json:"scheduled_runs"`
	PendingResults    int     `json:"pending_results"`
}

// Collector samples pipeline and process metrics on an interval
type Collector struct {
	*service.ServiceBase
	config *config.TelemetryConfig
	source StatusSource
	queue  QueueSizer
	disk   DiskUsageSource
	store  StateStore

	mu          sync.RWMutex
	deviceID    string
	lastMetrics *Snapshot
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewCollector creates a telemetry collector. queue, disk and store may be nil.
func NewCollector(cfg *config.TelemetryConfig, source StatusSource, queue QueueSizer, disk DiskUsageSource, store StateStore, log *logger.Logger) *Collector {
	return &Collector{
		ServiceBase: service.NewServiceBase("telemetry-collector", log),
		config:      cfg,
		source:      source,
		queue:       queue,
		disk:        disk,
		store:       store,
	}
}

// Start resolves the device id and starts sampling
func (c *Collector) Start(ctx context.Context) error {
	c.GetStatus().SetStatus(service.StatusRunning)

	if !c.config.Enabled {
		c.LogInfo("Telemetry collection is disabled")
		return nil
	}

	id, err := c.resolveDeviceID(ctx)
	if err != nil {
		c.LogWarn("Failed to persist device id", "error", err)
	}
	c.mu.Lock()
	c.deviceID = id
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop(runCtx)

	c.LogInfo("Telemetry collector started", "device_id", id, "interval", c.config.Interval)
	return nil
}

// Stop stops sampling
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()

	c.LogInfo("Telemetry collector stopped")
	c.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		snap := c.Collect(ctx)
		c.LogDebug("Telemetry sample",
			"model_id", snap.Pipeline.ModelID,
			"mode", snap.Pipeline.Mode,
			"predictions", snap.Pipeline.Predictions,
			"pending_results", snap.Pipeline.PendingResults,
			"heap_alloc_bytes", snap.System.HeapAllocBytes,
		)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// resolveDeviceID loads the stored device id or creates one
func (c *Collector) resolveDeviceID(ctx context.Context) (string, error) {
	if c.store == nil {
		return uuid.NewString(), nil
	}
	id, err := c.store.GetSystemState(ctx, DeviceIDKey)
	if err == nil && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := c.store.SaveSystemState(ctx, DeviceIDKey, id); err != nil {
		return id, err
	}
	return id, nil
}

// Collect takes one sample and keeps it as the last one
func (c *Collector) Collect(ctx context.Context) *Snapshot {
	c.mu.RLock()
	deviceID := c.deviceID
	c.mu.RUnlock()

	snap := &Snapshot{
		Timestamp: time.Now(),
		DeviceID:  deviceID,
		System:    c.collectSystemMetrics(ctx),
		Pipeline:  c.collectPipelineMetrics(ctx),
	}

	c.mu.Lock()
	c.lastMetrics = snap
	c.mu.Unlock()

	return snap
}

// GetLastMetrics returns the last sample, or nil before the first one
func (c *Collector) GetLastMetrics() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMetrics
}

func (c *Collector) collectSystemMetrics(ctx context.Context) SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	metrics := SystemMetrics{
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: m.HeapAlloc,
		SysBytes:       m.Sys,
		NumGC:          m.NumGC,
	}

	if c.disk != nil {
		usage, err := c.disk.GetUsage(ctx)
		if err != nil {
			c.LogWarn("Failed to collect disk usage", "error", err)
		} else {
			metrics.Disk = usage
		}
	}
	return metrics
}

func (c *Collector) collectPipelineMetrics(ctx context.Context) PipelineMetrics {
	st := c.source.Status()

	metrics := PipelineMetrics{
		ModelID:           st.Model.Model.ID,
		ModelLoaded:       st.Model.Loaded,
		Mode:              string(st.Fallback.Mode),
		LocalErrorCount:   st.Fallback.LocalErrorCount,
		RemoteFailures:    st.Fallback.RemoteFailures,
		Collecting:        st.Collecting,
		Buffered:          st.Scheduler.Buffered,
		Required:          st.Scheduler.Required,
		Predictions:       st.Inference.TotalPredictions,
		FailedPredictions: st.Inference.FailedPredictions,
		AverageLatencyMS:  st.Inference.AverageLatencyMS,
		ScheduledRuns:     st.Scheduler.Runs,
	}

	if c.queue != nil {
		size, err := c.queue.Size(ctx)
		if err != nil {
			c.LogWarn("Failed to collect result queue size", "error", err)
		} else {
			metrics.PendingResults = size
		}
	}
	return metrics
}
