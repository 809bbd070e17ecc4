package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/engagement-edge/internal/config"
	"github.com/vzahanych/engagement-edge/internal/fallback"
	"github.com/vzahanych/engagement-edge/internal/inference"
	"github.com/vzahanych/engagement-edge/internal/models"
	"github.com/vzahanych/engagement-edge/internal/monitor"
	"github.com/vzahanych/engagement-edge/internal/scheduler"
	"github.com/vzahanych/engagement-edge/internal/state"
	"github.com/vzahanych/engagement-edge/internal/storage"
)

type staticSource monitor.Status

func (s staticSource) Status() monitor.Status { return monitor.Status(s) }

type fixedQueue struct {
	size int
	err  error
}

func (q fixedQueue) Size(ctx context.Context) (int, error) { return q.size, q.err }

func sampleStatus() staticSource {
	return staticSource{
		Model: inference.ModelInfo{
			Model:  models.Descriptor{ID: "v2"},
			Loaded: true,
		},
		Fallback:   fallback.Status{Mode: inference.ModeRemote, LocalErrorCount: 3, RemoteFailures: 1},
		Scheduler:  scheduler.Stats{Buffered: 12, Required: 30, Runs: 7},
		Inference:  inference.Stats{TotalPredictions: 5, FailedPredictions: 3, AverageLatencyMS: 4.5},
		Collecting: true,
	}
}

func TestCollector_Collect(t *testing.T) {
	cfg := &config.TelemetryConfig{Enabled: true, Interval: time.Hour}
	c := NewCollector(cfg, sampleStatus(), fixedQueue{size: 9}, storage.NewDiskMonitor(t.TempDir(), 90, nil), nil, nil)

	assert.Nil(t, c.GetLastMetrics())

	snap := c.Collect(context.Background())
	require.NotNil(t, snap)
	assert.Equal(t, "v2", snap.Pipeline.ModelID)
	assert.True(t, snap.Pipeline.ModelLoaded)
	assert.Equal(t, "remote", snap.Pipeline.Mode)
	assert.Equal(t, 3, snap.Pipeline.LocalErrorCount)
	assert.Equal(t, 12, snap.Pipeline.Buffered)
	assert.Equal(t, 30, snap.Pipeline.Required)
	assert.Equal(t, int64(5), snap.Pipeline.Predictions)
	assert.Equal(t, uint64(7), snap.Pipeline.ScheduledRuns)
	assert.Equal(t, 9, snap.Pipeline.PendingResults)
	assert.Greater(t, snap.System.Goroutines, 0)
	require.NotNil(t, snap.System.Disk)

	assert.Same(t, snap, c.GetLastMetrics())
}

func TestCollector_ToleratesSourceErrors(t *testing.T) {
	cfg := &config.TelemetryConfig{Enabled: true, Interval: time.Hour}
	c := NewCollector(cfg, sampleStatus(), fixedQueue{err: errors.New("db closed")}, storage.NewDiskMonitor("/does/not/exist", 90, nil), nil, nil)

	snap := c.Collect(context.Background())
	assert.Zero(t, snap.Pipeline.PendingResults)
	assert.Nil(t, snap.System.Disk)
}

func TestCollector_DeviceIDPersists(t *testing.T) {
	ctx := context.Background()
	store := state.NewTestManager(t)
	cfg := &config.TelemetryConfig{Enabled: true, Interval: time.Hour}

	first := NewCollector(cfg, sampleStatus(), nil, nil, store, nil)
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.Stop(ctx))

	id, err := store.GetSystemState(ctx, DeviceIDKey)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	second := NewCollector(cfg, sampleStatus(), nil, nil, store, nil)
	require.NoError(t, second.Start(ctx))
	defer second.Stop(ctx)

	require.Eventually(t, func() bool { return second.GetLastMetrics() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, id, second.GetLastMetrics().DeviceID)
}

func TestCollector_Disabled(t *testing.T) {
	ctx := context.Background()
	c := NewCollector(&config.TelemetryConfig{}, sampleStatus(), nil, nil, nil, nil)

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop(ctx))
	assert.Nil(t, c.GetLastMetrics())
}
