package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceStatus_Lifecycle(t *testing.T) {
	status := NewServiceStatus("inference-engine")
	require.NotNil(t, status)
	assert.Equal(t, "inference-engine", status.Name)
	assert.Equal(t, StatusStopped, status.GetStatus())
	assert.False(t, status.IsRunning())
	assert.Zero(t, status.GetUptime())

	status.SetStatus(StatusStarting)
	assert.Equal(t, StatusStarting, status.GetStatus())

	status.SetStatus(StatusRunning)
	assert.True(t, status.IsRunning())
	assert.False(t, status.StartedAt.IsZero())

	status.SetStatus(StatusStopped)
	assert.False(t, status.IsRunning())
	assert.Zero(t, status.GetUptime())
}

func TestServiceStatus_ErrorClearedOnRestart(t *testing.T) {
	status := NewServiceStatus("results-transmitter")

	status.SetError(errors.New("endpoint unreachable"))
	assert.Equal(t, StatusError, status.GetStatus())
	require.Error(t, status.GetError())
	assert.Equal(t, "endpoint unreachable", status.GetError().Error())

	status.SetStatus(StatusRunning)
	assert.NoError(t, status.GetError())
}

func TestServiceStatus_Uptime(t *testing.T) {
	status := NewServiceStatus("engagement-scheduler")
	status.SetStatus(StatusRunning)
	time.Sleep(50 * time.Millisecond)

	assert.GreaterOrEqual(t, status.GetUptime(), 50*time.Millisecond)

	// a repeated Running does not reset the start time
	started := status.StartedAt
	status.SetStatus(StatusRunning)
	assert.Equal(t, started, status.StartedAt)
}

func TestServiceStatus_ConcurrentAccess(t *testing.T) {
	status := NewServiceStatus("fallback-coordinator")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				status.SetStatus(StatusRunning)
				_ = status.IsRunning()
				_ = status.GetUptime()
				status.SetStatus(StatusStopped)
			}
		}()
	}
	wg.Wait()

	assert.NotEqual(t, StatusError, status.GetStatus())
}
