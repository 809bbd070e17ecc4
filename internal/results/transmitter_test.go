package results

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/engagement-edge/internal/state"
)

func setupTransmitter(t *testing.T, endpoint string, maxRetries int) (*Transmitter, *Queue, *state.Manager) {
	t.Helper()
	mgr := state.NewTestManager(t)
	q := NewQueue(QueueConfig{StateManager: mgr}, nil)
	tr := NewTransmitter(TransmitterConfig{
		Endpoint:             endpoint,
		BatchSize:            10,
		TransmissionInterval: time.Hour,
		MaxRetries:           maxRetries,
		Timeout:              time.Second,
	}, q, mgr, nil)
	return tr, q, mgr
}

func enqueueN(t *testing.T, q *Queue, n int) {
	t.Helper()
	base := time.Now().Add(-time.Minute)
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(context.Background(), testPrediction(fmt.Sprintf("p-%d", i), base.Add(time.Duration(i)*time.Second))))
	}
}

func TestTransmitter_UploadsAndMarksBatch(t *testing.T) {
	batches := make(chan ResultBatch, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var batch ResultBatch
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		batches <- batch
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	tr, q, _ := setupTransmitter(t, server.URL, 3)
	enqueueN(t, q, 3)

	require.NoError(t, tr.TransmitNow(context.Background()))

	batch := <-batches
	require.Len(t, batch.Predictions, 3)
	assert.Equal(t, "p-0", batch.Predictions[0].ID)
	assert.Equal(t, "Engaged", batch.Predictions[0].ClassName)

	size, err := q.Size(context.Background())
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestTransmitter_FailureCountsRetriesUntilExhausted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	tr, q, _ := setupTransmitter(t, server.URL, 2)
	enqueueN(t, q, 2)
	ctx := context.Background()

	assert.Error(t, tr.TransmitNow(ctx))
	assert.Error(t, tr.TransmitNow(ctx))
	// both records are out of retries, nothing left to send
	assert.NoError(t, tr.TransmitNow(ctx))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	records, err := q.BatchDequeue(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, records)

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size, "exhausted records stay in the local log")
}

func TestTransmitter_DisabledWithoutEndpoint(t *testing.T) {
	tr, q, _ := setupTransmitter(t, "", 3)
	enqueueN(t, q, 1)

	ctx := context.Background()
	require.NoError(t, tr.Start(ctx))
	require.NoError(t, tr.TransmitNow(ctx))

	stats, err := tr.GetTransmissionStats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.Enabled)
	assert.False(t, stats.Transmitting)
	assert.Equal(t, 1, stats.Pending)

	require.NoError(t, tr.Stop(ctx))
}

func TestTransmitter_LoopUploadsOnInterval(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mgr := state.NewTestManager(t)
	q := NewQueue(QueueConfig{StateManager: mgr}, nil)
	tr := NewTransmitter(TransmitterConfig{
		Endpoint:             server.URL,
		TransmissionInterval: 10 * time.Millisecond,
	}, q, mgr, nil)
	enqueueN(t, q, 1)

	ctx := context.Background()
	require.NoError(t, tr.Start(ctx))
	require.Eventually(t, func() bool {
		n, err := q.Size(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, tr.Stop(ctx))

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}
