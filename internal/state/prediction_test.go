package state

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(id string, created time.Time) PredictionRecord {
	return PredictionRecord{
		ID:         id,
		ModelID:    "v1",
		Mode:       "local",
		Score:      0.7,
		ClassName:  "Engaged",
		ClassIndex: -1,
		VideoID:    "video-1",
		VideoTime:  12.5,
		Metadata:   map[string]interface{}{"latency_ms": 12.0},
		CreatedAt:  created,
	}
}

func TestSavePrediction_RoundTrip(t *testing.T) {
	mgr := NewTestManager(t)
	ctx := context.Background()

	rec := testRecord("p1", time.Now())
	require.NoError(t, mgr.SavePrediction(ctx, rec))

	pending, err := mgr.GetPendingPredictions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	got := pending[0]
	assert.Equal(t, "p1", got.ID)
	assert.Equal(t, "Engaged", got.ClassName)
	assert.InDelta(t, 0.7, got.Score, 1e-9)
	assert.Equal(t, "video-1", got.VideoID)
	assert.Equal(t, 12.0, got.Metadata["latency_ms"])
	assert.False(t, got.Transmitted)
}

func TestPendingPredictions_OrderAndTransmission(t *testing.T) {
	mgr := NewTestManager(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		require.NoError(t, mgr.SavePrediction(ctx, testRecord(fmt.Sprintf("p%d", i), base.Add(time.Duration(i)*time.Second))))
	}

	pending, err := mgr.GetPendingPredictions(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "p0", pending[0].ID)
	assert.Equal(t, "p1", pending[1].ID)

	require.NoError(t, mgr.MarkPredictionsTransmitted(ctx, "p0", "p1"))

	count, err := mgr.CountPendingPredictions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIncrementPredictionRetry_ExcludesExhausted(t *testing.T) {
	mgr := NewTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.SavePrediction(ctx, testRecord("p1", time.Now())))

	for i := 1; i <= 3; i++ {
		n, err := mgr.IncrementPredictionRetry(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	pending, err := mgr.GetPendingPredictions(ctx, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = mgr.IncrementPredictionRetry(ctx, "missing")
	assert.Error(t, err)
}

func TestListPredictions_Filters(t *testing.T) {
	mgr := NewTestManager(t)
	ctx := context.Background()

	a := testRecord("a", time.Now().Add(-2*time.Second))
	b := testRecord("b", time.Now().Add(-time.Second))
	b.VideoID = "video-2"
	b.ModelID = "v3"
	require.NoError(t, mgr.SavePrediction(ctx, a))
	require.NoError(t, mgr.SavePrediction(ctx, b))

	all, total, err := mgr.ListPredictions(ctx, ListPredictionsOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "b", all[0].ID, "newest first")

	byVideo, total, err := mgr.ListPredictions(ctx, ListPredictionsOptions{VideoID: "video-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "a", byVideo[0].ID)

	byModel, _, err := mgr.ListPredictions(ctx, ListPredictionsOptions{ModelID: "v3"})
	require.NoError(t, err)
	require.Len(t, byModel, 1)
	assert.Equal(t, "b", byModel[0].ID)
}

func TestCleanupOldPredictions(t *testing.T) {
	mgr := NewTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.SavePrediction(ctx, testRecord("old", time.Now())))
	require.NoError(t, mgr.SavePrediction(ctx, testRecord("pending", time.Now())))
	require.NoError(t, mgr.MarkPredictionsTransmitted(ctx, "old"))

	removed, err := mgr.CleanupOldPredictions(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err := mgr.CountPendingPredictions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
