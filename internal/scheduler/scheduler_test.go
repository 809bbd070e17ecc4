package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/engagement-edge/internal/inference"
	"github.com/vzahanych/engagement-edge/internal/landmarks"
	"github.com/vzahanych/engagement-edge/internal/loader"
	"github.com/vzahanych/engagement-edge/internal/models"
	"github.com/vzahanych/engagement-edge/internal/service"
	"github.com/vzahanych/engagement-edge/internal/session"
)

type stubPredictor struct {
	mu    sync.Mutex
	calls int
	sizes []int
	gate  chan struct{}
	err   error
	score float64
}

func (p *stubPredictor) Predict(ctx context.Context, frames []landmarks.Frame) (*inference.Prediction, error) {
	p.mu.Lock()
	p.calls++
	p.sizes = append(p.sizes, len(frames))
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	idx, name, _ := inference.Classify(p.score)
	return &inference.Prediction{ID: "p", Score: p.score, ClassIndex: idx, ClassName: name, ModelID: "v1", Mode: inference.ModeLocal}, nil
}

func (p *stubPredictor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingSink struct {
	mu    sync.Mutex
	preds []*inference.Prediction
}

func (s *recordingSink) Enqueue(ctx context.Context, pred *inference.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preds = append(s.preds, pred)
	return nil
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.preds)
}

// idleConfig keeps the tickers from firing so tests drive ticks by hand
func idleConfig(seq int) Config {
	return Config{
		CollectionInterval: time.Hour,
		InferenceInterval:  time.Hour,
		SequenceLength:     seq,
		NumLandmarks:       4,
	}
}

func fill(s *Scheduler, n int) {
	for i := 0; i < n; i++ {
		s.PushFrame(tagged(i))
	}
}

func TestPushFrameIgnoredWhileStopped(t *testing.T) {
	s := New(idleConfig(3), &stubPredictor{}, nil, nil)
	s.PushFrame(tagged(1))
	assert.Equal(t, 0, s.Buffer().Len())

	s.StartCollection()
	defer s.StopCollection()
	s.PushFrame(tagged(1))
	assert.Equal(t, 1, s.Buffer().Len())
}

func TestStartStopCollectionIdempotent(t *testing.T) {
	s := New(idleConfig(3), &stubPredictor{}, nil, nil)

	s.StartCollection()
	s.StartCollection()
	assert.True(t, s.Collecting())
	epoch := s.Epoch()

	fill(s, 2)
	s.StopCollection()
	s.StopCollection()
	assert.False(t, s.Collecting())
	assert.Equal(t, epoch+1, s.Epoch())
	assert.Equal(t, 0, s.Buffer().Len(), "stopping clears the buffer")
}

func TestStopCollectionLeavesNoFramesFromConcurrentPushes(t *testing.T) {
	s := New(idleConfig(50), &stubPredictor{}, nil, nil)

	for round := 0; round < 20; round++ {
		s.StartCollection()

		var wg sync.WaitGroup
		done := make(chan struct{})
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for {
					select {
					case <-done:
						return
					default:
						s.PushFrame(tagged(w))
					}
				}
			}(w)
		}

		time.Sleep(time.Millisecond)
		s.StopCollection()
		close(done)
		wg.Wait()

		require.Equal(t, 0, s.Buffer().Len(), "round %d", round)
	}
}

func TestInferenceTickWaitsForFullBuffer(t *testing.T) {
	pred := &stubPredictor{score: 0.5}
	s := New(idleConfig(3), pred, nil, nil)
	s.StartCollection()
	defer s.StopCollection()

	fill(s, 2)
	s.InferenceTick(context.Background(), s.Epoch())

	assert.Equal(t, 0, pred.callCount())
	stats := s.GetStats()
	assert.Equal(t, uint64(1), stats.SkippedShort)
	assert.Equal(t, 2, stats.Buffered)
	assert.Equal(t, 3, stats.Required)
}

func TestInferenceTickDeliversResult(t *testing.T) {
	pred := &stubPredictor{score: 0.7}
	sink := &recordingSink{}
	s := New(idleConfig(3), pred, sink, nil)

	bus := service.NewEventBus(10)
	defer bus.Close()
	s.SetEventBus(bus)
	events := bus.Subscribe(service.EventTypeInference)

	got := make(chan *inference.Prediction, 1)
	s.OnResult(func(p *inference.Prediction) { got <- p })

	s.StartCollection()
	defer s.StopCollection()
	fill(s, 5)
	s.InferenceTick(context.Background(), s.Epoch())

	select {
	case p := <-got:
		assert.Equal(t, 0.7, p.Score)
		assert.Equal(t, "Engaged", p.ClassName)
	case <-time.After(2 * time.Second):
		t.Fatal("no prediction delivered")
	}

	select {
	case ev := <-events:
		assert.Equal(t, "v1", ev.Data["model_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no inference event")
	}

	require.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, 5*time.Millisecond)
	pred.mu.Lock()
	assert.Equal(t, []int{3}, pred.sizes, "predictor receives exactly the sequence length")
	pred.mu.Unlock()
}

func TestInferenceTickSkipsWhileBusy(t *testing.T) {
	pred := &stubPredictor{score: 0.5, gate: make(chan struct{})}
	s := New(idleConfig(2), pred, nil, nil)
	done := make(chan struct{}, 2)
	s.OnResult(func(*inference.Prediction) { done <- struct{}{} })

	s.StartCollection()
	defer s.StopCollection()
	fill(s, 2)

	s.InferenceTick(context.Background(), s.Epoch())
	require.Eventually(t, func() bool { return pred.callCount() == 1 }, time.Second, 5*time.Millisecond)

	s.InferenceTick(context.Background(), s.Epoch())
	assert.Equal(t, uint64(1), s.GetStats().SkippedBusy)

	close(pred.gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never finished")
	}
	assert.Equal(t, 1, pred.callCount())
}

func TestInferenceErrorNotifiesObservers(t *testing.T) {
	boom := errors.New("both paths failed")
	s := New(idleConfig(1), &stubPredictor{err: boom}, nil, nil)
	errs := make(chan error, 1)
	s.OnError(func(err error) { errs <- err })

	s.StartCollection()
	defer s.StopCollection()
	fill(s, 1)
	s.InferenceTick(context.Background(), s.Epoch())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}
	require.Eventually(t, func() bool { return s.GetStats().Failures == 1 }, time.Second, 5*time.Millisecond)
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	pred := &stubPredictor{score: 0.9, gate: make(chan struct{})}
	sink := &recordingSink{}
	s := New(idleConfig(2), pred, sink, nil)
	delivered := make(chan struct{}, 1)
	s.OnResult(func(*inference.Prediction) { delivered <- struct{}{} })

	s.StartCollection()
	fill(s, 2)
	s.InferenceTick(context.Background(), s.Epoch())
	require.Eventually(t, func() bool { return pred.callCount() == 1 }, time.Second, 5*time.Millisecond)

	s.StopCollection()
	close(pred.gate)

	require.Eventually(t, func() bool { return s.GetStats().Discarded == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, delivered, 0)
	assert.Equal(t, 0, sink.len())
}

func TestOfferLatestWins(t *testing.T) {
	s := New(idleConfig(5), &stubPredictor{}, nil, nil)
	s.StartCollection()
	defer s.StopCollection()

	s.Offer(tagged(1))
	s.Offer(tagged(2))
	s.Offer(tagged(3))
	s.collectTick()

	assert.Equal(t, []int{3}, tags(s.Buffer().Snapshot(5)))
	assert.Equal(t, uint64(2), s.GetStats().InboxDrops)
}

func TestCollectTickPushesPlaceholderWithoutFace(t *testing.T) {
	s := New(idleConfig(5), &stubPredictor{}, nil, nil)
	s.StartCollection()
	defer s.StopCollection()

	// nothing offered yet
	s.collectTick()
	// detector reported no face
	s.Offer(nil)
	s.collectTick()

	frames := s.Buffer().Snapshot(5)
	require.Len(t, frames, 2)
	for _, f := range frames {
		assert.True(t, f.IsPlaceholder())
		assert.Len(t, f, 4)
	}
	assert.Equal(t, uint64(2), s.GetStats().PlaceholderFrames)
}

func TestCollectTickRepeatsLatestFrameUntilStale(t *testing.T) {
	cfg := idleConfig(5)
	cfg.FrameTTL = 20 * time.Millisecond
	s := New(cfg, &stubPredictor{}, nil, nil)
	s.StartCollection()
	defer s.StopCollection()

	s.Offer(tagged(7))
	s.collectTick()
	s.collectTick()
	time.Sleep(40 * time.Millisecond)
	s.collectTick()

	frames := s.Buffer().Snapshot(5)
	require.Len(t, frames, 3)
	assert.Equal(t, 7.0, frames[0][0].X)
	assert.Equal(t, 7.0, frames[1][0].X)
	assert.True(t, frames[2].IsPlaceholder())
}

func TestSetSequenceLengthResizesBuffer(t *testing.T) {
	s := New(idleConfig(100), &stubPredictor{}, nil, nil)
	s.SetSequenceLength(30)
	assert.Equal(t, 30, s.Buffer().Cap())
}

func TestTickersDriveInference(t *testing.T) {
	pred := &stubPredictor{score: 0.3}
	s := New(Config{
		CollectionInterval: 2 * time.Millisecond,
		InferenceInterval:  10 * time.Millisecond,
		SequenceLength:     3,
		NumLandmarks:       4,
	}, pred, nil, nil)

	require.NoError(t, s.Start(context.Background()))
	s.StartCollection()
	require.Eventually(t, func() bool { return pred.callCount() > 0 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Collecting())
}

// modelLoader serves a session that mimics the dual-output v1 model
type modelLoader struct{}

type dualSession struct{}

func (dualSession) Run(input session.Tensor) ([]session.Tensor, error) {
	return []session.Tensor{
		{Name: "regression_output", Data: []float32{0.7}},
		{Name: "classification_head", Data: []float32{0, 0, 0, 1, 0}},
	}, nil
}

func (dualSession) Close() error { return nil }

func (modelLoader) Load(ctx context.Context, filename string, opts session.Options) (*loader.Result, error) {
	return &loader.Result{Session: dualSession{}, Source: loader.SourceBlob, Location: "/models/" + filename}, nil
}

func TestFullWindowProducesBucketedPrediction(t *testing.T) {
	reg, err := models.NewRegistry(models.RegistryConfig{}, nil, nil)
	require.NoError(t, err)
	engine := inference.NewEngine(inference.Config{}, reg, modelLoader{}, landmarks.NewPreprocessor(nil), nil)
	require.NoError(t, engine.Initialize(context.Background(), models.DefaultModelID))

	seq := engine.Info().Model.Input.SequenceLength
	s := New(Config{
		CollectionInterval: time.Hour,
		InferenceInterval:  time.Hour,
		SequenceLength:     seq,
		NumLandmarks:       478,
	}, engine, nil, nil)

	got := make(chan *inference.Prediction, 1)
	s.OnResult(func(p *inference.Prediction) { got <- p })
	s.StartCollection()
	defer s.StopCollection()

	for i := 0; i < seq; i++ {
		s.PushFrame(landmarks.PlaceholderFrame(478))
	}
	s.InferenceTick(context.Background(), s.Epoch())

	select {
	case p := <-got:
		assert.GreaterOrEqual(t, p.Score, 0.0)
		assert.LessOrEqual(t, p.Score, 1.0)
		assert.Equal(t, "Engaged", p.ClassName)
		assert.Equal(t, models.DefaultModelID, p.ModelID)
	case <-time.After(2 * time.Second):
		t.Fatal("no prediction")
	}
}
