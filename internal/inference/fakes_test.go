package inference

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzahanych/engagement-edge/internal/landmarks"
	"github.com/vzahanych/engagement-edge/internal/loader"
	"github.com/vzahanych/engagement-edge/internal/models"
	"github.com/vzahanych/engagement-edge/internal/session"
)

// fakeSession answers every run with fixed values per output name
type fakeSession struct {
	filename    string
	outputNames []string
	values      map[string][]float32
	runErr      error
	panicMsg    string
	gate        chan struct{} // when set, Run waits for it to close
	started     chan struct{}
	startOnce   sync.Once
	closed      atomic.Bool
	runs        atomic.Int32
}

func (s *fakeSession) Run(input session.Tensor) ([]session.Tensor, error) {
	s.runs.Add(1)
	if s.started != nil {
		s.startOnce.Do(func() { close(s.started) })
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.runErr != nil {
		return nil, s.runErr
	}
	out := make([]session.Tensor, len(s.outputNames))
	for i, name := range s.outputNames {
		out[i] = session.Tensor{Name: name, Data: s.values[name]}
	}
	return out, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeLoader struct {
	mu        sync.Mutex
	calls     int32
	err       error
	delay     time.Duration
	sessions  []*fakeSession
	lastOpts  session.Options
	configure func(s *fakeSession)
}

func (l *fakeLoader) Load(ctx context.Context, filename string, opts session.Options) (*loader.Result, error) {
	atomic.AddInt32(&l.calls, 1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastOpts = opts
	if l.err != nil {
		return nil, l.err
	}

	s := &fakeSession{
		filename:    filename,
		outputNames: opts.OutputNames,
		values: map[string][]float32{
			"regression_output":   {0.7},
			"classification_head": {0.1, 0.2, 3.0, 0.3, 0.4},
			"output":              {0.3},
			"logits":              {0, 0, 0, 0, 5},
		},
	}
	if l.configure != nil {
		l.configure(s)
	}
	l.sessions = append(l.sessions, s)
	return &loader.Result{Session: s, Source: loader.SourceBlob, Location: "/models/" + filename}, nil
}

func (l *fakeLoader) session(i int) *fakeSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[i]
}

func (l *fakeLoader) count() int32 {
	return atomic.LoadInt32(&l.calls)
}

func newTestEngine(t interface{ Fatalf(string, ...interface{}) }, ml ModelLoader) *Engine {
	reg, err := models.NewRegistry(models.RegistryConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return NewEngine(Config{}, reg, ml, nil, nil)
}

// faceSequence builds n frames with the nose tip at the centre and the outer eye corners 0.1 to either side
func faceSequence(n int) []landmarks.Frame {
	out := make([]landmarks.Frame, n)
	for i := range out {
		f := make(landmarks.Frame, 478)
		for j := range f {
			f[j] = landmarks.Landmark{X: 0.5, Y: 0.5}
		}
		f[landmarks.LeftEyeOuterIndex] = landmarks.Landmark{X: 0.4, Y: 0.5}
		f[landmarks.RightEyeOuterIndex] = landmarks.Landmark{X: 0.6, Y: 0.5}
		out[i] = f
	}
	return out
}
