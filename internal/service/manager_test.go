package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService records its lifecycle calls into a shared journal
type fakeService struct {
	name      string
	startErr  error
	stopErr   error
	stopDelay time.Duration
	journal   *journal
	bus       *EventBus
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.journal.add("start:" + f.name)
	return nil
}

func (f *fakeService) Stop(ctx context.Context) error {
	time.Sleep(f.stopDelay)
	f.journal.add("stop:" + f.name)
	return f.stopErr
}

// eventedService also receives the bus
type eventedService struct {
	fakeService
}

func (e *eventedService) SetEventBus(bus *EventBus) { e.bus = bus }

func TestManager_RegisterCreatesStatus(t *testing.T) {
	mgr := NewManager(nil)
	require.NotNil(t, mgr.GetEventBus())
	assert.Zero(t, mgr.GetServiceCount())

	mgr.Register(&fakeService{name: "engagement-scheduler"})
	assert.Equal(t, 1, mgr.GetServiceCount())

	status := mgr.GetServiceStatus("engagement-scheduler")
	require.NotNil(t, status)
	assert.Equal(t, StatusStopped, status.GetStatus())
	assert.Nil(t, mgr.GetServiceStatus("camera-manager"))
}

func TestManager_RegisterWiresEventBus(t *testing.T) {
	mgr := NewManager(nil)
	svc := &eventedService{fakeService{name: "inference-engine"}}
	mgr.Register(svc)

	assert.Same(t, mgr.GetEventBus(), svc.bus)
}

func TestManager_StartAndShutdownOrder(t *testing.T) {
	mgr := NewManager(nil)
	j := &journal{}
	for _, name := range []string{"inference-engine", "engagement-monitor", "engagement-scheduler"} {
		mgr.Register(&fakeService{name: name, journal: j})
	}

	require.NoError(t, mgr.Start(context.Background()))
	for name, status := range mgr.GetAllStatuses() {
		assert.True(t, status.IsRunning(), name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mgr.Shutdown(ctx))

	assert.Equal(t, []string{
		"start:inference-engine",
		"start:engagement-monitor",
		"start:engagement-scheduler",
		"stop:engagement-scheduler",
		"stop:engagement-monitor",
		"stop:inference-engine",
	}, j.list())
	for name, status := range mgr.GetAllStatuses() {
		assert.Equal(t, StatusStopped, status.GetStatus(), name)
	}
}

func TestManager_StartFailureIsRecorded(t *testing.T) {
	mgr := NewManager(nil)
	j := &journal{}
	mgr.Register(&fakeService{name: "results-transmitter", startErr: errors.New("bad endpoint")})
	mgr.Register(&fakeService{name: "engagement-scheduler", journal: j})

	errs := mgr.GetEventBus().Subscribe(EventTypeServiceError)

	require.NoError(t, mgr.Start(context.Background()), "one failing service does not abort startup")

	failed := mgr.GetServiceStatus("results-transmitter")
	assert.Equal(t, StatusError, failed.GetStatus())
	assert.EqualError(t, failed.GetError(), "bad endpoint")
	assert.True(t, mgr.GetServiceStatus("engagement-scheduler").IsRunning())
	assert.Equal(t, []string{"start:engagement-scheduler"}, j.list())

	select {
	case ev := <-errs:
		assert.Equal(t, "results-transmitter", ev.Source)
	case <-time.After(time.Second):
		t.Fatal("expected a service error event")
	}
}

func TestManager_StopFailureIsRecorded(t *testing.T) {
	mgr := NewManager(nil)
	mgr.Register(&fakeService{name: "telemetry-collector", stopErr: errors.New("flush failed")})
	require.NoError(t, mgr.Start(context.Background()))

	require.NoError(t, mgr.Shutdown(context.Background()))
	assert.Equal(t, StatusError, mgr.GetServiceStatus("telemetry-collector").GetStatus())
}

func TestManager_ShutdownTimeout(t *testing.T) {
	mgr := NewManager(nil)
	mgr.stopTimeout = time.Minute
	mgr.Register(&fakeService{name: "inference-engine", stopDelay: 2 * time.Second})
	require.NoError(t, mgr.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, mgr.Shutdown(ctx), context.DeadlineExceeded)
}
